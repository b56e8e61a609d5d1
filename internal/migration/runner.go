package migration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kinetiqhq/kinetiq/backend/internal/database"
	"github.com/sirupsen/logrus"
)

type Runner struct {
	dbManager *database.Manager
	logger    *logrus.Logger
}

func NewRunner(dbManager *database.Manager, logger *logrus.Logger) *Runner {
	return &Runner{
		dbManager: dbManager,
		logger:    logger,
	}
}

// RunMigrations runs GORM auto-migration for the sentiment schema, then any
// SQL files in migrationsPath in lexical order.
func (r *Runner) RunMigrations(migrationsPath string) error {
	r.logger.Info("Starting database migrations...")

	if err := r.dbManager.Migrate(); err != nil {
		return fmt.Errorf("GORM auto-migration failed: %w", err)
	}

	if err := r.runSQLMigrations(migrationsPath); err != nil {
		return fmt.Errorf("SQL migrations failed: %w", err)
	}

	r.logger.Info("Database migrations completed successfully")
	return nil
}

func (r *Runner) runSQLMigrations(migrationsPath string) error {
	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.WithField("path", migrationsPath).Debug("No migrations directory, skipping SQL migrations")
			return nil
		}
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}

	sort.Strings(sqlFiles) // Ensure migrations run in order

	for _, fileName := range sqlFiles {
		if err := r.runSQLFile(filepath.Join(migrationsPath, fileName)); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", fileName, err)
		}
		r.logger.WithField("file", fileName).Info("Migration executed successfully")
	}

	return nil
}

func (r *Runner) runSQLFile(filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	sqlContent := string(content)

	// Dollar-quoted function bodies cannot be split on semicolons; execute
	// those files as a single statement.
	if strings.Contains(sqlContent, "$") {
		if err := r.dbManager.DB.Exec(stripComments(sqlContent)).Error; err != nil {
			return fmt.Errorf("failed to execute %s: %w", filepath.Base(filePath), err)
		}
		return nil
	}

	for i, stmt := range splitStatements(sqlContent) {
		if err := r.dbManager.DB.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, filepath.Base(filePath), err)
		}
	}

	return nil
}

func stripComments(sql string) string {
	var result []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}

func splitStatements(sql string) []string {
	var cleaned []string
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			cleaned = append(cleaned, line)
		}
	}

	var result []string
	for _, stmt := range strings.Split(strings.Join(cleaned, " "), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}
