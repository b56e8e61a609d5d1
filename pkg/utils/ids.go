package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh UUID for config, prediction and feedback rows.
func NewID() string {
	return uuid.NewString()
}

// NewTrainingBatchID returns a date-stamped training batch identifier.
func NewTrainingBatchID() string {
	return fmt.Sprintf("batch-%s-%s", time.Now().UTC().Format("20060102"), GenerateRandomID(8))
}

// GenerateRandomID generates a random hex ID
func GenerateRandomID(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)[:length]
}
