// Package idgen generates identifiers for sessions, tasks and nonces.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// New returns a random UUIDv4 string.
func New() string {
	return uuid.NewString()
}

// TaskID returns "<unix-millis>-<4 hex chars>". IDs sort roughly by
// creation time and stay short enough to read aloud.
func TaskID(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), Hex(2))
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
