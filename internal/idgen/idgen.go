// Package idgen generates identifiers for requests and transactions.
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

// RequestID returns a request correlation id. A time-ordered UUIDv7 keeps
// ids sortable in logs; it falls back to v4 if the clock source fails.
func RequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// TransactionID returns TXN-<unix seconds>-<4 hex>. The suffix keeps ids
// unique when several transactions land in the same second.
func TransactionID(at time.Time) string {
	return fmt.Sprintf("TXN-%d-%s", at.Unix(), Hex(2))
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
