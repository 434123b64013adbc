// Package redact renders phone numbers for logs without disclosing them.
package redact

import (
	"encoding/hex"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/and161185/recipient-keeper/internal/model"
)

// Phone keeps the last two digits and appends a short BLAKE2b tag so equal numbers correlate in logs.
func Phone(e string) string {
	if e == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(e))
	tail := e
	if len(tail) > 2 {
		tail = tail[len(tail)-2:]
	}
	return "***" + tail + "#" + hex.EncodeToString(sum[:4])
}

// E164 is Phone for an optional number; nil renders as "none".
func E164(e *model.E164) string {
	if e == nil {
		return "none"
	}
	return Phone(string(*e))
}

// Field is a zap field carrying the redacted number.
func Field(key string, e *model.E164) zap.Field {
	return zap.String(key, E164(e))
}
