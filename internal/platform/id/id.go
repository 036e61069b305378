// Package id generates compact identifiers for persisted records.
package id

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a 26-character lowercase base32 identifier backed by a
// random UUIDv4, safe for use in URLs and SQLite primary keys.
func NewID() string {
	value := uuid.New()
	return strings.ToLower(encoding.EncodeToString(value[:]))
}
