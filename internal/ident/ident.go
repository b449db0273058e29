// Package ident defines the identifiers used throughout crashvault:
// content hashes (the primary identity of artifacts and dumps) and
// operation tokens (per-upload staging namespaces).
package ident

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// HashLength is the length of a rendered content hash: a 160-bit digest
// as lowercase hex.
const HashLength = 40

// ValidHash reports whether s is a well-formed content hash: exactly 40
// characters, each a hex digit (case-insensitive). It performs no I/O and
// is used as a precondition gate before any staging or catalog write.
func ValidHash(s string) bool {
	if len(s) != HashLength {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// NormalizeHash lowercases a hash so equal content always maps to the
// same catalog key and staging path.
func NormalizeHash(s string) string {
	return strings.ToLower(s)
}

// NewOperationToken mints a random 128-bit token, hex-rendered without
// dashes. It namespaces one upload's staging area and lets the client
// refer to the operation later. It is not a security credential.
func NewOperationToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
