package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail trims, composes and case-folds an address so equal
// mailboxes compare equal. Blank input yields "".
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	// NFC first so "é" and "e"+combining acute fold to the same bytes
	return cases.Fold().String(norm.NFC.String(email))
}

// HashEmail returns the lowercase hex SHA-256 of the normalized address, or
// nil when email is nil or blank.
func HashEmail(email *string) *string {
	if email == nil {
		return nil
	}
	normalized := NormalizeEmail(*email)
	if normalized == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(normalized))
	h := hex.EncodeToString(sum[:])
	return &h
}
