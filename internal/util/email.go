package util

import (
	"strings"

	"golang.org/x/text/cases"
)

var emailFolder = cases.Fold()

// CanonicalEmail normalizes an email address for use as the system-wide
// identity key: trimmed and Unicode case-folded. Two addresses refer to the
// same member iff their canonical forms are equal.
func CanonicalEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// SameEmail reports whether two addresses identify the same member.
func SameEmail(a, b string) bool {
	return CanonicalEmail(a) == CanonicalEmail(b)
}
