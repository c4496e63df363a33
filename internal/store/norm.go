package store

import (
	"strings"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

// Normalize trims surrounding whitespace and case-folds a raw value. Every
// comparison against the whitelist (add, remove, contains, import) goes
// through this exact function.
func Normalize(raw string) string {
	return fold.String(strings.TrimSpace(raw))
}
