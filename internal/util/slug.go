// Package util provides small normalization helpers shared by services and the store.
package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	nonAlphanumericRe = regexp.MustCompile(`[^a-z0-9]+`)
	isbnSeparatorRe   = regexp.MustCompile(`[\s-]+`)
)

// Slugify converts a category name to its identity slug.
//
//	"Non-Fiction"     → "non-fiction"
//	"Science & Tech"  → "science-tech"
//	"Biografía"       → "biografia"
//	"  --History-- "  → "history"
func Slugify(input string) string {
	// Decompose accented characters, then drop the combining marks.
	s := norm.NFKD.String(input)
	s = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, s)

	s = strings.ToLower(s)
	s = nonAlphanumericRe.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// NormalizeISBN strips hyphens and whitespace and uppercases the check digit,
// so "978-0-7432-7356-5" and "9780743273565" compare equal. Empty stays empty.
func NormalizeISBN(isbn string) string {
	return strings.ToUpper(isbnSeparatorRe.ReplaceAllString(strings.TrimSpace(isbn), ""))
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
