// Package util provides small string helpers shared across sonder.
package util

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
	"unicode/utf8"
)

var schemeRe = regexp.MustCompile(`(?i)^https?://`)

// EnsureScheme prefixes a bare link with https://. Empty input stays empty.
func EnsureScheme(link string) string {
	link = strings.TrimSpace(link)
	if link == "" || schemeRe.MatchString(link) {
		return link
	}
	return "https://" + link
}

// Truncate cuts s to max runes and appends "..." when anything was removed.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomBase36 returns n random characters from [0-9a-z].
func RandomBase36(n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(base36)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms
			panic(err)
		}
		b.WriteByte(base36[idx.Int64()])
	}
	return b.String()
}

// FirstNonEmpty returns the first argument that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
