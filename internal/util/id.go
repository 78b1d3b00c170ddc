package util

import (
	"crypto/rand"
	"strings"
	"unicode"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// maxSlugLen bounds the title part of task file names.
const maxSlugLen = 48

// GenerateShortID returns a 6-character lowercase alphanumeric string using
// cryptographic randomness. Lowercase keeps IDs safe on case-insensitive
// filesystems.
func GenerateShortID() (string, error) {
	bytes := make([]byte, 6)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}

	for i := range bytes {
		bytes[i] = idAlphabet[int(bytes[i])%len(idAlphabet)]
	}

	return string(bytes), nil
}

// GenerateTaskID returns a new task ID of the form t-xxxxxx.
func GenerateTaskID() (string, error) {
	id, err := GenerateShortID()
	if err != nil {
		return "", err
	}
	return "t-" + id, nil
}

// ShortSessionID abbreviates a session UUID for display.
func ShortSessionID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Slug converts a task title to a kebab-case file name fragment, truncated
// at a hyphen boundary when long.
func Slug(title string) string {
	s := ToKebabCase(title)
	if len(s) <= maxSlugLen {
		return s
	}
	s = s[:maxSlugLen]
	if i := strings.LastIndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	return strings.Trim(s, "-")
}

// ToKebabCase converts a string to kebab-case.
// It lowercases the string, replaces spaces and underscores with hyphens,
// removes non-alphanumeric characters (except hyphens), collapses multiple
// consecutive hyphens, and trims leading/trailing hyphens.
func ToKebabCase(s string) string {
	var result strings.Builder

	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(unicode.ToLower(r))
		} else if r == ' ' || r == '_' || r == '-' {
			result.WriteRune('-')
		}
	}

	str := result.String()
	for strings.Contains(str, "--") {
		str = strings.ReplaceAll(str, "--", "-")
	}

	return strings.Trim(str, "-")
}
