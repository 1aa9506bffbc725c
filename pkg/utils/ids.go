package utils

import (
	"errors"
	"strings"
)

// ValidateMatchID checks that a platform match identifier is non-empty and
// safe to splice into URL paths and page scripts: no path separators, no
// "..", no whitespace or quotes.
func ValidateMatchID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("match id is required and must be a non-empty string")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return errors.New("match id must not contain path separators or '..'")
	}
	if strings.ContainsAny(id, " \t\r\n'\"`?#%") {
		return errors.New("match id must not contain whitespace, quotes or URL delimiters")
	}
	return nil
}
