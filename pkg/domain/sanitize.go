package domain

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxRunnerIDSize bounds runner ids, which end up in store keys and file names.
const MaxRunnerIDSize = 128

// ValidateRunnerID rejects ids that are empty, oversized, not UTF-8, or that contain
// path separators, whitespace or control characters.
func ValidateRunnerID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidRunnerID)
	case len(id) > MaxRunnerIDSize:
		return fmt.Errorf("%w: size=%d limit=%d", ErrInvalidRunnerID, len(id), MaxRunnerIDSize)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: invalid UTF-8", ErrInvalidRunnerID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidRunnerID, id)
	}
	for _, r := range id {
		if r == '/' || r == '\\' || unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: %q", ErrInvalidRunnerID, id)
		}
	}
	return nil
}

// SanitizeText strips control characters other than newline, tab and carriage return.
// Notices carry job errors, which may quote process output; this keeps ANSI
// sequences and other terminal controls out of consoles and logs.
func SanitizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}

	// Fast path: if no control chars, return as is.
	clean := true
	for _, r := range s {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
