package pathsafe

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrEscape is returned when a joined path would resolve outside its base.
var ErrEscape = errors.New("path escape")

// SanitizeSegment reduces a user-supplied name to something safe as a
// single path segment: no separators, no parent references, no NUL bytes,
// no leading dots. Removing one class of characters can expose another
// (stripping a leading dot may uncover leading whitespace), so the rules
// run repeatedly until the output is stable. Every rule only removes
// characters, so the loop terminates. The result is always its own
// sanitized form.
func SanitizeSegment(raw string) string {
	s := raw
	for {
		next := sanitizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func sanitizeOnce(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "..", "")
	return strings.TrimLeft(s, ".")
}

// IsCleanSegment reports whether raw already is its own sanitized form.
// Registration uses this to reject (rather than coerce) unsafe usernames.
func IsCleanSegment(raw string) bool {
	return raw != "" && raw == SanitizeSegment(raw)
}

// JoinUnder joins segments beneath baseAbs and verifies the cleaned result
// stays inside baseAbs. The check runs on the normalized absolute path, not
// the raw concatenation, so encoded separators and parent references cannot
// slip through.
func JoinUnder(baseAbs string, segments ...string) (string, error) {
	for _, seg := range segments {
		if strings.Contains(seg, "\x00") {
			return "", ErrEscape
		}
	}
	abs := filepath.Join(append([]string{baseAbs}, segments...)...)
	absClean := filepath.Clean(abs)
	baseClean := filepath.Clean(baseAbs)
	if absClean != baseClean && !strings.HasPrefix(absClean, baseClean+string(filepath.Separator)) {
		return "", ErrEscape
	}
	return absClean, nil
}
