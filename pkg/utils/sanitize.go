package utils

import (
	"regexp"
	"strings"
)

// --- Path Segment Sanitization ---
var invalidSegmentChars = regexp.MustCompile(`[<>:"\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix path segments
const MaxSegmentLength = 255                                         // Most filesystems cap a single name at 255 bytes

// SanitizePathSegment cleans one path segment (no separators) so it is safe to
// create on disk. Dot segments are neutralized so a mirror path never escapes
// its root.
func SanitizePathSegment(segment string) string {
	sanitized := strings.ReplaceAll(segment, "/", "_")
	sanitized = invalidSegmentChars.ReplaceAllString(sanitized, "_")
	sanitized = strings.TrimRight(sanitized, " ")

	if sanitized == "." || sanitized == ".." {
		sanitized = strings.Repeat("_", len(sanitized))
	}

	if len(sanitized) > MaxSegmentLength {
		sanitized = TruncateUTF8(sanitized, MaxSegmentLength)
	}

	if sanitized == "" {
		sanitized = "_"
	}
	return sanitized
}

// TruncateUTF8 cuts s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
