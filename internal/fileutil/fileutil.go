package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var invalidChars = regexp.MustCompile(`[^\w\-\.\(\) \[\]]+`)
var collapseRuns = regexp.MustCompile(`[ _]+`)

const maxFilenameLen = 180

// SanitizeFilename strips characters that are unsafe in filenames and
// collapses runs of spaces and underscores. Falls back to "video" when
// nothing usable remains.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = invalidChars.ReplaceAllString(name, "_")
	name = collapseRuns.ReplaceAllString(name, " ")

	runes := []rune(name)
	if len(runes) > maxFilenameLen {
		name = string(runes[:maxFilenameLen])
	}
	name = strings.TrimRight(name, ". ")
	if name == "" {
		return "video"
	}
	return name
}

// EnsureUniquePath returns path unchanged if nothing exists there, otherwise
// appends " (n)" before the extension until the name is free.
func EnsureUniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// HumanBytes formats a byte count like "1.4 MB". Returns "" for zero or
// negative values so callers can omit the column.
func HumanBytes(n float64) string {
	if n <= 0 {
		return ""
	}
	units := []string{"B", "KB", "MB", "GB", "TB"}
	idx := 0
	for n >= 1024 && idx < len(units)-1 {
		n /= 1024
		idx++
	}
	return fmt.Sprintf("%.1f %s", n, units[idx])
}

// HumanETA formats a duration like "2m 05s". Returns "" for unknown
// (negative) or zero durations.
func HumanETA(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	total := int(d.Round(time.Second).Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
