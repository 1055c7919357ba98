package download

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	// PlaceholderName replaces titles that sanitize to nothing useful
	PlaceholderName = "video"
	maxNameRunes    = 120
	minNameRunes    = 3
)

// SafeFileName turns an untrusted title into a file name stem that is unique per call time.
// The result never contains path separators or parent references.
func SafeFileName(title string, now time.Time) string {
	return fmt.Sprintf("%s_%d", sanitizeTitle(title), now.UnixNano())
}

func sanitizeTitle(title string) string {
	if strings.Contains(title, "..") {
		return PlaceholderName
	}

	var b strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`<>:"/\|?*`, r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
		}
	}

	name := strings.Trim(b.String(), ". ")
	name = strings.Join(strings.Fields(name), "_")

	runes := []rune(name)
	if len(runes) > maxNameRunes {
		name = strings.TrimRight(string(runes[:maxNameRunes]), "._")
	}
	if len([]rune(name)) < minNameRunes {
		return PlaceholderName
	}
	return name
}
