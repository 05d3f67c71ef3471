package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	suffixLength      = 9
	minNicknameLength = 2
	maxNicknameLength = 20
)

var nicknameDisallowed = regexp.MustCompile(`[^a-zA-Z0-9áéíóúüñ\s]`)

// NewGameID returns game_<unix millis>_<9 random characters>.
func NewGameID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:suffixLength]
	return fmt.Sprintf("game_%d_%s", now.UnixMilli(), suffix)
}

// ValidNickname reports whether the trimmed name has 2 to 20 characters.
func ValidNickname(name string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	return n >= minNicknameLength && n <= maxNicknameLength
}

// SanitizeNickname strips characters outside letters, digits, accented
// vowels and whitespace, and truncates to 20 characters.
func SanitizeNickname(name string) string {
	clean := nicknameDisallowed.ReplaceAllString(strings.TrimSpace(name), "")
	if utf8.RuneCountInString(clean) > maxNicknameLength {
		clean = string([]rune(clean)[:maxNicknameLength])
	}
	return clean
}
