package service

import (
	"fmt"
	"regexp"
	"unicode/utf8"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)
var languageRegex = regexp.MustCompile(`^[a-z0-9+#-]*$`)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 8
	maxPasswordLen = 128
	maxTitleLen    = 200
	maxLanguageLen = 40
	// Matches the largest document the editor frontend will open.
	maxContentBytes = 1 << 20
)

func ValidateUsername(username string) error {
	if utf8.RuneCountInString(username) < minUsernameLen || utf8.RuneCountInString(username) > maxUsernameLen {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalid, minUsernameLen, maxUsernameLen)
	}
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("%w: username contains invalid characters", ErrInvalid)
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrInvalid, minPasswordLen, maxPasswordLen)
	}
	return nil
}

func ValidateDocumentTitle(title string) error {
	if title == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalid)
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return fmt.Errorf("%w: title too long", ErrInvalid)
	}
	return nil
}

// ValidateLanguage accepts editor language identifiers such as "go",
// "python" or "c++". Empty means plain text.
func ValidateLanguage(language string) error {
	if len(language) > maxLanguageLen {
		return fmt.Errorf("%w: language too long", ErrInvalid)
	}
	if !languageRegex.MatchString(language) {
		return fmt.Errorf("%w: invalid language identifier", ErrInvalid)
	}
	return nil
}

func ValidateContent(content string) error {
	if len(content) > maxContentBytes {
		return fmt.Errorf("%w: content too large", ErrInvalid)
	}
	return nil
}
