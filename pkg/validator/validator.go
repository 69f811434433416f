package validator

import (
	"regexp"
	"sort"
	"strings"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for field, message := range v {
		parts = append(parts, field+": "+message)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Username rule: word characters and dots, 4-30 chars total, starting with a
// word character, no ".." runs, no trailing dot.
var usernameRegex = regexp.MustCompile(`^[0-9A-Za-z_][0-9A-Za-z_.]{3,29}$`)

func ValidUsername(username string) bool {
	if !usernameRegex.MatchString(username) {
		return false
	}
	if strings.Contains(username, "..") || strings.HasSuffix(username, ".") {
		return false
	}
	return true
}

func ValidateRegisterInput(username, password string) ValidationErrors {
	errs := make(ValidationErrors)

	username = strings.TrimSpace(username)
	if username == "" {
		errs.Add("username", "Username is required")
	} else if !ValidUsername(username) {
		errs.Add("username", "Username must be 4-30 word characters, dots allowed but not doubled or trailing")
	}

	if len(password) < 8 {
		errs.Add("password", "Password must be at least 8 characters")
	}

	return errs
}

func ValidSharePermission(p int) bool {
	return p >= 0 && p <= 2
}

// ValidPostRange checks the index bounds of a posts request.
func ValidPostRange(begin, end int64) bool {
	return begin >= 1 && end >= begin
}
