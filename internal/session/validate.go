package session

// Session names become directory names under ~/.slk/sessions, so the
// charset is kept to what is safe on every filesystem: lowercase
// alphanumerics, hyphen, underscore, at most 64 characters.

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects names that cannot safely name a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}
