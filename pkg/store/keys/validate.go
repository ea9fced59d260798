package keys

import (
	"errors"
	"fmt"
	"regexp"
)

// letters, digits, dot, underscore, dash; bounded so ids stay safe to
// embed in key shapes.
var idRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]{1,256}$`)

func ValidateID(id string) error {
	if id == "" {
		return errors.New("id empty")
	}
	if id == NoProduct {
		return fmt.Errorf("reserved id: %q", id)
	}
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid id: %q", id)
	}
	return nil
}
