package hook

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is returned when a hook name does not match the name grammar.
var ErrInvalidName = errors.New("invalid hook name")

// Names may not start or end with whitespace (including the Unicode space
// separators) and may never contain control characters or '/'.
const (
	nameEdge  = `[^\x{0000}-\x{0020}/\x{0085}\x{00a0}\x{1680}\x{180e}\x{2000}-\x{200a}\x{2028}\x{2029}\x{202f}\x{205f}\x{3000}]`
	nameInner = `[^\x{0000}-\x{001f}/]`
)

var namePattern = regexp.MustCompile(`^` + nameEdge + `(?:` + nameInner + `*` + nameEdge + `)?$`)

// ValidateName checks name against the hook name grammar.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
