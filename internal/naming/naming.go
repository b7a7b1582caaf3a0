// Package naming derives ticket ids and sanitized channel names.
package naming

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// MaxNameLength is the longest channel name the platform accepts.
const MaxNameLength = 100

// ErrInvalidName is returned when a name is empty after sanitization.
var ErrInvalidName = errors.New("naming: name empty after sanitization")

var invalidChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Next mints the next ticket id and channel name from a snapshot of the
// category's existing channel count. The id is count-based, not monotonic:
// deleting channels out of order lets ids repeat over a category's
// lifetime. That matches the platform-visible numbering and is intentional.
func Next(existing int, template, user string) (int, string, error) {
	id := existing + 1
	name, err := Format(template, user, id)
	if err != nil {
		return 0, "", err
	}
	return id, name, nil
}

// Format substitutes {user} and {id} into template, strips every character
// outside [A-Za-z0-9_-] and truncates to MaxNameLength.
func Format(template, user string, id int) (string, error) {
	name := strings.ReplaceAll(template, "{user}", user)
	name = strings.ReplaceAll(name, "{id}", strconv.Itoa(id))
	name = invalidChars.ReplaceAllString(name, "")
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}
