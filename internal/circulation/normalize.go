// internal/circulation/normalize.go
package circulation

import (
	"strconv"
	"strings"
)

// Normalize returns the canonical key of a device or operator identifier.
// Numeric identifiers collapse to their decimal form, so "73", "073" and
// "000073" share a key; anything else is only trimmed.
//
// Two distinct identifiers can collide when one is a zero padded number equal
// to another's numeric form. Such collisions are not detected.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return trimmed
}
