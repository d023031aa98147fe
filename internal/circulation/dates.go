// internal/circulation/dates.go
package circulation

import (
	"fmt"
	"strings"
	"time"
)

const (
	isoDateLayout     = "2006-01-02"
	compactDateLayout = "20060102"
)

// CompactDate is a calendar date persisted as YYYYMMDD. The zero value means
// no date was given.
type CompactDate string

// ParseISODate converts a YYYY-MM-DD date into its compact form. Blank input
// yields the zero CompactDate.
func ParseISODate(s string) (CompactDate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	t, err := time.Parse(isoDateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return CompactDate(t.Format(compactDateLayout)), nil
}

// IsZero reports whether no date is set.
func (d CompactDate) IsZero() bool { return d == "" }

// ISO renders the date as YYYY-MM-DD, or "" for the zero value.
func (d CompactDate) ISO() string {
	if d.IsZero() {
		return ""
	}
	t, err := time.Parse(compactDateLayout, string(d))
	if err != nil {
		return string(d)
	}
	return t.Format(isoDateLayout)
}
