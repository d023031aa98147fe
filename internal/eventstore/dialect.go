// internal/eventstore/dialect.go
package eventstore

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// sqliteTimeLayout sorts lexically in chronological order, which the
// ORDER BY on recorded_at depends on.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

type dialect struct {
	name   string
	sqlite bool
}

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case DriverPostgres, DriverPgx:
		return dialect{name: driverName}, nil
	case DriverSQLite:
		return dialect{name: driverName, sqlite: true}, nil
	default:
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driverName)
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if d.sqlite {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeArg encodes a timestamp for the recorded_at column.
func (d dialect) timeArg(t time.Time) any {
	t = t.UTC()
	if d.sqlite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

// dbTime scans a timestamp stored natively (postgres) or as text (sqlite).
type dbTime struct {
	Time  time.Time
	Valid bool
}

var _ sql.Scanner = (*dbTime)(nil)

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("scan timestamp: unsupported type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("scan timestamp: unrecognized value %q", s)
}

// Value lets dbTime be passed back as a query argument.
func (t dbTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
