package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	pg := dialect{name: DriverPostgres}
	lite := dialect{name: DriverSQLite, sqlite: true}

	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t,
		"log.db?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		sqliteDSN("log.db"))
	assert.Equal(t,
		"file:log.db?mode=rwc&_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		sqliteDSN("file:log.db?mode=rwc"))
	assert.Equal(t,
		"log.db?_txlock=deferred&_pragma=busy_timeout(100)&_pragma=foreign_keys(0)",
		sqliteDSN("log.db?_txlock=deferred&_pragma=busy_timeout(100)&_pragma=foreign_keys(0)"))
}

func TestDBTimeScan(t *testing.T) {
	want := time.Date(2025, 3, 10, 8, 0, 0, 123456000, time.UTC)

	for _, src := range []any{
		want,
		want.In(time.FixedZone("BRT", -3*3600)),
		"2025-03-10 08:00:00.123456",
		[]byte("2025-03-10T08:00:00.123456Z"),
	} {
		var got dbTime
		require.NoError(t, got.Scan(src))
		assert.True(t, got.Valid)
		assert.True(t, want.Equal(got.Time), "%v", src)
	}

	var null dbTime
	require.NoError(t, null.Scan(nil))
	assert.False(t, null.Valid)

	var bad dbTime
	assert.Error(t, bad.Scan("yesterday"))
	assert.Error(t, bad.Scan(42))
}

func TestTimeArgSortsChronologically(t *testing.T) {
	lite := dialect{name: DriverSQLite, sqlite: true}
	earlier := lite.timeArg(time.Date(2025, 3, 10, 8, 0, 0, 999999000, time.UTC)).(string)
	later := lite.timeArg(time.Date(2025, 3, 10, 8, 0, 1, 0, time.UTC)).(string)
	assert.Less(t, earlier, later)
}
