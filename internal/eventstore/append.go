// internal/eventstore/append.go
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"collectortrack/internal/circulation"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WithLocks runs fn in one transaction holding an exclusive lock per key.
// Postgres takes transaction scoped advisory locks in sorted key order;
// SQLite takes the database write lock when the transaction begins. The
// whole transaction is retried on serialization failures, deadlocks and
// busy databases.
func (es *EventStore) WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context, tx circulation.LedgerTx) error) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.with_locks",
		trace.WithAttributes(attribute.StringSlice("lock.keys", keys)),
	)
	defer span.End()

	lockKeys := sortedUnique(keys)
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := es.runLocked(ctx, lockKeys, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if isTransient(err) {
			es.logger.Warn("transient store failure, retrying",
				zap.Int("attempt", attempt),
				zap.Strings("keys", lockKeys),
				zap.Error(err),
			)
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 20 * time.Millisecond
	retry.MaxInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(retry),
		backoff.WithMaxTries(es.maxTries),
	)
	span.SetAttributes(attribute.Int("attempts", attempt))
	if err != nil {
		if _, rejected := circulation.AsRejection(err); !rejected {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
	return nil
}

func (es *EventStore) runLocked(ctx context.Context, keys []string, fn func(ctx context.Context, tx circulation.LedgerTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	var opts *sql.TxOptions
	if !es.dialect.sqlite {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}
	tx, err := es.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if !es.dialect.sqlite {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
				return fmt.Errorf("lock %s: %w", key, err)
			}
		}
	}

	ltx := &ledgerTx{tx: tx, es: es}
	if err := fn(ctx, ltx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ledgerTx is the locked view handed to WithLocks callbacks.
type ledgerTx struct {
	tx *sql.Tx
	es *EventStore
}

var _ circulation.LedgerTx = (*ledgerTx)(nil)

func (l *ledgerTx) LastMovement(ctx context.Context, deviceKey string) (*circulation.LastMovement, error) {
	return lastMovement(ctx, l.tx, l.es.dialect, deviceKey)
}

func (l *ledgerTx) DeviceHeldBy(ctx context.Context, operatorKey string) (string, error) {
	return deviceHeldBy(ctx, l.tx, l.es.dialect, operatorKey)
}

// Append inserts the movement and its defects. RecordedAt comes from the
// store clock at microsecond precision and always lands after the device's
// previous movement, so a later append never sorts before an earlier one.
func (l *ledgerTx) Append(ctx context.Context, m *circulation.Movement, defects []circulation.Defect) error {
	d := l.es.dialect
	ctx, span := l.es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("movement.id", m.ID.String()),
			attribute.String("movement.kind", m.Kind.String()),
			attribute.Int("defect.count", len(defects)),
		),
	)
	defer span.End()

	deviceKey := circulation.Normalize(m.DeviceID)

	var prev dbTime
	err := l.tx.QueryRowContext(ctx,
		d.rebind(`SELECT MAX(recorded_at) FROM movements WHERE device_key = ?`), deviceKey,
	).Scan(&prev)
	if err != nil {
		return fmt.Errorf("query previous timestamp: %w", err)
	}

	recordedAt := l.es.now().UTC().Truncate(time.Microsecond)
	if prev.Valid && !recordedAt.After(prev.Time) {
		recordedAt = prev.Time.Add(time.Microsecond)
	}

	_, err = l.tx.ExecContext(ctx, d.rebind(`
		INSERT INTO movements (
			movement_id, event_code, device_id, device_key, operator_id, operator_key,
			test_performed, defect_detected, flag_for_repair, note, responsible_party,
			repair_sent_date, repair_return_date, ticket_number, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		m.ID.String(),
		m.Kind.Code(),
		m.DeviceID,
		deviceKey,
		nullString(m.OperatorID),
		nullString(circulation.Normalize(m.OperatorID)),
		m.TestPerformed,
		m.DefectDetected,
		m.FlagForRepair,
		nullString(m.Note),
		m.ResponsibleParty,
		nullString(string(m.RepairSentDate)),
		nullString(string(m.RepairReturnDate)),
		nullString(m.TicketNumber),
		d.timeArg(recordedAt),
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}

	if len(defects) > 0 {
		stmt, err := l.tx.PrepareContext(ctx, d.rebind(`
			INSERT INTO movement_defects (movement_id, event_code, device_id, defect_code, responsible_party, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("prepare defect insert: %w", err)
		}
		defer stmt.Close()

		for i, defect := range defects {
			_, err := stmt.ExecContext(ctx,
				m.ID.String(),
				defect.Kind.Code(),
				defect.DeviceID,
				defect.Code,
				defect.ResponsibleParty,
				d.timeArg(recordedAt),
			)
			if err != nil {
				return fmt.Errorf("insert defect %d: %w", i, err)
			}
			span.AddEvent("defect.appended", trace.WithAttributes(
				attribute.String("defect.code", defect.Code),
			))
		}
	}

	m.RecordedAt = recordedAt
	span.SetAttributes(attribute.String("movement.recorded_at", recordedAt.Format(time.RFC3339Nano)))
	return nil
}
