// internal/eventstore/resolve.go
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"collectortrack/internal/circulation"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// latestOrder picks the current movement of a device: newest timestamp, then
// the higher event code, then the later insert.
const latestOrder = "recorded_at DESC, event_code DESC, seq DESC"

var (
	lastMovementQuery = `
		SELECT event_code, device_id, COALESCE(operator_id, ''), recorded_at
		FROM movements
		WHERE device_key = ?
		ORDER BY ` + latestOrder + `
		LIMIT 1`

	heldByQuery = `
		SELECT device_id FROM (
			SELECT device_id, event_code, operator_key,
			       ROW_NUMBER() OVER (PARTITION BY device_key ORDER BY ` + latestOrder + `) AS rn
			FROM movements
			WHERE device_key IN (SELECT device_key FROM movements WHERE operator_key = ?)
		) latest
		WHERE rn = 1 AND event_code = 1 AND operator_key = ?
		ORDER BY device_id
		LIMIT 1`

	latestPerDeviceQuery = `
		SELECT device_key, event_code FROM (
			SELECT device_key, event_code,
			       ROW_NUMBER() OVER (PARTITION BY device_key ORDER BY ` + latestOrder + `) AS rn
			FROM movements
		) latest
		WHERE rn = 1`

	doubleDeliveriesQuery = `
		SELECT DISTINCT device_key FROM (
			SELECT device_key, event_code,
			       LAG(event_code) OVER (PARTITION BY device_key ORDER BY recorded_at, event_code, seq) AS prev_code
			FROM movements
		) chain
		WHERE event_code = 1 AND prev_code = 1
		ORDER BY device_key`
)

// LastMovement returns the latest movement of the device key, nil when the
// device has no history.
func (es *EventStore) LastMovement(ctx context.Context, deviceKey string) (*circulation.LastMovement, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.last_movement",
		trace.WithAttributes(attribute.String("device.key", deviceKey)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	last, err := lastMovement(ctx, es.db, es.dialect, deviceKey)
	if err != nil {
		span.RecordError(err)
	}
	return last, err
}

func lastMovement(ctx context.Context, q queryer, d dialect, deviceKey string) (*circulation.LastMovement, error) {
	var (
		code       int
		last       circulation.LastMovement
		recordedAt dbTime
	)
	err := q.QueryRowContext(ctx, d.rebind(lastMovementQuery), deviceKey).
		Scan(&code, &last.DeviceID, &last.OperatorID, &recordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last movement: %w", err)
	}
	kind, err := circulation.EventKindFromCode(code)
	if err != nil {
		return nil, fmt.Errorf("last movement of %s: %w", deviceKey, err)
	}
	last.Kind = kind
	last.RecordedAt = recordedAt.Time
	return &last, nil
}

// deviceHeldBy returns the device whose latest movement is a delivery to the
// operator key, or "" when there is none.
func deviceHeldBy(ctx context.Context, q queryer, d dialect, operatorKey string) (string, error) {
	var deviceID string
	err := q.QueryRowContext(ctx, d.rebind(heldByQuery), operatorKey, operatorKey).Scan(&deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query operator holdings: %w", err)
	}
	return strings.TrimSpace(deviceID), nil
}

// RegistryLatest pairs every registered device with the kind of its latest
// movement. Registry ids that normalize to the same key are counted once.
func (es *EventStore) RegistryLatest(ctx context.Context) ([]circulation.RegistryEntry, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.registry_latest")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	latest := make(map[string]circulation.EventKind)
	rows, err := es.db.QueryContext(ctx, latestPerDeviceQuery)
	if err != nil {
		return nil, fmt.Errorf("query latest movements: %w", err)
	}
	for rows.Next() {
		var (
			key  string
			code int
		)
		if err := rows.Scan(&key, &code); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan latest movement: %w", err)
		}
		kind, err := circulation.EventKindFromCode(code)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("latest movement of %s: %w", key, err)
		}
		latest[key] = kind
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate latest movements: %w", err)
	}
	rows.Close()

	ids, err := es.registryIDs(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(ids))
	entries := make([]circulation.RegistryEntry, 0, len(ids))
	for _, id := range ids {
		key := circulation.Normalize(id)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entry := circulation.RegistryEntry{DeviceID: id}
		if kind, ok := latest[key]; ok {
			k := kind
			entry.LastKind = &k
		}
		entries = append(entries, entry)
	}

	span.SetAttributes(attribute.Int("registry.size", len(entries)))
	return entries, nil
}

func (es *EventStore) registryIDs(ctx context.Context) ([]string, error) {
	rows, err := es.db.QueryContext(ctx, `SELECT DISTINCT TRIM(device_id) FROM devices ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("query device registry: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan device registry: %w", err)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device registry: %w", err)
	}
	return ids, nil
}

// DoubleDeliveries lists device keys whose history contains two consecutive
// deliveries. A sound log returns none.
func (es *EventStore) DoubleDeliveries(ctx context.Context) ([]string, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.double_deliveries")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	rows, err := es.db.QueryContext(ctx, doubleDeliveriesQuery)
	if err != nil {
		return nil, fmt.Errorf("query delivery chains: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan delivery chain: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery chains: %w", err)
	}
	sort.Strings(keys)
	span.SetAttributes(attribute.Int("violations", len(keys)))
	return keys, nil
}

// History returns every movement of the device key, oldest first.
func (es *EventStore) History(ctx context.Context, deviceKey string) ([]circulation.Movement, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.history",
		trace.WithAttributes(attribute.String("device.key", deviceKey)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	rows, err := es.db.QueryContext(ctx, es.dialect.rebind(`
		SELECT movement_id, event_code, device_id, COALESCE(operator_id, ''),
		       test_performed, defect_detected, flag_for_repair,
		       COALESCE(note, ''), responsible_party,
		       COALESCE(repair_sent_date, ''), COALESCE(repair_return_date, ''),
		       COALESCE(ticket_number, ''), recorded_at
		FROM movements
		WHERE device_key = ?
		ORDER BY recorded_at, event_code, seq`), deviceKey)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []circulation.Movement
	for rows.Next() {
		var (
			m              circulation.Movement
			code           int
			sent, returned string
			recordedAt     dbTime
		)
		err := rows.Scan(
			&m.ID,
			&code,
			&m.DeviceID,
			&m.OperatorID,
			&m.TestPerformed,
			&m.DefectDetected,
			&m.FlagForRepair,
			&m.Note,
			&m.ResponsibleParty,
			&sent,
			&returned,
			&m.TicketNumber,
			&recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		if m.Kind, err = circulation.EventKindFromCode(code); err != nil {
			return nil, fmt.Errorf("movement %s: %w", m.ID, err)
		}
		m.RepairSentDate = circulation.CompactDate(strings.TrimSpace(sent))
		m.RepairReturnDate = circulation.CompactDate(strings.TrimSpace(returned))
		m.RecordedAt = recordedAt.Time
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	span.SetAttributes(attribute.Int("movements.loaded", len(history)))
	return history, nil
}

// DefectsOf returns the defect rows recorded with a movement.
func (es *EventStore) DefectsOf(ctx context.Context, movementID string) ([]circulation.Defect, error) {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	rows, err := es.db.QueryContext(ctx, es.dialect.rebind(`
		SELECT movement_id, event_code, device_id, defect_code, responsible_party
		FROM movement_defects
		WHERE movement_id = ?
		ORDER BY seq`), movementID)
	if err != nil {
		return nil, fmt.Errorf("query defects: %w", err)
	}
	defer rows.Close()

	var defects []circulation.Defect
	for rows.Next() {
		var (
			d    circulation.Defect
			code int
		)
		if err := rows.Scan(&d.MovementID, &code, &d.DeviceID, &d.Code, &d.ResponsibleParty); err != nil {
			return nil, fmt.Errorf("scan defect: %w", err)
		}
		if d.Kind, err = circulation.EventKindFromCode(code); err != nil {
			return nil, err
		}
		defects = append(defects, d)
	}
	return defects, rows.Err()
}
