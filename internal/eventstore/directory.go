// internal/eventstore/directory.go
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"collectortrack/internal/circulation"
)

// DefectCodes lists the defect catalog ordered by code.
func (es *EventStore) DefectCodes(ctx context.Context) ([]circulation.DefectCode, error) {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	rows, err := es.db.QueryContext(ctx, `SELECT code, description FROM defect_codes ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query defect catalog: %w", err)
	}
	defer rows.Close()

	var catalog []circulation.DefectCode
	for rows.Next() {
		var c circulation.DefectCode
		if err := rows.Scan(&c.Code, &c.Description); err != nil {
			return nil, fmt.Errorf("scan defect code: %w", err)
		}
		c.Description = strings.TrimSpace(c.Description)
		catalog = append(catalog, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate defect catalog: %w", err)
	}
	return catalog, nil
}

// LookupDevice finds a registered device by trimmed id. Placeholder serial
// numbers containing COLETOR are treated as unregistered.
func (es *EventStore) LookupDevice(ctx context.Context, deviceID string) (*circulation.DeviceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	var info circulation.DeviceInfo
	err := es.db.QueryRowContext(ctx, es.dialect.rebind(`
		SELECT TRIM(device_id), TRIM(serial_number)
		FROM devices
		WHERE TRIM(device_id) = ?
		  AND UPPER(serial_number) NOT LIKE '%COLETOR%'`),
		strings.TrimSpace(deviceID),
	).Scan(&info.DeviceID, &info.SerialNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query device %s: %w", deviceID, err)
	}
	return &info, nil
}

// LookupOperator finds an active operator by trimmed id.
func (es *EventStore) LookupOperator(ctx context.Context, operatorID string) (*circulation.OperatorInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	var info circulation.OperatorInfo
	err := es.db.QueryRowContext(ctx, es.dialect.rebind(`
		SELECT TRIM(operator_id), TRIM(full_name)
		FROM operators
		WHERE TRIM(operator_id) = ? AND active = ?`),
		strings.TrimSpace(operatorID), true,
	).Scan(&info.OperatorID, &info.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query operator %s: %w", operatorID, err)
	}
	return &info, nil
}

// RegisterDevice adds a device to the registry or refreshes its serial.
func (es *EventStore) RegisterDevice(ctx context.Context, info circulation.DeviceInfo) error {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	_, err := es.db.ExecContext(ctx, es.dialect.rebind(`
		INSERT INTO devices (device_id, serial_number) VALUES (?, ?)
		ON CONFLICT (device_id) DO UPDATE SET serial_number = excluded.serial_number`),
		strings.TrimSpace(info.DeviceID), strings.TrimSpace(info.SerialNumber),
	)
	if err != nil {
		return fmt.Errorf("register device %s: %w", info.DeviceID, err)
	}
	return nil
}

// RegisterOperator adds or updates an operator in the directory.
func (es *EventStore) RegisterOperator(ctx context.Context, info circulation.OperatorInfo, active bool) error {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	_, err := es.db.ExecContext(ctx, es.dialect.rebind(`
		INSERT INTO operators (operator_id, full_name, active) VALUES (?, ?, ?)
		ON CONFLICT (operator_id) DO UPDATE SET full_name = excluded.full_name, active = excluded.active`),
		strings.TrimSpace(info.OperatorID), strings.TrimSpace(info.FullName), active,
	)
	if err != nil {
		return fmt.Errorf("register operator %s: %w", info.OperatorID, err)
	}
	return nil
}

// PutDefectCode adds or renames an entry of the defect catalog.
func (es *EventStore) PutDefectCode(ctx context.Context, c circulation.DefectCode) error {
	ctx, cancel := context.WithTimeout(ctx, es.timeout)
	defer cancel()

	_, err := es.db.ExecContext(ctx, es.dialect.rebind(`
		INSERT INTO defect_codes (code, description) VALUES (?, ?)
		ON CONFLICT (code) DO UPDATE SET description = excluded.description`),
		c.Code, strings.TrimSpace(c.Description),
	)
	if err != nil {
		return fmt.Errorf("put defect code %d: %w", c.Code, err)
	}
	return nil
}
