// internal/circulation/domain.go
package circulation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of movements a collector can go through.
// The numeric value is the stable code persisted in the movement log.
type EventKind int

const (
	KindDeliver          EventKind = 1
	KindReturn           EventKind = 2
	KindSendForRepair    EventKind = 3
	KindReturnFromRepair EventKind = 4
	KindReportLost       EventKind = 5
	KindDeactivate       EventKind = 6
)

// EventKinds lists every kind in code order.
var EventKinds = []EventKind{
	KindDeliver,
	KindReturn,
	KindSendForRepair,
	KindReturnFromRepair,
	KindReportLost,
	KindDeactivate,
}

// Code returns the integer persisted for the kind.
func (k EventKind) Code() int { return int(k) }

func (k EventKind) String() string {
	switch k {
	case KindDeliver:
		return "DELIVER"
	case KindReturn:
		return "RETURN"
	case KindSendForRepair:
		return "SEND_FOR_REPAIR"
	case KindReturnFromRepair:
		return "RETURN_FROM_REPAIR"
	case KindReportLost:
		return "REPORT_LOST"
	case KindDeactivate:
		return "DEACTIVATE"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Status maps a kind to the status a device is in once that kind is its latest event.
func (k EventKind) Status() Status {
	switch k {
	case KindDeliver:
		return StatusInUse
	case KindReturn, KindReturnFromRepair:
		return StatusAvailable
	case KindSendForRepair:
		return StatusInRepair
	case KindReportLost:
		return StatusLost
	case KindDeactivate:
		return StatusInactive
	}
	// kinds only enter the system through EventKindFromCode or ParseAction
	panic(fmt.Sprintf("circulation: unmapped event kind %d", int(k)))
}

// RequiresOperator reports whether the scanned operator badge is mandatory.
func (k EventKind) RequiresOperator() bool {
	switch k {
	case KindDeliver, KindReturn, KindSendForRepair, KindReturnFromRepair:
		return true
	}
	return false
}

// EventKindFromCode decodes a persisted event code.
func EventKindFromCode(code int) (EventKind, error) {
	k := EventKind(code)
	if k < KindDeliver || k > KindDeactivate {
		return 0, fmt.Errorf("unknown event code %d", code)
	}
	return k, nil
}

// Status is the derived state label of a device.
type Status string

const (
	StatusInUse     Status = "IN_USE"
	StatusAvailable Status = "AVAILABLE"
	StatusInRepair  Status = "IN_REPAIR"
	StatusLost      Status = "LOST"
	StatusInactive  Status = "INACTIVE"
)

// Statuses lists every status label.
var Statuses = []Status{StatusInUse, StatusAvailable, StatusInRepair, StatusLost, StatusInactive}

// Movement is one row of the append-only movement log.
type Movement struct {
	ID               uuid.UUID   `json:"id"`
	Kind             EventKind   `json:"kind"`
	DeviceID         string      `json:"device_id"`
	OperatorID       string      `json:"operator_id,omitempty"`
	TestPerformed    bool        `json:"test_performed"`
	DefectDetected   bool        `json:"defect_detected"`
	FlagForRepair    bool        `json:"flag_for_repair"`
	Note             string      `json:"note,omitempty"`
	ResponsibleParty string      `json:"responsible_party"`
	RepairSentDate   CompactDate `json:"repair_sent_date,omitempty"`
	RepairReturnDate CompactDate `json:"repair_return_date,omitempty"`
	TicketNumber     string      `json:"ticket_number,omitempty"`
	RecordedAt       time.Time   `json:"recorded_at"`
}

// Defect is a defect observed on a device during a movement. It is always
// written in the same transaction as its parent movement.
type Defect struct {
	MovementID       uuid.UUID `json:"movement_id"`
	Kind             EventKind `json:"kind"`
	DeviceID         string    `json:"device_id"`
	Code             string    `json:"code"`
	ResponsibleParty string    `json:"responsible_party"`
}

// LastMovement is the latest event of a device as seen by the resolver.
type LastMovement struct {
	Kind       EventKind
	DeviceID   string
	OperatorID string
	RecordedAt time.Time
}

// DerivedState is the current state of a device computed from its history.
type DerivedState struct {
	DeviceID       string     `json:"device_id"`
	Status         Status     `json:"status"`
	Holder         string     `json:"holder,omitempty"`
	LastOperator   string     `json:"last_operator,omitempty"`
	LastKind       string     `json:"last_kind,omitempty"`
	LastRecordedAt *time.Time `json:"last_recorded_at,omitempty"`
}

// Derive computes the state for a device given its latest movement, nil
// meaning the device has no history.
func Derive(deviceID string, last *LastMovement) DerivedState {
	state := DerivedState{DeviceID: deviceID, Status: StatusAvailable}
	if last == nil {
		return state
	}
	recordedAt := last.RecordedAt
	state.Status = last.Kind.Status()
	state.LastOperator = last.OperatorID
	state.LastKind = last.Kind.String()
	state.LastRecordedAt = &recordedAt
	if state.Status == StatusInUse {
		state.Holder = last.OperatorID
	}
	return state
}

// DefectCode is one entry of the defect catalog.
type DefectCode struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// Display renders the code the way operators pick it: "03 - Broken screen".
func (d DefectCode) Display() string {
	return fmt.Sprintf("%02d - %s", d.Code, d.Description)
}

// DeviceInfo is what the device registry knows about a collector.
type DeviceInfo struct {
	DeviceID     string `json:"device_id"`
	SerialNumber string `json:"serial_number"`
}

// OperatorInfo is what the user directory knows about an active operator.
type OperatorInfo struct {
	OperatorID string `json:"operator_id"`
	FullName   string `json:"full_name"`
}

// Totals counts registered devices per derived status.
type Totals map[Status]int

// Confirmation is returned when a movement was recorded.
type Confirmation struct {
	MovementID uuid.UUID    `json:"movement_id"`
	Kind       string       `json:"kind"`
	DeviceID   string       `json:"device_id"`
	Defects    int          `json:"defects"`
	State      DerivedState `json:"state"`
	Message    string       `json:"message"`
}
