// internal/circulation/service.go
package circulation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by directory lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Service defines the interface for the collector circulation service.
type Service interface {
	Process(ctx context.Context, req Request) (Confirmation, error)
	ResolveStatus(ctx context.Context, deviceID string) (DerivedState, error)
	DefectCodes(ctx context.Context) ([]DefectCode, error)
	DefectChoices(ctx context.Context) ([]string, error)
	Totals(ctx context.Context) (Totals, error)
	DescribeDevice(ctx context.Context, deviceID string) (DeviceInfo, error)
	DescribeOperator(ctx context.Context, operatorID string) (OperatorInfo, error)
}

// Request is one movement as submitted by an operator screen or API caller.
type Request struct {
	Action           string
	DeviceID         string
	OperatorID       string
	TestPerformed    bool
	DefectDetected   bool
	FlagForRepair    bool
	Note             string
	ResponsibleParty string
	RepairSentDate   string // YYYY-MM-DD
	RepairReturnDate string // YYYY-MM-DD
	TicketNumber     string
	// Defects holds the chosen catalog entries as displayed, "code - description".
	Defects []string
}

// Store is the movement log plus the reference tables it is read with.
type Store interface {
	// WithLocks runs fn in a single transaction that holds exclusive locks
	// on every key until commit. An error returned by fn rolls back.
	WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context, tx LedgerTx) error) error
	LastMovement(ctx context.Context, deviceKey string) (*LastMovement, error)
	RegistryLatest(ctx context.Context) ([]RegistryEntry, error)
	DefectCodes(ctx context.Context) ([]DefectCode, error)
	LookupDevice(ctx context.Context, deviceID string) (*DeviceInfo, error)
	LookupOperator(ctx context.Context, operatorID string) (*OperatorInfo, error)
}

// LedgerTx is the transactional view of the log used while validating and
// appending a movement.
type LedgerTx interface {
	LastMovement(ctx context.Context, deviceKey string) (*LastMovement, error)
	DeviceHeldBy(ctx context.Context, operatorKey string) (string, error)
	// Append writes the movement and its defects. It assigns RecordedAt.
	Append(ctx context.Context, m *Movement, defects []Defect) error
}

// RegistryEntry pairs a registered device with the kind of its latest
// movement, nil when it never moved.
type RegistryEntry struct {
	DeviceID string
	LastKind *EventKind
}

// Metrics receives the outcome of every Process call.
type Metrics interface {
	ObserveProcess(kind, outcome string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveProcess(string, string, time.Duration) {}

// Process outcomes reported to Metrics.
const (
	OutcomeRecorded = "recorded"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)
