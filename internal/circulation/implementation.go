// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	store   Store
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// Option customizes a service.
type Option func(*service)

// WithMetrics reports process outcomes to m.
func WithMetrics(m Metrics) Option {
	return func(s *service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewService creates a new circulation service instance.
func NewService(store Store, logger *zap.Logger, opts ...Option) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &service{
		store:   store,
		logger:  logger.Named("circulation"),
		tracer:  otel.Tracer("collectortrack/circulation"),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process validates a requested movement against the current state of the
// device and records it. Every call derives state from the log again.
func (s *service) Process(ctx context.Context, req Request) (conf Confirmation, err error) {
	ctx, span := s.tracer.Start(ctx, "circulation.process")
	defer span.End()

	start := time.Now()
	kindLabel := "unknown"
	defer func() {
		outcome := OutcomeRecorded
		switch _, rejected := AsRejection(err); {
		case rejected:
			outcome = OutcomeRejected
		case err != nil:
			outcome = OutcomeFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.String("movement.outcome", outcome))
		s.metrics.ObserveProcess(kindLabel, outcome, time.Since(start))
	}()

	// Step 1: Map the action label
	kind, err := ParseAction(req.Action)
	if err != nil {
		s.logger.Info("movement rejected", zap.String("action", req.Action), zap.Error(err))
		return Confirmation{}, err
	}
	kindLabel = kind.String()

	// Step 2: Trim identifiers and check the scanned badges
	deviceID := strings.TrimSpace(req.DeviceID)
	operatorID := strings.TrimSpace(req.OperatorID)
	span.SetAttributes(
		attribute.String("movement.kind", kindLabel),
		attribute.String("device.id", deviceID),
	)
	if err := CheckFields(kind, deviceID, operatorID); err != nil {
		s.logRejection(kind, deviceID, operatorID, err)
		return Confirmation{}, err
	}

	movement, defects, err := buildMovement(kind, deviceID, operatorID, req)
	if err != nil {
		s.logRejection(kind, deviceID, operatorID, err)
		return Confirmation{}, err
	}

	// Step 3: Resolve, validate and append under the device lock
	deviceKey := Normalize(deviceID)
	operatorKey := Normalize(operatorID)
	keys := []string{"device:" + deviceKey}
	if kind == KindDeliver && operatorKey != "" {
		keys = append(keys, "operator:"+operatorKey)
	}

	var state DerivedState
	err = s.store.WithLocks(ctx, keys, func(ctx context.Context, tx LedgerTx) error {
		last, err := tx.LastMovement(ctx, deviceKey)
		if err != nil {
			return fmt.Errorf("resolve last movement: %w", err)
		}
		snap := Snapshot{Last: last}
		if kind == KindDeliver && operatorKey != "" {
			held, err := tx.DeviceHeldBy(ctx, operatorKey)
			if err != nil {
				return fmt.Errorf("resolve operator holdings: %w", err)
			}
			snap.HeldByOperator = held
		}

		if err := CheckTransition(kind, deviceID, operatorID, snap); err != nil {
			return err
		}

		if err := tx.Append(ctx, movement, defects); err != nil {
			return fmt.Errorf("append movement: %w", err)
		}
		state = Derive(deviceID, &LastMovement{
			Kind:       kind,
			DeviceID:   deviceID,
			OperatorID: operatorID,
			RecordedAt: movement.RecordedAt,
		})
		return nil
	})
	if err != nil {
		if _, ok := AsRejection(err); ok {
			s.logRejection(kind, deviceID, operatorID, err)
			return Confirmation{}, err
		}
		s.logger.Error("movement not recorded",
			zap.String("kind", kindLabel),
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return Confirmation{}, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}

	s.logger.Info("movement recorded",
		zap.String("movement_id", movement.ID.String()),
		zap.String("kind", kindLabel),
		zap.String("device_id", deviceID),
		zap.String("operator_id", operatorID),
		zap.Int("defects", len(defects)),
	)

	return Confirmation{
		MovementID: movement.ID,
		Kind:       kindLabel,
		DeviceID:   deviceID,
		Defects:    len(defects),
		State:      state,
		Message:    "movement recorded successfully",
	}, nil
}

func (s *service) logRejection(kind EventKind, deviceID, operatorID string, err error) {
	s.logger.Info("movement rejected",
		zap.String("kind", kind.String()),
		zap.String("device_id", deviceID),
		zap.String("operator_id", operatorID),
		zap.Error(err),
	)
}

// buildMovement turns a request into the rows to append. Defect rows are only
// produced when a defect was detected and codes were chosen.
func buildMovement(kind EventKind, deviceID, operatorID string, req Request) (*Movement, []Defect, error) {
	responsible := strings.TrimSpace(req.ResponsibleParty)
	if responsible == "" {
		return nil, nil, reject(CodeInvalidInput, "the responsible party is required")
	}
	sent, err := ParseISODate(req.RepairSentDate)
	if err != nil {
		return nil, nil, rejectf(CodeInvalidInput, "repair sent date: %v", err)
	}
	returned, err := ParseISODate(req.RepairReturnDate)
	if err != nil {
		return nil, nil, rejectf(CodeInvalidInput, "repair return date: %v", err)
	}

	m := &Movement{
		ID:               uuid.New(),
		Kind:             kind,
		DeviceID:         deviceID,
		OperatorID:       operatorID,
		TestPerformed:    req.TestPerformed,
		DefectDetected:   req.DefectDetected,
		FlagForRepair:    req.FlagForRepair,
		Note:             strings.TrimSpace(req.Note),
		ResponsibleParty: responsible,
		RepairSentDate:   sent,
		RepairReturnDate: returned,
		TicketNumber:     strings.TrimSpace(req.TicketNumber),
	}

	if !req.DefectDetected || len(req.Defects) == 0 {
		return m, nil, nil
	}
	chosen, err := ParseDefectChoices(req.Defects)
	if err != nil {
		return nil, nil, err
	}
	defects := make([]Defect, 0, len(chosen))
	for _, code := range chosen {
		defects = append(defects, Defect{
			MovementID:       m.ID,
			Kind:             kind,
			DeviceID:         deviceID,
			Code:             code,
			ResponsibleParty: responsible,
		})
	}
	return m, defects, nil
}

// ParseDefectChoices extracts the codes from "code - description" display
// strings. Repeated codes are kept once.
func ParseDefectChoices(choices []string) ([]string, error) {
	seen := make(map[string]struct{}, len(choices))
	picked := make([]string, 0, len(choices))
	for _, choice := range choices {
		code, _, _ := strings.Cut(choice, " - ")
		code = strings.TrimSpace(code)
		if code == "" {
			return nil, rejectf(CodeInvalidInput, "invalid defect selection %q", choice)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		picked = append(picked, code)
	}
	return picked, nil
}

// ResolveStatus returns the derived state of a device.
func (s *service) ResolveStatus(ctx context.Context, deviceID string) (DerivedState, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.resolve_status")
	defer span.End()

	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return DerivedState{}, reject(CodeMissingDevice, "a collector id is required")
	}
	last, err := s.store.LastMovement(ctx, Normalize(deviceID))
	if err != nil {
		span.RecordError(err)
		return DerivedState{}, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	return Derive(deviceID, last), nil
}

// DefectCodes lists the defect catalog ordered by code.
func (s *service) DefectCodes(ctx context.Context) ([]DefectCode, error) {
	catalog, err := s.store.DefectCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	return catalog, nil
}

// DefectChoices lists the defect catalog as "code - description" strings.
func (s *service) DefectChoices(ctx context.Context) ([]string, error) {
	catalog, err := s.DefectCodes(ctx)
	if err != nil {
		return nil, err
	}
	choices := make([]string, 0, len(catalog))
	for _, c := range catalog {
		choices = append(choices, c.Display())
	}
	return choices, nil
}

// Totals counts registered devices per status. Every status is present.
func (s *service) Totals(ctx context.Context) (Totals, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.totals")
	defer span.End()

	entries, err := s.store.RegistryLatest(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	totals := make(Totals, len(Statuses))
	for _, st := range Statuses {
		totals[st] = 0
	}
	for _, e := range entries {
		if e.LastKind == nil {
			totals[StatusAvailable]++
			continue
		}
		totals[e.LastKind.Status()]++
	}
	return totals, nil
}

// DescribeDevice looks the device up in the registry.
func (s *service) DescribeDevice(ctx context.Context, deviceID string) (DeviceInfo, error) {
	info, err := s.store.LookupDevice(ctx, strings.TrimSpace(deviceID))
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	if info == nil {
		return DeviceInfo{}, fmt.Errorf("collector %s: %w", deviceID, ErrNotFound)
	}
	return *info, nil
}

// DescribeOperator looks the operator up among active users.
func (s *service) DescribeOperator(ctx context.Context, operatorID string) (OperatorInfo, error) {
	info, err := s.store.LookupOperator(ctx, strings.TrimSpace(operatorID))
	if err != nil {
		return OperatorInfo{}, fmt.Errorf("%w: %w", ErrInfrastructure, err)
	}
	if info == nil {
		return OperatorInfo{}, fmt.Errorf("operator %s: %w", operatorID, ErrNotFound)
	}
	return *info, nil
}
