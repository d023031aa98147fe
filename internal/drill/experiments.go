// internal/drill/experiments.go
package drill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"collectortrack/internal/circulation"
)

// Auditor inspects the log for consecutive deliveries of one device.
type Auditor interface {
	DoubleDeliveries(ctx context.Context) ([]string, error)
}

// DeliveryDrill configures the ConcurrentDelivery experiment.
type DeliveryDrill struct {
	DeviceID  string
	Operators []string
	// ResponsibleParty is recorded on every movement the drill writes.
	ResponsibleParty string
	Duration         time.Duration
}

// ConcurrentDelivery fires one DELIVER of the same device per operator at
// once. The hypothesis is that exactly one succeeds and the log never shows
// two deliveries in a row. Rollback returns the device from the winner.
func ConcurrentDelivery(svc circulation.Service, audit Auditor, cfg DeliveryDrill) Experiment {
	responsible := cfg.ResponsibleParty
	if responsible == "" {
		responsible = "drill"
	}

	var (
		mu       sync.Mutex
		winners  []string
		rejected int
		failed   int
	)
	delivered := func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return float64(len(winners))
	}

	return Experiment{
		Name:       "concurrent-delivery",
		Hypothesis: "Simultaneous deliveries of one collector record exactly one delivery",
		SteadyState: []Metric{
			{
				Name: "double_deliveries",
				Query: func(ctx context.Context) (float64, error) {
					keys, err := audit.DoubleDeliveries(ctx)
					return float64(len(keys)), err
				},
				Threshold: Threshold{Operator: "==", Value: 0},
			},
			{
				Name: "successful_deliveries",
				Query: func(context.Context) (float64, error) {
					return delivered(), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					// an Experiment value may be run again
					mu.Lock()
					winners, rejected, failed = nil, 0, 0
					mu.Unlock()

					state, err := svc.ResolveStatus(ctx, cfg.DeviceID)
					if err != nil {
						return err
					}
					if state.Status != circulation.StatusAvailable {
						return fmt.Errorf("drill device %s is %s, expected %s", cfg.DeviceID, state.Status, circulation.StatusAvailable)
					}

					var (
						wg    sync.WaitGroup
						start = make(chan struct{})
					)
					for _, operator := range cfg.Operators {
						wg.Add(1)
						go func(operator string) {
							defer wg.Done()
							<-start
							_, err := svc.Process(ctx, circulation.Request{
								Action:           circulation.KindDeliver.String(),
								DeviceID:         cfg.DeviceID,
								OperatorID:       operator,
								ResponsibleParty: responsible,
								Note:             "concurrent delivery drill",
							})
							mu.Lock()
							defer mu.Unlock()
							switch _, isRejection := circulation.AsRejection(err); {
							case err == nil:
								winners = append(winners, operator)
							case isRejection:
								rejected++
							default:
								failed++
							}
						}(operator)
					}
					close(start)
					wg.Wait()

					mu.Lock()
					defer mu.Unlock()
					if failed > 0 {
						return fmt.Errorf("%d of %d deliveries failed outside business rules, %d rejected", failed, len(cfg.Operators), rejected)
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "return-device",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					mu.Lock()
					holders := append([]string(nil), winners...)
					mu.Unlock()
					if len(holders) == 0 {
						return nil
					}
					_, err := svc.Process(ctx, circulation.Request{
						Action:           circulation.KindReturn.String(),
						DeviceID:         cfg.DeviceID,
						OperatorID:       holders[0],
						ResponsibleParty: responsible,
						Note:             "concurrent delivery drill rollback",
					})
					if err != nil && !errors.Is(err, context.Canceled) {
						return fmt.Errorf("return drill device: %w", err)
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "successful_deliveries",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "exactly one concurrent delivery should be recorded",
			},
			{
				Metric:    "double_deliveries",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "no collector should show two consecutive deliveries",
			},
		},
		Duration:       cfg.Duration,
		SampleInterval: 100 * time.Millisecond,
	}
}
