// internal/drill/drill.go

// Package drill runs operational experiments against a live movement log:
// check a steady state, inject a fault, observe, roll back and assert.
package drill

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrSteadyStateInvalid aborts an experiment before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid, experiment aborted")

// Experiment defines a drill.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Duration bounds the observation phase. At least one sample is taken.
	Duration       time.Duration
	SampleInterval time.Duration
}

// Metric defines a measurable property of the log.
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is a fault injection or recovery step.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the final observation of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures one experiment run.
type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer  trace.Tracer
	logger  *zap.Logger
	results []Result
	mu      sync.Mutex
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tracer: otel.Tracer("collectortrack/drill"),
		logger: logger.Named("drill"),
	}
}

// Results returns the runs completed so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment. A steady state that does not hold returns
// ErrSteadyStateInvalid with the violations in the result.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "drill.run",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	log := e.logger.With(zap.String("experiment", exp.Name))
	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string][]DataPoint),
		ErrorEvents:  make([]ErrorEvent, 0),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.steadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		log.Warn("steady state does not hold", zap.Int("violations", len(violations)))
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_fault")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
			log.Error("method failed", zap.String("target", action.Target), zap.Error(err))
		}
	}

	span.AddEvent("observing")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
			log.Error("rollback failed", zap.String("target", action.Target), zap.Error(err))
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = validate(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	log.Info("experiment finished",
		zap.Bool("hypothesis_held", result.HypothesisHeld),
		zap.Int("violations", len(result.Violations)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	interval := exp.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	e.sample(ctx, exp.SteadyState, result)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
			e.sample(ctx, exp.SteadyState, result)
		}
	}
}

func (e *Engine) sample(ctx context.Context, metrics []Metric, result *Result) {
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			result.recordError(metric.Name, err)
			continue
		}
		now := time.Now()
		result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})
		if !metric.Threshold.Holds(value) {
			result.Violations = append(result.Violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  now,
			})
		}
	}
}

func (e *Engine) steadyState(ctx context.Context, metrics []Metric) []MetricViolation {
	var violations []MetricViolation
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			value = -1
		}
		if err != nil || !metric.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}
	return violations
}

// validate returns the messages of the assertions whose metric's final
// observation fails, or that were never observed.
func validate(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		observations := result.Observations[a.Metric]
		if len(observations) == 0 || !a.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

func (r *Result) recordError(component string, err error) {
	r.ErrorEvents = append(r.ErrorEvents, ErrorEvent{
		Timestamp: time.Now(),
		Error:     err.Error(),
		Component: component,
	})
}
