// Package saga implements C7, forward execution of an ordered list of
// steps with reverse compensation on failure.
package saga

import (
	"context"
	"fmt"
	"time"
)

// Step is one unit of a Saga. Name defaults to the step's Go type name
// when the implementation leaves it blank.
type Step interface {
	Name() string
	Execute(ctx context.Context, data any) error
	Compensate(ctx context.Context, data any) error
}

// Status is a saga instance's lifecycle state.
type Status int

const (
	Pending Status = iota
	Running
	Completed
	Failed
	Compensating
	Compensated
	CompensationFailed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Compensating:
		return "compensating"
	case Compensated:
		return "compensated"
	case CompensationFailed:
		return "compensation_failed"
	default:
		return "unknown"
	}
}

// HistoryEntry records one step's outcome, in execution order.
type HistoryEntry struct {
	StepName   string
	Compensated bool
	Err        error
}

// Started is emitted when a saga begins executing.
type Started struct {
	ID            string
	CorrelationID string
	StartedAt     time.Time
}

// CompletedEvent is emitted when every step succeeds.
type CompletedEvent struct {
	ID            string
	CorrelationID string
	StepsExecuted int
	Duration      time.Duration
}

// FailedEvent is emitted when a step fails before any compensation runs.
type FailedEvent struct {
	ID                         string
	CorrelationID              string
	FailedStep                 string
	Err                        error
	StepsExecutedBeforeFailure int
}

// CompensatedEvent is emitted after the compensation pass completes,
// whether or not every compensation succeeded.
type CompensatedEvent struct {
	ID                    string
	CorrelationID         string
	CompensationSucceeded bool
	StepsCompensated      int
	OriginalErr           error
}

// Observer receives the saga's lifecycle events. Any
// nil field is ignored.
type Observer struct {
	OnStarted     func(Started)
	OnCompleted   func(CompletedEvent)
	OnFailed      func(FailedEvent)
	OnCompensated func(CompensatedEvent)
}

// Instance is a single saga run: an ordered step list plus the mutable
// state (id, correlationId, data, stepIndex, status, history).
type Instance struct {
	ID            string
	CorrelationID string
	Data          any
	Steps         []Step

	StepIndex int
	Status    Status
	History   []HistoryEntry

	observer Observer
}

// New constructs a pending saga instance over the given steps and
// mutable data reference.
func New(id, correlationID string, data any, steps []Step, observer Observer) *Instance {
	return &Instance{
		ID:            id,
		CorrelationID: correlationID,
		Data:          data,
		Steps:         steps,
		Status:        Pending,
		observer:      observer,
	}
}

// Run executes the saga: forward through all steps, or reverse
// compensation from the failing step on error.
// Cancellation is treated as a step failure and triggers compensation.
func (s *Instance) Run(ctx context.Context) error {
	s.Status = Running
	start := time.Now()
	s.emitStarted(start)

	for i, step := range s.Steps {
		s.StepIndex = i

		err := step.Execute(ctx, s.Data)
		if err == nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
		}

		if err != nil {
			s.History = append(s.History, HistoryEntry{StepName: stepName(step), Err: err})
			s.Status = Failed
			s.emitFailed(step, err, i)
			return s.compensate(ctx, i, err)
		}

		s.History = append(s.History, HistoryEntry{StepName: stepName(step)})
	}

	s.Status = Completed
	s.emitCompleted(len(s.Steps), time.Since(start))
	return nil
}

// compensate runs Compensate on steps failedIndex-1..0 in reverse order.
// A compensation failure is recorded but does not abort remaining
// compensations.
func (s *Instance) compensate(ctx context.Context, failedIndex int, originalErr error) error {
	s.Status = Compensating
	compensated := 0
	succeeded := true

	for i := failedIndex - 1; i >= 0; i-- {
		step := s.Steps[i]
		if err := step.Compensate(ctx, s.Data); err != nil {
			succeeded = false
			s.History = append(s.History, HistoryEntry{StepName: stepName(step), Compensated: true, Err: err})
		} else {
			s.History = append(s.History, HistoryEntry{StepName: stepName(step), Compensated: true})
		}
		compensated++
	}

	if succeeded {
		s.Status = Compensated
	} else {
		s.Status = CompensationFailed
	}
	s.emitCompensated(succeeded, compensated, originalErr)
	return originalErr
}

func stepName(s Step) string {
	if n := s.Name(); n != "" {
		return n
	}
	return fmt.Sprintf("%T", s)
}

func (s *Instance) emitStarted(at time.Time) {
	if s.observer.OnStarted != nil {
		s.observer.OnStarted(Started{ID: s.ID, CorrelationID: s.CorrelationID, StartedAt: at})
	}
}

func (s *Instance) emitCompleted(n int, d time.Duration) {
	if s.observer.OnCompleted != nil {
		s.observer.OnCompleted(CompletedEvent{ID: s.ID, CorrelationID: s.CorrelationID, StepsExecuted: n, Duration: d})
	}
}

func (s *Instance) emitFailed(step Step, err error, executedBefore int) {
	if s.observer.OnFailed != nil {
		s.observer.OnFailed(FailedEvent{
			ID:                         s.ID,
			CorrelationID:              s.CorrelationID,
			FailedStep:                 stepName(step),
			Err:                        err,
			StepsExecutedBeforeFailure: executedBefore,
		})
	}
}

func (s *Instance) emitCompensated(succeeded bool, n int, originalErr error) {
	if s.observer.OnCompensated != nil {
		s.observer.OnCompensated(CompensatedEvent{
			ID:                    s.ID,
			CorrelationID:         s.CorrelationID,
			CompensationSucceeded: succeeded,
			StepsCompensated:      n,
			OriginalErr:           originalErr,
		})
	}
}
