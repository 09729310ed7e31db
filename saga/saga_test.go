package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStep struct {
	name        string
	executeErr  error
	compErr     error
	executed    *[]string
	compensated *[]string
}

func (s *recordingStep) Name() string { return s.name }

func (s *recordingStep) Execute(ctx context.Context, data any) error {
	*s.executed = append(*s.executed, s.name)
	return s.executeErr
}

func (s *recordingStep) Compensate(ctx context.Context, data any) error {
	*s.compensated = append(*s.compensated, s.name)
	return s.compErr
}

func TestAllStepsSucceed(t *testing.T) {
	var executed, compensated []string
	steps := []Step{
		&recordingStep{name: "a", executed: &executed, compensated: &compensated},
		&recordingStep{name: "b", executed: &executed, compensated: &compensated},
		&recordingStep{name: "c", executed: &executed, compensated: &compensated},
	}

	var completed *CompletedEvent
	inst := New("s1", "corr1", map[string]int{}, steps, Observer{
		OnCompleted: func(e CompletedEvent) { completed = &e },
	})

	err := inst.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, inst.Status)
	assert.Equal(t, []string{"a", "b", "c"}, executed)
	assert.Empty(t, compensated)
	require.NotNil(t, completed)
	assert.Equal(t, 3, completed.StepsExecuted)
}

// TestFailureAtKCompensatesExactlyKStepsInReverse checks that a failure
// at step k compensates exactly the k steps already executed, in
// reverse order.
func TestFailureAtKCompensatesExactlyKStepsInReverse(t *testing.T) {
	boom := errors.New("boom")
	var executed, compensated []string

	steps := []Step{
		&recordingStep{name: "a", executed: &executed, compensated: &compensated},
		&recordingStep{name: "b", executed: &executed, compensated: &compensated},
		&recordingStep{name: "c", executeErr: boom, executed: &executed, compensated: &compensated},
		&recordingStep{name: "d", executed: &executed, compensated: &compensated},
	}

	var failed *FailedEvent
	var comp *CompensatedEvent
	inst := New("s1", "corr1", nil, steps, Observer{
		OnFailed:      func(e FailedEvent) { failed = &e },
		OnCompensated: func(e CompensatedEvent) { comp = &e },
	})

	err := inst.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, Compensated, inst.Status)
	assert.Equal(t, []string{"a", "b", "c"}, executed, "step d must never execute")
	assert.Equal(t, []string{"b", "a"}, compensated, "compensation runs k-1..0 in reverse")

	require.NotNil(t, failed)
	assert.Equal(t, "c", failed.FailedStep)
	assert.Equal(t, 2, failed.StepsExecutedBeforeFailure)

	require.NotNil(t, comp)
	assert.True(t, comp.CompensationSucceeded)
	assert.Equal(t, 2, comp.StepsCompensated)
}

func TestCompensationFailureRecordedButContinues(t *testing.T) {
	boom := errors.New("boom")
	compErr := errors.New("rollback failed")
	var executed, compensated []string

	steps := []Step{
		&recordingStep{name: "a", executed: &executed, compensated: &compensated},
		&recordingStep{name: "b", compErr: compErr, executed: &executed, compensated: &compensated},
		&recordingStep{name: "c", executeErr: boom, executed: &executed, compensated: &compensated},
	}

	var comp *CompensatedEvent
	inst := New("s1", "", nil, steps, Observer{
		OnCompensated: func(e CompensatedEvent) { comp = &e },
	})

	err := inst.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, CompensationFailed, inst.Status)
	assert.Equal(t, []string{"b", "a"}, compensated, "step a still compensates after step b's compensation fails")

	require.NotNil(t, comp)
	assert.False(t, comp.CompensationSucceeded)
	assert.Equal(t, 2, comp.StepsCompensated)
}

func TestCancellationDuringExecutionTriggersCompensation(t *testing.T) {
	var executed, compensated []string
	ctx, cancel := context.WithCancel(context.Background())

	steps := []Step{
		&recordingStep{name: "a", executed: &executed, compensated: &compensated},
		&cancelingStep{name: "b", cancel: cancel, executed: &executed},
		&recordingStep{name: "c", executed: &executed, compensated: &compensated},
	}

	inst := New("s1", "corr1", nil, steps, Observer{})
	err := inst.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Compensated, inst.Status)
	assert.Equal(t, []string{"a"}, compensated)
}

type cancelingStep struct {
	name     string
	cancel   context.CancelFunc
	executed *[]string
}

func (s *cancelingStep) Name() string { return s.name }

func (s *cancelingStep) Execute(ctx context.Context, data any) error {
	*s.executed = append(*s.executed, s.name)
	s.cancel()
	return nil
}

func (s *cancelingStep) Compensate(context.Context, any) error { return nil }
