package saga

import (
	"context"
	"errors"
	"time"
)

// SagaState represents the current state of a saga execution
type SagaState string

const (
	SagaStateStarted     SagaState = "started"
	SagaStateRunning     SagaState = "running"
	SagaStateCompleted   SagaState = "completed"
	SagaStateFailed      SagaState = "failed"
	SagaStateCompensated SagaState = "compensated"
)

// Finished reports whether no more steps will run
func (s SagaState) Finished() bool {
	return s == SagaStateCompleted || s == SagaStateFailed || s == SagaStateCompensated
}

// StepState represents the state of an individual step
type StepState string

const (
	StepStatePending     StepState = "pending"
	StepStateRunning     StepState = "running"
	StepStateCompleted   StepState = "completed"
	StepStateFailed      StepState = "failed"
	StepStateCompensated StepState = "compensated"
)

var (
	ErrDefinitionNotFound = errors.New("saga definition not found")
	ErrSagaNotFound       = errors.New("saga not found")
	ErrSagaFailed         = errors.New("saga did not complete")
)

// SagaID uniquely identifies a saga instance
type SagaID string

// StepID uniquely identifies a step within a saga
type StepID string

// SagaData holds the shared data for a saga execution
type SagaData map[string]interface{}

// DataKeyFailure holds the error message of the failed step during compensation
const DataKeyFailure = "saga_failure"

func (d SagaData) clone() SagaData {
	c := make(SagaData, len(d))
	for k, v := range d {
		c[k] = v
	}
	return c
}

// StepResult represents the result of a step execution. Data is merged
// into the saga data before the next step runs.
type StepResult struct {
	Success bool
	Data    SagaData
	Error   error
}

// Succeeded builds a successful result
func Succeeded(data SagaData) StepResult {
	return StepResult{Success: true, Data: data}
}

// Failed builds a failed result
func Failed(err error) StepResult {
	return StepResult{Error: err}
}

// Step represents a single step in a saga. Steps receive a copy of the saga data.
type Step interface {
	ID() StepID
	Execute(ctx context.Context, data SagaData) StepResult
	Compensate(ctx context.Context, data SagaData) error
}

// SagaDefinition defines the steps and flow of a saga
type SagaDefinition interface {
	ID() string
	Steps() []Step
	Timeout() time.Duration
}

// SagaInstance represents a running instance of a saga
type SagaInstance struct {
	ID          SagaID          `json:"id"`
	Definition  string          `json:"definition"`
	State       SagaState       `json:"state"`
	Data        SagaData        `json:"data"`
	Steps       []StepExecution `json:"steps"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Error       string          `json:"error,omitempty"`

	done chan struct{}
}

func (i *SagaInstance) snapshot() *SagaInstance {
	c := *i
	c.Data = i.Data.clone()
	c.Steps = append([]StepExecution(nil), i.Steps...)
	c.done = nil
	return &c
}

// StepExecution represents the execution state of a step
type StepExecution struct {
	ID          StepID     `json:"id"`
	State       StepState  `json:"state"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Result      SagaData   `json:"result,omitempty"`
}

// SagaEvent represents an event in the saga lifecycle
type SagaEvent struct {
	SagaID    SagaID      `json:"saga_id"`
	StepID    StepID      `json:"step_id,omitempty"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// EventHandler observes saga events. It is called synchronously and must not block.
type EventHandler func(SagaEvent)

// Event types
const (
	EventSagaStarted     = "saga_started"
	EventSagaCompleted   = "saga_completed"
	EventSagaFailed      = "saga_failed"
	EventSagaCompensated = "saga_compensated"
	EventStepStarted     = "step_started"
	EventStepCompleted   = "step_completed"
	EventStepFailed      = "step_failed"
	EventStepCompensated = "step_compensated"
)
