package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager manages saga execution and coordination
type Manager struct {
	logger      *zap.Logger
	instances   map[SagaID]*SagaInstance
	definitions map[string]SagaDefinition
	handlers    []EventHandler
	mu          sync.RWMutex
}

// NewManager creates a new saga manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:      logger.Named("saga"),
		instances:   make(map[SagaID]*SagaInstance),
		definitions: make(map[string]SagaDefinition),
	}
}

// RegisterDefinition registers a saga definition
func (m *Manager) RegisterDefinition(def SagaDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[def.ID()] = def
	m.logger.Info("Saga definition registered", zap.String("id", def.ID()))
}

// OnEvent adds an observer for saga lifecycle events
func (m *Manager) OnEvent(handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// StartSaga starts a new saga instance. The saga runs until it finishes, its
// definition's timeout expires, or ctx is cancelled.
func (m *Manager) StartSaga(ctx context.Context, definitionID string, data SagaData) (SagaID, error) {
	m.mu.Lock()
	def, exists := m.definitions[definitionID]
	if !exists {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrDefinitionNotFound, definitionID)
	}

	sagaID := SagaID(definitionID + "_" + uuid.NewString())

	steps := def.Steps()
	stepExecs := make([]StepExecution, len(steps))
	for i, step := range steps {
		stepExecs[i] = StepExecution{
			ID:    step.ID(),
			State: StepStatePending,
		}
	}

	if data == nil {
		data = SagaData{}
	}
	instance := &SagaInstance{
		ID:         sagaID,
		Definition: definitionID,
		State:      SagaStateStarted,
		Data:       data.clone(),
		Steps:      stepExecs,
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
	}

	m.instances[sagaID] = instance
	m.mu.Unlock()

	m.emitEvent(SagaEvent{
		SagaID:    sagaID,
		Type:      EventSagaStarted,
		Timestamp: time.Now(),
	})

	go m.executeSaga(ctx, sagaID, def, steps)

	m.logger.Info("Saga started", zap.String("sagaID", string(sagaID)), zap.String("definition", definitionID))
	return sagaID, nil
}

// GetSaga returns a snapshot of a saga instance
func (m *Manager) GetSaga(sagaID SagaID) (*SagaInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, exists := m.instances[sagaID]
	if !exists {
		return nil, false
	}
	return instance.snapshot(), true
}

// Wait blocks until the saga finishes or ctx is done. The returned error
// wraps ErrSagaFailed when the saga failed or was compensated.
func (m *Manager) Wait(ctx context.Context, sagaID SagaID) (*SagaInstance, error) {
	m.mu.RLock()
	instance, exists := m.instances[sagaID]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout waiting for saga completion: %w", ctx.Err())
	case <-instance.done:
	}

	snapshot, _ := m.GetSaga(sagaID)
	if snapshot == nil {
		// Pruned between completion and lookup.
		return nil, fmt.Errorf("%w: %s", ErrSagaNotFound, sagaID)
	}
	if snapshot.State != SagaStateCompleted {
		return snapshot, fmt.Errorf("%w: state %s: %s", ErrSagaFailed, snapshot.State, snapshot.Error)
	}
	return snapshot, nil
}

// Prune removes finished instances that completed before the cutoff and
// returns how many were removed
func (m *Manager) Prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, instance := range m.instances {
		if instance.State.Finished() && instance.CompletedAt != nil && instance.CompletedAt.Before(before) {
			delete(m.instances, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of tracked instances
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

func (m *Manager) executeSaga(ctx context.Context, sagaID SagaID, def SagaDefinition, steps []Step) {
	m.updateSagaState(sagaID, SagaStateRunning)

	ctx, cancel := context.WithTimeout(ctx, def.Timeout())
	defer cancel()

	lastCompletedStep := -1
	var failure error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			failure = fmt.Errorf("step %s not started: %w", step.ID(), err)
			break
		}
		if err := m.executeStep(ctx, sagaID, i, step); err != nil {
			m.logger.Error("Step failed",
				zap.String("sagaID", string(sagaID)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			failure = err
			break
		}
		lastCompletedStep = i
	}

	if failure == nil {
		m.finish(sagaID, SagaStateCompleted, EventSagaCompleted, "")
		m.logger.Info("Saga completed", zap.String("sagaID", string(sagaID)))
		return
	}

	if lastCompletedStep < 0 {
		m.finish(sagaID, SagaStateFailed, EventSagaFailed, failure.Error())
		return
	}

	m.logger.Info("Starting compensation", zap.String("sagaID", string(sagaID)))
	m.setData(sagaID, DataKeyFailure, failure.Error())
	// Compensation must run even when the failure was the deadline.
	compCtx, compCancel := context.WithTimeout(context.WithoutCancel(ctx), def.Timeout())
	defer compCancel()
	m.compensateSaga(compCtx, sagaID, steps, lastCompletedStep)
	m.finish(sagaID, SagaStateCompensated, EventSagaCompensated, failure.Error())
	m.logger.Info("Saga compensated", zap.String("sagaID", string(sagaID)))
}

func (m *Manager) executeStep(ctx context.Context, sagaID SagaID, stepIndex int, step Step) error {
	now := time.Now()
	data := m.startStep(sagaID, stepIndex, now)

	m.emitEvent(SagaEvent{
		SagaID:    sagaID,
		StepID:    step.ID(),
		Type:      EventStepStarted,
		Timestamp: now,
	})

	result := step.Execute(ctx, data)
	now = time.Now()

	if result.Success {
		m.completeStep(sagaID, stepIndex, result.Data, now)
		m.emitEvent(SagaEvent{
			SagaID:    sagaID,
			StepID:    step.ID(),
			Type:      EventStepCompleted,
			Timestamp: now,
			Data:      result.Data,
		})
		m.logger.Info("Step completed",
			zap.String("sagaID", string(sagaID)),
			zap.String("stepID", string(step.ID())))
		return nil
	}

	err := result.Error
	if err == nil {
		err = errors.New("step reported failure without an error")
	}
	m.failStep(sagaID, stepIndex, err, now)
	m.emitEvent(SagaEvent{
		SagaID:    sagaID,
		StepID:    step.ID(),
		Type:      EventStepFailed,
		Timestamp: now,
		Data:      err.Error(),
	})
	return err
}

// compensateSaga runs compensation for completed steps in reverse order
func (m *Manager) compensateSaga(ctx context.Context, sagaID SagaID, steps []Step, lastCompletedStep int) {
	for i := lastCompletedStep; i >= 0; i-- {
		step := steps[i]

		m.logger.Info("Compensating step",
			zap.String("sagaID", string(sagaID)),
			zap.String("stepID", string(step.ID())))

		if err := step.Compensate(ctx, m.data(sagaID)); err != nil {
			m.logger.Error("Compensation failed",
				zap.String("sagaID", string(sagaID)),
				zap.String("stepID", string(step.ID())),
				zap.Error(err))
			continue
		}

		m.updateStepState(sagaID, i, StepStateCompensated)
		m.emitEvent(SagaEvent{
			SagaID:    sagaID,
			StepID:    step.ID(),
			Type:      EventStepCompensated,
			Timestamp: time.Now(),
		})
	}
}

func (m *Manager) finish(sagaID SagaID, state SagaState, eventType, errMsg string) {
	now := time.Now()
	m.mu.Lock()
	instance, exists := m.instances[sagaID]
	if exists {
		instance.State = state
		instance.CompletedAt = &now
		instance.Error = errMsg
	}
	m.mu.Unlock()

	m.emitEvent(SagaEvent{
		SagaID:    sagaID,
		Type:      eventType,
		Timestamp: now,
		Data:      errMsg,
	})
	if exists {
		close(instance.done)
	}
}

func (m *Manager) updateSagaState(sagaID SagaID, state SagaState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if instance, exists := m.instances[sagaID]; exists {
		instance.State = state
	}
}

func (m *Manager) updateStepState(sagaID SagaID, stepIndex int, state StepState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if instance, exists := m.instances[sagaID]; exists && stepIndex < len(instance.Steps) {
		instance.Steps[stepIndex].State = state
	}
}

// startStep marks the step running and returns a copy of the saga data for it
func (m *Manager) startStep(sagaID SagaID, stepIndex int, t time.Time) SagaData {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, exists := m.instances[sagaID]
	if !exists {
		return SagaData{}
	}
	if stepIndex < len(instance.Steps) {
		instance.Steps[stepIndex].State = StepStateRunning
		instance.Steps[stepIndex].StartedAt = &t
	}
	return instance.Data.clone()
}

func (m *Manager) completeStep(sagaID SagaID, stepIndex int, result SagaData, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, exists := m.instances[sagaID]
	if !exists || stepIndex >= len(instance.Steps) {
		return
	}
	for k, v := range result {
		instance.Data[k] = v
	}
	exec := &instance.Steps[stepIndex]
	exec.State = StepStateCompleted
	exec.CompletedAt = &t
	exec.Result = result.clone()
}

func (m *Manager) failStep(sagaID SagaID, stepIndex int, err error, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	instance, exists := m.instances[sagaID]
	if !exists || stepIndex >= len(instance.Steps) {
		return
	}
	exec := &instance.Steps[stepIndex]
	exec.State = StepStateFailed
	exec.CompletedAt = &t
	exec.Error = err.Error()
}

func (m *Manager) setData(sagaID SagaID, key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if instance, exists := m.instances[sagaID]; exists {
		instance.Data[key] = value
	}
}

func (m *Manager) data(sagaID SagaID) SagaData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if instance, exists := m.instances[sagaID]; exists {
		return instance.Data.clone()
	}
	return SagaData{}
}

func (m *Manager) emitEvent(event SagaEvent) {
	m.mu.RLock()
	handlers := append([]EventHandler(nil), m.handlers...)
	m.mu.RUnlock()

	m.logger.Debug("Saga event",
		zap.String("sagaID", string(event.SagaID)),
		zap.String("stepID", string(event.StepID)),
		zap.String("type", event.Type))
	for _, h := range handlers {
		h(event)
	}
}
