package progress

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Common errors.
var (
	// ErrOperationExists is returned when the owner already has an active operation.
	ErrOperationExists = errors.New("operation already exists for this owner")
	// ErrOperationNotFound is returned when the operation doesn't exist.
	ErrOperationNotFound = errors.New("operation not found")
)

const (
	defaultStaleDuration   = 5 * time.Minute
	defaultCleanupInterval = time.Minute
	subscriberBuffer       = 100
)

// Subscriber receives events for the operations its filter matches.
type Subscriber struct {
	ID     string
	Filter *Filter
	Events chan *Event
}

// Service tracks operations and broadcasts their changes.
type Service struct {
	mu          sync.RWMutex
	operations  map[string]*Operation
	ownerIndex  map[string]string // type:owner -> operation id
	subscribers map[string]*Subscriber
	logger      *slog.Logger

	staleDuration time.Duration
	stopOnce      sync.Once
	stop          chan struct{}
}

// NewService creates a progress service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		operations:    make(map[string]*Operation),
		ownerIndex:    make(map[string]string),
		subscribers:   make(map[string]*Subscriber),
		logger:        logger.With(slog.String("component", "progress")),
		staleDuration: defaultStaleDuration,
		stop:          make(chan struct{}),
	}
}

// Start begins removing finished operations once they are stale.
func (s *Service) Start() {
	go func() {
		ticker := time.NewTicker(defaultCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.cleanupStale()
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts background cleanup and closes every subscriber.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, sub := range s.subscribers {
			close(sub.Events)
			delete(s.subscribers, id)
		}
	})
}

func (s *Service) cleanupStale() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.staleDuration)
	removed := 0
	for id, op := range s.operations {
		if op.State.IsTerminal() && op.CompletedAt != nil && op.CompletedAt.Before(cutoff) {
			delete(s.operations, id)
			key := ownerKey(op.Type, op.OwnerID)
			if s.ownerIndex[key] == id {
				delete(s.ownerIndex, key)
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("cleaned up stale operations", slog.Int("count", removed))
	}
}

func ownerKey(typ OperationType, ownerID string) string {
	return string(typ) + ":" + ownerID
}

// StartOperation begins tracking an operation for an owner. It fails with
// ErrOperationExists while the owner has an active operation of that type.
func (s *Service) StartOperation(typ OperationType, ownerID, message string) (*OperationManager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ownerKey(typ, ownerID)
	if existing, ok := s.ownerIndex[key]; ok {
		if op, ok := s.operations[existing]; ok && op.State.IsActive() {
			return nil, ErrOperationExists
		}
	}

	now := time.Now()
	op := &Operation{
		ID:        ulid.Make().String(),
		Type:      typ,
		OwnerID:   ownerID,
		State:     StatePending,
		Message:   message,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.operations[op.ID] = op
	s.ownerIndex[key] = op.ID
	s.broadcastLocked(op)

	return &OperationManager{service: s, operationID: op.ID}, nil
}

// GetOperation returns a copy of an operation.
func (s *Service) GetOperation(id string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.operations[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return op.Clone(), nil
}

// GetOperationByOwner returns the latest operation of a type for an owner.
func (s *Service) GetOperationByOwner(typ OperationType, ownerID string) (*Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ownerIndex[ownerKey(typ, ownerID)]
	if !ok {
		return nil, ErrOperationNotFound
	}
	op, ok := s.operations[id]
	if !ok {
		return nil, ErrOperationNotFound
	}
	return op.Clone(), nil
}

// Manager returns the manager of an existing operation.
func (s *Service) Manager(id string) (*OperationManager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.operations[id]; !ok {
		return nil, ErrOperationNotFound
	}
	return &OperationManager{service: s, operationID: id}, nil
}

// ListOperations returns the operations matching filter, oldest first.
func (s *Service) ListOperations(filter *Filter) []*Operation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Operation
	for _, op := range s.operations {
		if filter.Matches(op) {
			result = append(result, op.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *Operation) int { return a.StartedAt.Compare(b.StartedAt) })
	return result
}

// Subscribe registers a subscriber. Events are dropped for subscribers that
// fall behind.
func (s *Service) Subscribe(filter *Filter) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:     ulid.Make().String(),
		Filter: filter,
		Events: make(chan *Event, subscriberBuffer),
	}
	s.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.Events)
		delete(s.subscribers, id)
	}
}

func (s *Service) update(id string, fn func(*Operation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[id]
	if !ok {
		return ErrOperationNotFound
	}
	if op.State.IsTerminal() {
		return nil
	}
	fn(op)
	op.UpdatedAt = time.Now()
	if op.State.IsTerminal() {
		op.CompletedAt = &op.UpdatedAt
	}
	s.broadcastLocked(op)
	return nil
}

// broadcastLocked must be called with s.mu held.
func (s *Service) broadcastLocked(op *Operation) {
	event := &Event{
		EventType: eventTypeForState(op.State),
		Operation: op.Clone(),
		Timestamp: time.Now(),
	}
	for _, sub := range s.subscribers {
		if !sub.Filter.Matches(op) {
			continue
		}
		select {
		case sub.Events <- event:
		default:
			s.logger.Warn("subscriber event channel full, dropping event",
				slog.String("subscriber_id", sub.ID),
				slog.String("operation_id", op.ID))
		}
	}
}

// OperationManager updates one operation. Updates after the operation has
// finished are ignored.
type OperationManager struct {
	service     *Service
	operationID string
}

// OperationID returns the ID of the managed operation.
func (m *OperationManager) OperationID() string {
	return m.operationID
}

// SetProgress records a percentage and moves a pending or paused operation
// to running. Percent never decreases.
func (m *OperationManager) SetProgress(percent float64, message string) {
	_ = m.service.update(m.operationID, func(op *Operation) {
		op.State = StateRunning
		op.Percent = max(op.Percent, min(percent, 100))
		if message != "" {
			op.Message = message
		}
	})
}

// SetState changes the state without touching progress.
func (m *OperationManager) SetState(state State, message string) {
	_ = m.service.update(m.operationID, func(op *Operation) {
		op.State = state
		if message != "" {
			op.Message = message
		}
	})
}

// SetMetadata sets a metadata value.
func (m *OperationManager) SetMetadata(key string, value any) {
	_ = m.service.update(m.operationID, func(op *Operation) {
		if op.Metadata == nil {
			op.Metadata = make(map[string]any)
		}
		op.Metadata[key] = value
	})
}

// Complete marks the operation as completed.
func (m *OperationManager) Complete(message string) {
	_ = m.service.update(m.operationID, func(op *Operation) {
		op.State = StateCompleted
		op.Percent = 100
		op.Message = message
	})
}

// Fail marks the operation as failed.
func (m *OperationManager) Fail(err error) {
	_ = m.service.update(m.operationID, func(op *Operation) {
		op.State = StateFailed
		op.Error = err.Error()
		op.Message = "operation failed"
	})
}

// Cancel marks the operation as cancelled.
func (m *OperationManager) Cancel(message string) {
	_ = m.service.update(m.operationID, func(op *Operation) {
		op.State = StateCancelled
		op.Message = message
	})
}
