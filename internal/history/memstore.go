package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/copperline/txgate/model"
)

// MemoryStore is an in-memory Store for testing and single-node use.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]model.WorkflowInstance // key: instance ID
	events    map[string][]model.HistoryEvent   // key: instance ID
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]model.WorkflowInstance),
		events:    make(map[string][]model.HistoryEvent),
	}
}

// CreateInstance persists a new workflow instance.
func (s *MemoryStore) CreateInstance(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q already exists", inst.ID),
		)
	}
	for _, existing := range s.instances {
		if existing.TenantID == inst.TenantID && existing.CorrelationID == inst.CorrelationID {
			return model.NewConflictError(
				fmt.Sprintf("correlation %q already has instance %q", inst.CorrelationID, existing.ID),
			)
		}
	}

	s.instances[inst.ID] = inst
	return nil
}

// GetInstance retrieves a workflow instance by ID.
func (s *MemoryStore) GetInstance(_ context.Context, instanceID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, exists := s.instances[instanceID]
	if !exists {
		return model.WorkflowInstance{}, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}
	return inst, nil
}

// GetByCorrelationID retrieves the instance for a correlation ID.
func (s *MemoryStore) GetByCorrelationID(_ context.Context, tenantID, correlationID string) (model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inst := range s.instances {
		if inst.TenantID == tenantID && inst.CorrelationID == correlationID {
			return inst, nil
		}
	}
	return model.WorkflowInstance{}, model.NewNotFoundError(
		fmt.Sprintf("no instance for correlation %q", correlationID),
	)
}

// UpdateInstance persists an updated instance with optimistic locking.
func (s *MemoryStore) UpdateInstance(_ context.Context, inst model.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ID]
	if !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", inst.ID),
		)
	}

	if existing.Version != inst.Version {
		return model.NewConflictError(
			fmt.Sprintf("workflow instance %q version conflict (expected %d, got %d)", inst.ID, inst.Version, existing.Version),
		)
	}

	inst.Version++
	inst.UpdatedAt = time.Now().UTC()
	s.instances[inst.ID] = inst
	return nil
}

// Append adds one event to the history log, enforcing seq continuity.
func (s *MemoryStore) Append(_ context.Context, instanceID string, expectedSeq int, evt model.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[instanceID]; !exists {
		return model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}

	events := s.events[instanceID]
	if len(events) != expectedSeq {
		return model.NewConcurrencyConflictError(instanceID, expectedSeq)
	}

	evt.InstanceID = instanceID
	evt.Seq = expectedSeq + 1
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.events[instanceID] = append(events, evt)
	return nil
}

// ReadAll returns the ordered history for an instance.
func (s *MemoryStore) ReadAll(_ context.Context, instanceID string) ([]model.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.instances[instanceID]; !exists {
		return nil, model.NewNotFoundError(
			fmt.Sprintf("workflow instance %q not found", instanceID),
		)
	}

	events := s.events[instanceID]
	result := make([]model.HistoryEvent, len(events))
	copy(result, events)
	return result, nil
}

// ListRunnable returns non-terminal instances, oldest first.
func (s *MemoryStore) ListRunnable(_ context.Context, limit int) ([]model.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.WorkflowInstance
	for _, inst := range s.instances {
		if model.IsTerminalState(inst.State) {
			continue
		}
		result = append(result, inst)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

// Len returns the total number of instances. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}
