package policy

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/copperline/txgate/model"
)

type policyFile struct {
	Tenants []model.TenantPolicy `yaml:"tenants"`
}

// StaticStore resolves policies from a YAML file mapping tenant IDs to
// their compliance settings. The file is loaded once at construction and
// can be re-read with Sync.
type StaticStore struct {
	path     string
	mu       sync.RWMutex
	policies map[string]model.TenantPolicy
}

// NewStaticStore creates a store that loads policies from path.
func NewStaticStore(path string) (*StaticStore, error) {
	s := &StaticStore{path: path}
	if err := s.Sync(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetPolicy returns the policy snapshot for tenantID.
func (s *StaticStore) GetPolicy(_ context.Context, tenantID string) (model.TenantPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[tenantID]
	if !ok {
		return model.TenantPolicy{}, model.NewUnknownTenantError(tenantID)
	}
	return p, nil
}

// Sync reloads the policy file from disk.
func (s *StaticStore) Sync() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("policy: reading %s: %w", s.path, err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("policy: parsing %s: %w", s.path, err)
	}

	policies := make(map[string]model.TenantPolicy, len(f.Tenants))
	for _, p := range f.Tenants {
		if p.TenantID == "" {
			return fmt.Errorf("policy: %s contains an entry without tenant_id", s.path)
		}
		policies[p.TenantID] = p
	}

	s.mu.Lock()
	s.policies = policies
	s.mu.Unlock()

	return nil
}

// MemoryStore is a map-backed Store for tests.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]model.TenantPolicy
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{policies: make(map[string]model.TenantPolicy)}
}

// Put registers a policy for its tenant.
func (s *MemoryStore) Put(p model.TenantPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.TenantID] = p
}

// GetPolicy returns the policy snapshot for tenantID.
func (s *MemoryStore) GetPolicy(_ context.Context, tenantID string) (model.TenantPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[tenantID]
	if !ok {
		return model.TenantPolicy{}, model.NewUnknownTenantError(tenantID)
	}
	return p, nil
}
