package org

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryRepo is an in-memory org repository for tests.
type MemoryRepo struct {
	mu          sync.Mutex
	workflows   map[int64]Workflow
	configs     map[int64]json.RawMessage
	userConfigs map[int64]UserConfig
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		workflows:   map[int64]Workflow{},
		configs:     map[int64]json.RawMessage{},
		userConfigs: map[int64]UserConfig{},
	}
}

func (m *MemoryRepo) PutWorkflow(w Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[w.ID] = w
}

func (m *MemoryRepo) PutTelephonyConfig(organizationID int64, raw json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[organizationID] = append(json.RawMessage(nil), raw...)
}

func (m *MemoryRepo) PutUserConfig(uc UserConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userConfigs[uc.UserID] = uc
}

func (m *MemoryRepo) Workflow(_ context.Context, id int64) (Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.workflows[id]
	if !ok {
		return Workflow{}, ErrNotFound
	}
	return w, nil
}

func (m *MemoryRepo) TelephonyConfig(_ context.Context, organizationID int64) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.configs[organizationID]
	if !ok {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), raw...), nil
}

func (m *MemoryRepo) UserConfig(_ context.Context, userID int64) (UserConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uc, ok := m.userConfigs[userID]
	if !ok {
		return UserConfig{}, ErrNotFound
	}
	return uc, nil
}
