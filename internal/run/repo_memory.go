package run

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory run repository for tests and early development.
// It enforces the same transition conditions as the Postgres implementation.
type MemoryRepo struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]*Run

	clock func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{nextID: 1, runs: map[int64]*Run{}, clock: time.Now}
}

func (m *MemoryRepo) Create(_ context.Context, r Run) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.nextID
	m.nextID++
	if r.State == "" {
		r.State = StateInitialized
	}
	now := m.clock().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	cp := cloneRun(r)
	m.runs[r.ID] = &cp
	return r, nil
}

func (m *MemoryRepo) Get(_ context.Context, id int64) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(*r), nil
}

func (m *MemoryRepo) FindByCallID(_ context.Context, workflowID int64, callID string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Run
	for _, r := range m.runs {
		if r.WorkflowID != workflowID {
			continue
		}
		if cid, _ := r.InitialContext["call_id"].(string); cid != callID {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return Run{}, ErrNotFound
	}
	return cloneRun(*best), nil
}

func (m *MemoryRepo) MarkRunning(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.State != StateInitialized {
		return ErrConflict
	}
	r.State = StateRunning
	r.UpdatedAt = m.clock().UTC()
	return nil
}

func (m *MemoryRepo) Complete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return false, ErrNotFound
	}
	if r.IsCompleted {
		return false, nil
	}
	r.State = StateCompleted
	r.IsCompleted = true
	r.UpdatedAt = m.clock().UTC()
	return true, nil
}

func (m *MemoryRepo) MergeInitialContext(_ context.Context, id int64, kv map[string]any) error {
	return m.merge(id, kv, func(r *Run) *map[string]any { return &r.InitialContext })
}

func (m *MemoryRepo) MergeGatheredContext(_ context.Context, id int64, kv map[string]any) error {
	return m.merge(id, kv, func(r *Run) *map[string]any { return &r.GatheredContext })
}

func (m *MemoryRepo) MergeCostInfo(_ context.Context, id int64, kv map[string]any) error {
	return m.merge(id, kv, func(r *Run) *map[string]any { return &r.CostInfo })
}

func (m *MemoryRepo) AppendCallTags(_ context.Context, id int64, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.GatheredContext == nil {
		r.GatheredContext = map[string]any{}
	}
	existing := (*r).CallTags()
	merged := make([]any, 0, len(existing)+len(tags))
	for _, t := range existing {
		merged = append(merged, t)
	}
	for _, t := range tags {
		merged = append(merged, t)
	}
	r.GatheredContext["call_tags"] = merged
	r.UpdatedAt = m.clock().UTC()
	return nil
}

func (m *MemoryRepo) AppendLog(_ context.Context, id int64, stream string, entry map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.Logs == nil {
		r.Logs = map[string][]map[string]any{}
	}
	cp := make(map[string]any, len(entry))
	for k, v := range entry {
		cp[k] = v
	}
	r.Logs[stream] = append(r.Logs[stream], cp)
	r.UpdatedAt = m.clock().UTC()
	return nil
}

func (m *MemoryRepo) merge(id int64, kv map[string]any, field func(*Run) *map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	dst := field(r)
	if *dst == nil {
		*dst = map[string]any{}
	}
	for k, v := range kv {
		(*dst)[k] = v
	}
	r.UpdatedAt = m.clock().UTC()
	return nil
}

func cloneRun(r Run) Run {
	out := r
	out.InitialContext = cloneMap(r.InitialContext)
	out.GatheredContext = cloneMap(r.GatheredContext)
	out.CostInfo = cloneMap(r.CostInfo)
	if r.Logs != nil {
		out.Logs = make(map[string][]map[string]any, len(r.Logs))
		for k, entries := range r.Logs {
			cp := make([]map[string]any, len(entries))
			for i, e := range entries {
				cp[i] = cloneMap(e)
			}
			out.Logs[k] = cp
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
