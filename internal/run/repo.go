package run

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("run not found")

	// ErrConflict signals a rejected state transition (e.g. trying to mark a
	// run running that is not in the initialized state).
	ErrConflict = errors.New("run state conflict")
)

// Repo persists call runs. All mutating operations are expressed as
// targeted updates rather than whole-row writes so concurrent callback
// handling cannot clobber unrelated fields.
type Repo interface {
	Create(ctx context.Context, r Run) (Run, error)
	Get(ctx context.Context, id int64) (Run, error)

	// FindByCallID locates the most recent run for a workflow whose
	// initial context records the given vendor call id.
	FindByCallID(ctx context.Context, workflowID int64, callID string) (Run, error)

	// MarkRunning transitions initialized -> running. Returns ErrConflict
	// when the run is in any other state, ErrNotFound when absent.
	MarkRunning(ctx context.Context, id int64) error

	// Complete transitions the run to completed and sets is_completed.
	// The write is conditional on the run not already being completed;
	// the bool reports whether this call won the transition. Callers must
	// only fire completion side effects (slot release, retry signals) when
	// it returns true.
	Complete(ctx context.Context, id int64) (bool, error)

	MergeInitialContext(ctx context.Context, id int64, kv map[string]any) error
	MergeGatheredContext(ctx context.Context, id int64, kv map[string]any) error
	MergeCostInfo(ctx context.Context, id int64, kv map[string]any) error

	// AppendCallTags appends disposition tags to gathered_context.call_tags.
	AppendCallTags(ctx context.Context, id int64, tags []string) error

	// AppendLog appends an entry to a named log stream.
	AppendLog(ctx context.Context, id int64, stream string, entry map[string]any) error
}
