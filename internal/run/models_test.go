package run

import (
	"context"
	"regexp"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateInitialized, StateRunning, true},
		{StateInitialized, StateCompleted, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateInitialized, false},
		{StateCompleted, StateRunning, false},
		{StateCompleted, StateInitialized, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Fatalf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestNewNameShape(t *testing.T) {
	out := regexp.MustCompile(`^WR-TEL-OUT-\d{8}$`)
	in := regexp.MustCompile(`^WR-TEL-IN-\d{8}$`)

	for i := 0; i < 20; i++ {
		if n := NewName(CallTypeOutbound); !out.MatchString(n) {
			t.Fatalf("bad outbound name %q", n)
		}
		if n := NewName(CallTypeInbound); !in.MatchString(n) {
			t.Fatalf("bad inbound name %q", n)
		}
	}
}

func TestMemoryRepoMarkRunningGuards(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	r, err := repo.Create(ctx, Run{Name: NewName(CallTypeOutbound), WorkflowID: 1, UserID: 1, Mode: "twilio", CallType: CallTypeOutbound})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.State != StateInitialized {
		t.Fatalf("expected initialized, got %s", r.State)
	}

	if err := repo.MarkRunning(ctx, r.ID); err != nil {
		t.Fatalf("first mark running: %v", err)
	}
	if err := repo.MarkRunning(ctx, r.ID); err != ErrConflict {
		t.Fatalf("second mark running: got %v, want ErrConflict", err)
	}
	if err := repo.MarkRunning(ctx, 999); err != ErrNotFound {
		t.Fatalf("missing run: got %v, want ErrNotFound", err)
	}
}

func TestMemoryRepoCompleteIsConditional(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	r, _ := repo.Create(ctx, Run{Name: "n", WorkflowID: 1, UserID: 1, Mode: "twilio", CallType: CallTypeOutbound})

	won, err := repo.Complete(ctx, r.ID)
	if err != nil || !won {
		t.Fatalf("first complete: won=%v err=%v", won, err)
	}
	won, err = repo.Complete(ctx, r.ID)
	if err != nil || won {
		t.Fatalf("second complete: won=%v err=%v", won, err)
	}

	got, _ := repo.Get(ctx, r.ID)
	if got.State != StateCompleted || !got.IsCompleted {
		t.Fatalf("unexpected terminal state: %+v", got)
	}
}

func TestMemoryRepoFindByCallID(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	_, _ = repo.Create(ctx, Run{WorkflowID: 5, InitialContext: map[string]any{"call_id": "other"}})
	want, _ := repo.Create(ctx, Run{WorkflowID: 5, InitialContext: map[string]any{"call_id": "uuid-1"}})

	got, err := repo.FindByCallID(ctx, 5, "uuid-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != want.ID {
		t.Fatalf("got run %d, want %d", got.ID, want.ID)
	}

	if _, err := repo.FindByCallID(ctx, 5, "nope"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestMemoryRepoAppendCallTagsAndLogs(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	r, _ := repo.Create(ctx, Run{WorkflowID: 1})
	if err := repo.AppendCallTags(ctx, r.ID, []string{"not_connected", "telephony_busy"}); err != nil {
		t.Fatalf("tags: %v", err)
	}
	if err := repo.AppendLog(ctx, r.ID, LogStreamStatusCallbacks, map[string]any{"status": "busy"}); err != nil {
		t.Fatalf("log: %v", err)
	}

	got, _ := repo.Get(ctx, r.ID)
	tags := got.CallTags()
	if len(tags) != 2 || tags[0] != "not_connected" {
		t.Fatalf("unexpected tags: %v", tags)
	}
	if len(got.Logs[LogStreamStatusCallbacks]) != 1 {
		t.Fatalf("expected one log entry, got %+v", got.Logs)
	}
}
