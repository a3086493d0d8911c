package telephony

import (
	"context"
	"testing"

	"voicegate/internal/campaign"
	"voicegate/internal/run"
	"voicegate/pkg/logger"
)

func newTestProcessor(t *testing.T) (*StatusProcessor, *run.MemoryRepo, *campaign.MemorySlots, *campaign.MemoryPublisher) {
	t.Helper()
	runs := run.NewMemoryRepo()
	slots := &campaign.MemorySlots{}
	events := &campaign.MemoryPublisher{}
	return NewStatusProcessor(runs, slots, events, logger.New("test")), runs, slots, events
}

func campaignRun(t *testing.T, runs *run.MemoryRepo, campaignID int64) run.Run {
	t.Helper()
	queued := int64(77)
	r, err := runs.Create(context.Background(), run.Run{
		Name:        run.NewName(run.CallTypeOutbound),
		WorkflowID:  1,
		UserID:      1,
		Mode:        ProviderTwilio,
		CallType:    run.CallTypeOutbound,
		CampaignID:  &campaignID,
		QueuedRunID: &queued,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return r
}

func TestCompletedReleasesSlotExactlyOnce(t *testing.T) {
	proc, runs, slots, events := newTestProcessor(t)
	ctx := context.Background()
	r := campaignRun(t, runs, 5)

	su := StatusUpdate{CallID: "X", Status: "completed", Duration: "42"}
	if err := proc.Process(ctx, r.ID, su); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	// Vendors redeliver; the duplicate must be side-effect free.
	if err := proc.Process(ctx, r.ID, su); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}

	if len(slots.Released) != 1 || slots.Released[0] != 5 {
		t.Fatalf("expected one slot release for campaign 5, got %v", slots.Released)
	}
	if len(events.Events) != 0 {
		t.Fatalf("completed must not publish retries, got %v", events.Events)
	}

	got, _ := runs.Get(ctx, r.ID)
	if got.State != run.StateCompleted || !got.IsCompleted {
		t.Fatalf("run not completed: %+v", got)
	}
	if len(got.Logs[run.LogStreamStatusCallbacks]) != 2 {
		t.Fatalf("every callback should be logged, got %d entries", len(got.Logs[run.LogStreamStatusCallbacks]))
	}
}

func TestCompletedWithoutCampaignSkipsSlotRelease(t *testing.T) {
	proc, runs, slots, _ := newTestProcessor(t)
	ctx := context.Background()

	r, _ := runs.Create(ctx, run.Run{Name: "n", WorkflowID: 1, UserID: 1, Mode: ProviderTwilio, CallType: run.CallTypeOutbound})
	if err := proc.Process(ctx, r.ID, StatusUpdate{CallID: "X", Status: "completed"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(slots.Released) != 0 {
		t.Fatalf("no campaign, no slot release; got %v", slots.Released)
	}
}

func TestBusyPublishesSingleRetryWithUnderscoredReason(t *testing.T) {
	proc, runs, slots, events := newTestProcessor(t)
	ctx := context.Background()
	r := campaignRun(t, runs, 9)

	su := StatusUpdate{CallID: "X", Status: "no-answer"}
	if err := proc.Process(ctx, r.ID, su); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if err := proc.Process(ctx, r.ID, su); err != nil {
		t.Fatalf("duplicate callback: %v", err)
	}

	if len(events.Events) != 1 {
		t.Fatalf("expected exactly one retry event, got %d", len(events.Events))
	}
	ev := events.Events[0]
	if ev.Reason != "no_answer" {
		t.Fatalf("reason not underscored: %q", ev.Reason)
	}
	if ev.RunID != r.ID || ev.CampaignID != 9 {
		t.Fatalf("unexpected retry event: %+v", ev)
	}
	if ev.QueuedRunID == nil || *ev.QueuedRunID != 77 {
		t.Fatalf("queued run id not carried: %+v", ev)
	}
	if len(slots.Released) != 1 {
		t.Fatalf("expected one slot release, got %v", slots.Released)
	}
}

func TestFailedTagsRunWithoutRetry(t *testing.T) {
	proc, runs, _, events := newTestProcessor(t)
	ctx := context.Background()
	r := campaignRun(t, runs, 3)

	if err := proc.Process(ctx, r.ID, StatusUpdate{CallID: "X", Status: "failed"}); err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(events.Events) != 0 {
		t.Fatalf("failed must not publish retries, got %v", events.Events)
	}

	got, _ := runs.Get(ctx, r.ID)
	tags := got.CallTags()
	if len(tags) != 2 || tags[0] != "not_connected" || tags[1] != "telephony_failed" {
		t.Fatalf("unexpected tags: %v", tags)
	}
	if got.State != run.StateCompleted {
		t.Fatalf("failed call should complete the run, got %s", got.State)
	}
}

func TestNonTerminalStatusOnlyLogs(t *testing.T) {
	proc, runs, slots, events := newTestProcessor(t)
	ctx := context.Background()
	r := campaignRun(t, runs, 3)

	if err := proc.Process(ctx, r.ID, StatusUpdate{CallID: "X", Status: "ringing"}); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := runs.Get(ctx, r.ID)
	if got.State != run.StateInitialized || got.IsCompleted {
		t.Fatalf("ringing must not complete the run: %+v", got)
	}
	if len(slots.Released) != 0 || len(events.Events) != 0 {
		t.Fatal("ringing must not trigger side effects")
	}
	if len(got.Logs[run.LogStreamStatusCallbacks]) != 1 {
		t.Fatalf("expected one log entry, got %d", len(got.Logs[run.LogStreamStatusCallbacks]))
	}
}

func TestLogRinging(t *testing.T) {
	proc, runs, _, _ := newTestProcessor(t)
	ctx := context.Background()
	r := campaignRun(t, runs, 3)

	if err := proc.LogRinging(ctx, r.ID, "vb-1", map[string]any{"CallUUID": "vb-1"}); err != nil {
		t.Fatalf("log ringing: %v", err)
	}
	got, _ := runs.Get(ctx, r.ID)
	entries := got.Logs[run.LogStreamStatusCallbacks]
	if len(entries) != 1 || entries[0]["event_type"] != "ring" {
		t.Fatalf("unexpected ring entry: %+v", entries)
	}
}

func TestCaptureVonageCost(t *testing.T) {
	proc, runs, _, _ := newTestProcessor(t)
	ctx := context.Background()
	r := campaignRun(t, runs, 3)

	proc.CaptureVonageCost(ctx, r.ID, map[string]any{
		"price":    "0.0450",
		"rate":     "0.0090",
		"duration": "33",
	})

	got, _ := runs.Get(ctx, r.ID)
	if got.CostInfo["vonage_webhook_price"] != 0.045 {
		t.Fatalf("price not captured: %v", got.CostInfo)
	}
	if got.CostInfo["vonage_webhook_duration"] != 33 {
		t.Fatalf("duration not captured: %v", got.CostInfo)
	}
}
