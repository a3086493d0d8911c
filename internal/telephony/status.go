package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"voicegate/internal/campaign"
	"voicegate/internal/run"
)

// terminalFailureStatuses are the callback statuses that end a call without
// a conversation. busy and no-answer additionally qualify campaign calls
// for a retry.
var terminalFailureStatuses = map[string]bool{
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// StatusProcessor applies vendor status callbacks to runs and fires the
// campaign side effects tied to terminal transitions. Callbacks for the
// same run are serialized with a keyed mutex, and completion side effects
// run only for the callback that wins the conditional completed write, so
// duplicate vendor deliveries cannot double-release a slot or double-publish
// a retry.
type StatusProcessor struct {
	runs   run.Repo
	slots  campaign.SlotReleaser
	events campaign.EventPublisher
	log    *slog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewStatusProcessor(runs run.Repo, slots campaign.SlotReleaser, events campaign.EventPublisher, log *slog.Logger) *StatusProcessor {
	return &StatusProcessor{
		runs:   runs,
		slots:  slots,
		events: events,
		log:    log,
		clock:  time.Now,
		locks:  map[int64]*sync.Mutex{},
	}
}

func (s *StatusProcessor) lockFor(runID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[runID] = l
	}
	return l
}

// Process applies one canonical status update to a run.
func (s *StatusProcessor) Process(ctx context.Context, runID int64, su StatusUpdate) error {
	l := s.lockFor(runID)
	l.Lock()
	defer l.Unlock()

	entry := map[string]any{
		"status":    su.Status,
		"timestamp": s.clock().UTC().Format(time.RFC3339),
		"call_id":   su.CallID,
		"duration":  su.Duration,
	}
	for k, v := range su.Extra {
		entry[k] = v
	}
	if err := s.runs.AppendLog(ctx, runID, run.LogStreamStatusCallbacks, entry); err != nil {
		return fmt.Errorf("append status callback log: %w", err)
	}

	r, err := s.runs.Get(ctx, runID)
	if err != nil {
		return err
	}

	switch {
	case su.Status == "completed":
		return s.handleCompleted(ctx, r, su)
	case terminalFailureStatuses[su.Status]:
		return s.handleFailure(ctx, r, su)
	default:
		return nil
	}
}

func (s *StatusProcessor) handleCompleted(ctx context.Context, r run.Run, su StatusUpdate) error {
	won, err := s.runs.Complete(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("complete run %d: %w", r.ID, err)
	}
	if !won {
		s.log.Info("duplicate completed callback ignored", slog.Int64("run_id", r.ID))
		return nil
	}

	s.log.Info("call completed",
		slog.Int64("run_id", r.ID), slog.String("duration", su.Duration))

	if r.CampaignID != nil {
		if err := s.slots.Release(ctx, *r.CampaignID); err != nil {
			s.log.Error("slot release failed",
				slog.Int64("run_id", r.ID), slog.Int64("campaign_id", *r.CampaignID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *StatusProcessor) handleFailure(ctx context.Context, r run.Run, su StatusUpdate) error {
	won, err := s.runs.Complete(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("complete run %d: %w", r.ID, err)
	}
	if !won {
		s.log.Info("duplicate terminal callback ignored",
			slog.Int64("run_id", r.ID), slog.String("status", su.Status))
		return nil
	}

	s.log.Warn("call ended without connecting",
		slog.Int64("run_id", r.ID), slog.String("status", su.Status))

	if r.CampaignID != nil {
		if err := s.slots.Release(ctx, *r.CampaignID); err != nil {
			s.log.Error("slot release failed",
				slog.Int64("run_id", r.ID), slog.Int64("campaign_id", *r.CampaignID),
				slog.String("error", err.Error()))
		}

		if su.Status == "busy" || su.Status == "no-answer" {
			ev := campaign.RetryEvent{
				RunID:       r.ID,
				CampaignID:  *r.CampaignID,
				Reason:      strings.ReplaceAll(su.Status, "-", "_"),
				QueuedRunID: r.QueuedRunID,
			}
			if err := s.events.PublishRetry(ctx, ev); err != nil {
				s.log.Error("retry event publish failed",
					slog.Int64("run_id", r.ID), slog.String("error", err.Error()))
			}
		}
	}

	tags := []string{"not_connected", "telephony_" + strings.ToLower(su.Status)}
	if err := s.runs.AppendCallTags(ctx, r.ID, tags); err != nil {
		s.log.Error("call tag append failed",
			slog.Int64("run_id", r.ID), slog.String("error", err.Error()))
	}
	return nil
}

// LogRinging records a ring event without touching run state. Vobiz sends
// these to a dedicated ring callback.
func (s *StatusProcessor) LogRinging(ctx context.Context, runID int64, callID string, raw map[string]any) error {
	entry := map[string]any{
		"status":     "ringing",
		"timestamp":  s.clock().UTC().Format(time.RFC3339),
		"call_id":    callID,
		"event_type": "ring",
		"raw_data":   raw,
	}
	return s.runs.AppendLog(ctx, runID, run.LogStreamStatusCallbacks, entry)
}

// CaptureVonageCost merges webhook-reported pricing into the run's cost
// info. Vonage sometimes attaches price and rate to the completion event.
func (s *StatusProcessor) CaptureVonageCost(ctx context.Context, runID int64, event map[string]any) {
	kv := map[string]any{}
	if v := stringField(event, "price"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			kv["vonage_webhook_price"] = f
		}
	}
	if v := stringField(event, "rate"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			kv["vonage_webhook_rate"] = f
		}
	}
	if v := stringField(event, "duration"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			kv["vonage_webhook_duration"] = n
		}
	}
	if len(kv) == 0 {
		return
	}
	if err := s.runs.MergeCostInfo(ctx, runID, kv); err != nil {
		s.log.Error("vonage cost capture failed",
			slog.Int64("run_id", runID), slog.String("error", err.Error()))
	}
}
