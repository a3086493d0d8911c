package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voicegate/internal/org"
	"voicegate/internal/quota"
	"voicegate/internal/run"
)

var (
	// ErrNotConfigured means the organization has no usable telephony
	// credentials for outbound calling.
	ErrNotConfigured = errors.New("telephony not configured")

	// ErrQuotaExceeded means the user has no call quota left.
	ErrQuotaExceeded = errors.New("call quota exceeded")

	// ErrMissingDestination means neither the request nor the user's
	// configuration supplied a number to dial.
	ErrMissingDestination = errors.New("phone number must be provided in request or set in user configuration")

	// ErrRunNotFound means the caller referenced a run that does not exist.
	ErrRunNotFound = errors.New("workflow run not found")
)

// InitiateRequest is the operator-facing outbound call request.
type InitiateRequest struct {
	WorkflowID  int64
	RunID       *int64
	PhoneNumber string
}

// InitiateResult reports the run the call was attached to.
type InitiateResult struct {
	RunID   int64
	RunName string
	CallID  string
}

// Initiator orchestrates outbound call creation: provider resolution, quota
// check, destination resolution, run creation, the vendor API call, and
// metadata persistence. Failures are typed; nothing is retried here.
type Initiator struct {
	registry *Registry
	runs     run.Repo
	orgs     org.Repo
	quota    quota.Checker
	host     string
	log      *slog.Logger
}

func NewInitiator(registry *Registry, runs run.Repo, orgs org.Repo, q quota.Checker, publicHost string, log *slog.Logger) *Initiator {
	return &Initiator{registry: registry, runs: runs, orgs: orgs, quota: q, host: publicHost, log: log}
}

func (i *Initiator) Initiate(ctx context.Context, userID, organizationID int64, req InitiateRequest) (InitiateResult, error) {
	provider, err := i.registry.Provider(ctx, organizationID)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return InitiateResult{}, ErrNotConfigured
		}
		return InitiateResult{}, err
	}
	if !provider.ValidateConfig() {
		return InitiateResult{}, ErrNotConfigured
	}

	quotaResult, err := i.quota.Check(ctx, userID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("quota check: %w", err)
	}
	if !quotaResult.HasQuota {
		return InitiateResult{}, fmt.Errorf("%w: %s", ErrQuotaExceeded, quotaResult.Reason)
	}

	toNumber := req.PhoneNumber
	if toNumber == "" {
		uc, err := i.orgs.UserConfig(ctx, userID)
		if err == nil {
			toNumber = uc.TestPhoneNumber
		}
	}
	if toNumber == "" {
		return InitiateResult{}, ErrMissingDestination
	}

	var target run.Run
	if req.RunID != nil {
		target, err = i.runs.Get(ctx, *req.RunID)
		if errors.Is(err, run.ErrNotFound) {
			return InitiateResult{}, ErrRunNotFound
		}
		if err != nil {
			return InitiateResult{}, err
		}
	} else {
		target, err = i.runs.Create(ctx, run.Run{
			Name:       run.NewName(run.CallTypeOutbound),
			WorkflowID: req.WorkflowID,
			UserID:     userID,
			Mode:       provider.Name(),
			CallType:   run.CallTypeOutbound,
			InitialContext: map[string]any{
				"phone_number": toNumber,
				"provider":     provider.Name(),
			},
		})
		if err != nil {
			return InitiateResult{}, fmt.Errorf("create run: %w", err)
		}
	}

	webhookURL := fmt.Sprintf(
		"https://%s%s/%s?workflow_id=%d&user_id=%d&workflow_run_id=%d&organization_id=%d",
		i.host, apiBasePath, provider.WebhookEndpoint(),
		req.WorkflowID, userID, target.ID, organizationID,
	)

	extra := map[string]any{}
	result, err := provider.InitiateCall(ctx, toNumber, webhookURL, target.ID, extra)
	if err != nil {
		return InitiateResult{}, err
	}

	gathered := map[string]any{"provider": provider.Name()}
	for k, v := range result.ProviderMetadata {
		gathered[k] = v
	}
	if err := i.runs.MergeGatheredContext(ctx, target.ID, gathered); err != nil {
		i.log.Error("gathered context merge failed",
			slog.Int64("run_id", target.ID), slog.String("error", err.Error()))
	}
	if result.CallID != "" {
		if err := i.runs.MergeInitialContext(ctx, target.ID, map[string]any{"call_id": result.CallID}); err != nil {
			i.log.Error("initial context merge failed",
				slog.Int64("run_id", target.ID), slog.String("error", err.Error()))
		}
	}

	i.log.Info("outbound call initiated",
		slog.Int64("run_id", target.ID),
		slog.String("run_name", target.Name),
		slog.String("provider", provider.Name()),
		slog.String("call_id", result.CallID))

	return InitiateResult{RunID: target.ID, RunName: target.Name, CallID: result.CallID}, nil
}
