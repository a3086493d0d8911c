package telephony

import (
	"context"
	"errors"
	"log/slog"

	"voicegate/internal/org"
)

// InboundValidator runs the ordered, short-circuiting checks an inbound
// webhook must pass before a run is created for it. Quota is checked by the
// caller after validation succeeds; everything else lives here.
type InboundValidator struct {
	orgs     org.Repo
	registry *Registry
	host     string
	log      *slog.Logger
}

func NewInboundValidator(orgs org.Repo, registry *Registry, publicHost string, log *slog.Logger) *InboundValidator {
	return &InboundValidator{orgs: orgs, registry: registry, host: publicHost, log: log}
}

// InboundContext is what a validated webhook resolves to.
type InboundContext struct {
	Workflow       org.Workflow
	OrganizationID int64
	UserID         int64
	Provider       string
}

// Validate checks, in order: workflow existence, account identity against
// the stored provider configuration, called-number ownership, and the
// vendor signature when one was sent. The first failure wins. Vendors that
// sent no signature are accepted with a logged warning; that weaker
// guarantee is deliberate.
func (v *InboundValidator) Validate(
	ctx context.Context,
	workflowID int64,
	detected Provider,
	norm NormalizedInboundCall,
	payload map[string]any,
	sig Signature,
) (InboundContext, CheckError) {
	wf, err := v.orgs.Workflow(ctx, workflowID)
	if errors.Is(err, org.ErrNotFound) {
		return InboundContext{}, CheckWorkflowNotFound
	}
	if err != nil {
		v.log.Error("workflow lookup failed", slog.Int64("workflow_id", workflowID), slog.String("error", err.Error()))
		return InboundContext{}, CheckGeneralAuthFailed
	}

	cfg, err := v.registry.LoadConfig(ctx, wf.OrganizationID)
	if err != nil {
		v.log.Warn("telephony configuration unavailable",
			slog.Int64("organization_id", wf.OrganizationID), slog.String("error", err.Error()))
		return InboundContext{}, CheckAccountValidationFailed
	}

	if check := v.validateAccount(cfg, detected, norm.AccountID); check != CheckValid {
		return InboundContext{}, check
	}

	if !v.numberConfigured(cfg, norm) {
		v.log.Warn("called number not configured for organization",
			slog.Int64("organization_id", wf.OrganizationID),
			slog.String("to_number", norm.ToNumber))
		return InboundContext{}, CheckPhoneNumberNotConfigured
	}

	if sig.Value != "" {
		live, err := v.registry.Build(cfg)
		if err != nil {
			return InboundContext{}, CheckSignatureValidationFailed
		}
		webhookURL := callbackURL(v.host, "inbound", workflowID)
		if !live.VerifySignature(webhookURL, payload, sig) {
			v.log.Warn("inbound signature verification failed",
				slog.String("provider", detected.Name()), slog.Int64("workflow_id", workflowID))
			return InboundContext{}, CheckSignatureValidationFailed
		}
	} else {
		v.log.Warn("no signature on inbound webhook, accepting",
			slog.String("provider", detected.Name()), slog.Int64("workflow_id", workflowID))
	}

	return InboundContext{
		Workflow:       wf,
		OrganizationID: wf.OrganizationID,
		UserID:         wf.UserID,
		Provider:       detected.Name(),
	}, CheckValid
}

func (v *InboundValidator) validateAccount(cfg ProviderConfig, detected Provider, accountID string) CheckError {
	if accountID == "" {
		v.log.Warn("no account id on inbound webhook", slog.String("provider", detected.Name()))
		return CheckAccountValidationFailed
	}
	if cfg.Provider != detected.Name() {
		v.log.Warn("provider mismatch on inbound webhook",
			slog.String("webhook_provider", detected.Name()),
			slog.String("configured_provider", cfg.Provider))
		return CheckProviderMismatch
	}
	if !detected.ValidateAccountID(cfg, accountID) {
		v.log.Warn("account validation failed",
			slog.String("provider", detected.Name()), slog.String("account_id", accountID))
		return CheckAccountValidationFailed
	}
	return CheckValid
}

func (v *InboundValidator) numberConfigured(cfg ProviderConfig, norm NormalizedInboundCall) bool {
	for _, configured := range cfg.FromNumbers {
		if NumbersMatch(norm.ToNumber, configured, norm.ToCountry, norm.FromCountry) {
			return true
		}
	}
	return false
}
