package telephony

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"voicegate/internal/org"
)

// Registry loads per-organization provider configuration and builds live
// provider instances. It also owns the fixed, order-significant list of
// providers eligible for inbound webhook sniffing.
type Registry struct {
	orgs   org.Repo
	host   string
	client *http.Client
	log    *slog.Logger

	detectable []Provider
}

func NewRegistry(orgs org.Repo, publicHost string, log *slog.Logger) *Registry {
	client := &http.Client{Timeout: 30 * time.Second}
	return &Registry{
		orgs:   orgs,
		host:   publicHost,
		client: client,
		log:    log,
		// Detection order matters: earlier heuristics shadow later ones, so
		// the most specific shapes come first. Cloudonix (Twilio-shaped) and
		// LiveKit (no inbound webhooks) are deliberately absent.
		detectable: []Provider{
			&Twilio{host: publicHost},
			&Vobiz{host: publicHost},
			&Vonage{host: publicHost},
			&Itniotech{host: publicHost},
		},
	}
}

// LoadConfig fetches and parses the organization's telephony configuration.
func (r *Registry) LoadConfig(ctx context.Context, organizationID int64) (ProviderConfig, error) {
	if organizationID == 0 {
		return ProviderConfig{}, &ConfigurationError{Reason: "organization id is required"}
	}
	raw, err := r.orgs.TelephonyConfig(ctx, organizationID)
	if errors.Is(err, org.ErrNotFound) {
		return ProviderConfig{}, &ConfigurationError{OrganizationID: organizationID, Reason: "no configuration found"}
	}
	if err != nil {
		return ProviderConfig{}, err
	}
	cfg, err := ParseProviderConfig(raw)
	if err != nil {
		return ProviderConfig{}, &ConfigurationError{OrganizationID: organizationID, Reason: err.Error()}
	}
	return cfg, nil
}

// Provider builds a live-credentialed provider for the organization.
func (r *Registry) Provider(ctx context.Context, organizationID int64) (Provider, error) {
	cfg, err := r.LoadConfig(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return r.Build(cfg)
}

// Build constructs a provider instance from an already-parsed config.
func (r *Registry) Build(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case ProviderTwilio:
		return NewTwilio(cfg, r.host, r.client), nil
	case ProviderVonage:
		return NewVonage(cfg, r.host, r.client), nil
	case ProviderVobiz:
		return NewVobiz(cfg, r.host, r.client), nil
	case ProviderCloudonix:
		return NewCloudonix(cfg, r.host, r.client), nil
	case ProviderItniotech:
		return NewItniotech(cfg, r.host, r.client), nil
	case ProviderLiveKit:
		return NewLiveKit(cfg, r.host, r.client), nil
	default:
		return nil, &ConfigurationError{Reason: "unknown provider " + cfg.Provider}
	}
}

// Detectable returns the ordered provider list used for webhook sniffing.
// The instances carry no credentials; only detection methods may be called
// on them.
func (r *Registry) Detectable() []Provider {
	return r.detectable
}

// Detect returns the first detectable provider whose heuristic claims the
// payload, or nil when no vendor matches.
func (r *Registry) Detect(payload map[string]any, headers http.Header) Provider {
	for _, p := range r.detectable {
		if p.CanHandleWebhook(payload, headers) {
			return p
		}
	}
	if r.log != nil {
		keys := make([]string, 0, len(payload))
		for k := range payload {
			keys = append(keys, k)
		}
		r.log.Warn("no provider matched inbound webhook", slog.Any("payload_keys", keys))
	}
	return nil
}
