package telephony

import (
	"encoding/json"
	"fmt"
)

// Provider discriminants as stored in the organization configuration
// document and in run initial_context.
const (
	ProviderTwilio    = "twilio"
	ProviderVonage    = "vonage"
	ProviderVobiz     = "vobiz"
	ProviderCloudonix = "cloudonix"
	ProviderItniotech = "itniotech"
	ProviderLiveKit   = "livekit"
)

// ProviderConfig is the organization telephony configuration: a tagged
// union keyed by the provider discriminant, one credential variant per
// vendor, plus the shared from-number pool.
type ProviderConfig struct {
	Provider    string
	FromNumbers []string

	Twilio    *TwilioCredentials
	Vonage    *VonageCredentials
	Vobiz     *VobizCredentials
	Cloudonix *CloudonixCredentials
	Itniotech *ItniotechCredentials
	LiveKit   *LiveKitCredentials
}

type TwilioCredentials struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
}

type VonageCredentials struct {
	ApplicationID string `json:"application_id"`
	PrivateKey    string `json:"private_key"`
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
}

type VobizCredentials struct {
	AuthID    string `json:"auth_id"`
	AuthToken string `json:"auth_token"`
}

type CloudonixCredentials struct {
	BearerToken string `json:"bearer_token"`
	DomainID    string `json:"domain_id"`
}

type ItniotechCredentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	BaseURL   string `json:"base_url"`
}

type LiveKitCredentials struct {
	ServerURL     string `json:"server_url"`
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	SIPTrunkID    string `json:"sip_trunk_id"`
	RoomPrefix    string `json:"room_prefix"`
	AgentIdentity string `json:"agent_identity"`
}

// stringList tolerates both a single string and a JSON array, matching how
// from_numbers appears in existing configuration documents.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = []string{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseProviderConfig decodes an organization configuration document into
// the provider variant named by its discriminant. An unknown discriminant
// fails; required-credential checks are the provider's ValidateConfig job.
func ParseProviderConfig(raw json.RawMessage) (ProviderConfig, error) {
	var head struct {
		Provider    string     `json:"provider"`
		FromNumbers stringList `json:"from_numbers"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ProviderConfig{}, fmt.Errorf("parse telephony configuration: %w", err)
	}
	if head.Provider == "" {
		head.Provider = ProviderTwilio
	}

	cfg := ProviderConfig{Provider: head.Provider, FromNumbers: head.FromNumbers}

	var err error
	switch head.Provider {
	case ProviderTwilio:
		cfg.Twilio = &TwilioCredentials{}
		err = json.Unmarshal(raw, cfg.Twilio)
	case ProviderVonage:
		cfg.Vonage = &VonageCredentials{}
		err = json.Unmarshal(raw, cfg.Vonage)
	case ProviderVobiz:
		cfg.Vobiz = &VobizCredentials{}
		err = json.Unmarshal(raw, cfg.Vobiz)
	case ProviderCloudonix:
		cfg.Cloudonix = &CloudonixCredentials{}
		err = json.Unmarshal(raw, cfg.Cloudonix)
	case ProviderItniotech:
		cfg.Itniotech = &ItniotechCredentials{}
		err = json.Unmarshal(raw, cfg.Itniotech)
	case ProviderLiveKit:
		cfg.LiveKit = &LiveKitCredentials{}
		err = json.Unmarshal(raw, cfg.LiveKit)
	default:
		return ProviderConfig{}, fmt.Errorf("unknown telephony provider %q", head.Provider)
	}
	if err != nil {
		return ProviderConfig{}, fmt.Errorf("parse %s configuration: %w", head.Provider, err)
	}
	return cfg, nil
}

// AccountID returns the credential field each vendor reports as its account
// identity on inbound webhooks.
func (c ProviderConfig) AccountID() string {
	switch c.Provider {
	case ProviderTwilio:
		if c.Twilio != nil {
			return c.Twilio.AccountSID
		}
	case ProviderVonage:
		if c.Vonage != nil {
			return c.Vonage.ApplicationID
		}
	case ProviderVobiz:
		if c.Vobiz != nil {
			return c.Vobiz.AuthID
		}
	case ProviderCloudonix:
		if c.Cloudonix != nil {
			return c.Cloudonix.DomainID
		}
	case ProviderItniotech:
		if c.Itniotech != nil {
			return c.Itniotech.APIKey
		}
	case ProviderLiveKit:
		if c.LiveKit != nil {
			return c.LiveKit.APIKey
		}
	}
	return ""
}
