package telephony

import (
	"encoding/json"
	"testing"
)

func TestParseProviderConfigVariants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want func(t *testing.T, cfg ProviderConfig)
	}{
		{
			name: "twilio",
			raw:  `{"provider":"twilio","account_sid":"AC123","auth_token":"tok","from_numbers":["+15550001111"]}`,
			want: func(t *testing.T, cfg ProviderConfig) {
				if cfg.Twilio == nil || cfg.Twilio.AccountSID != "AC123" {
					t.Fatalf("bad twilio credentials: %+v", cfg.Twilio)
				}
				if len(cfg.FromNumbers) != 1 {
					t.Fatalf("bad from numbers: %v", cfg.FromNumbers)
				}
			},
		},
		{
			name: "vonage",
			raw:  `{"provider":"vonage","application_id":"app-1","private_key":"pem","from_numbers":["15550001111"]}`,
			want: func(t *testing.T, cfg ProviderConfig) {
				if cfg.Vonage == nil || cfg.Vonage.ApplicationID != "app-1" {
					t.Fatalf("bad vonage credentials: %+v", cfg.Vonage)
				}
			},
		},
		{
			name: "livekit",
			raw:  `{"provider":"livekit","server_url":"https://lk.example","api_key":"k","api_secret":"s","sip_trunk_id":"ST1"}`,
			want: func(t *testing.T, cfg ProviderConfig) {
				if cfg.LiveKit == nil || cfg.LiveKit.SIPTrunkID != "ST1" {
					t.Fatalf("bad livekit credentials: %+v", cfg.LiveKit)
				}
			},
		},
		{
			name: "missing provider defaults to twilio",
			raw:  `{"account_sid":"AC9","auth_token":"t"}`,
			want: func(t *testing.T, cfg ProviderConfig) {
				if cfg.Provider != ProviderTwilio || cfg.Twilio == nil {
					t.Fatalf("expected twilio default, got %q", cfg.Provider)
				}
			},
		},
		{
			name: "from_numbers as single string",
			raw:  `{"provider":"vobiz","auth_id":"a","auth_token":"t","from_numbers":"+15550001111"}`,
			want: func(t *testing.T, cfg ProviderConfig) {
				if len(cfg.FromNumbers) != 1 || cfg.FromNumbers[0] != "+15550001111" {
					t.Fatalf("string from_numbers not tolerated: %v", cfg.FromNumbers)
				}
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg, err := ParseProviderConfig(json.RawMessage(c.raw))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			c.want(t, cfg)
		})
	}
}

func TestParseProviderConfigUnknownProvider(t *testing.T) {
	_, err := ParseProviderConfig(json.RawMessage(`{"provider":"asterisk"}`))
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestProviderConfigAccountID(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"provider":"twilio","account_sid":"AC1"}`, "AC1"},
		{`{"provider":"vonage","application_id":"app"}`, "app"},
		{`{"provider":"vobiz","auth_id":"MA1"}`, "MA1"},
		{`{"provider":"cloudonix","domain_id":"dom","bearer_token":"b"}`, "dom"},
		{`{"provider":"itniotech","api_key":"key"}`, "key"},
	}
	for _, c := range cases {
		cfg, err := ParseProviderConfig(json.RawMessage(c.raw))
		if err != nil {
			t.Fatalf("parse %s: %v", c.raw, err)
		}
		if got := cfg.AccountID(); got != c.want {
			t.Fatalf("account id for %s: got %q, want %q", cfg.Provider, got, c.want)
		}
	}
}
