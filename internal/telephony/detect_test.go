package telephony

import (
	"net/http"
	"testing"

	"voicegate/internal/org"
	"voicegate/pkg/logger"
)

func testRegistry(t *testing.T) (*Registry, *org.MemoryRepo) {
	t.Helper()
	orgs := org.NewMemoryRepo()
	return NewRegistry(orgs, "gw.example.com", logger.New("test")), orgs
}

func twilioFixture() map[string]any {
	return map[string]any{
		"CallSid":    "CA0001",
		"AccountSid": "AC123",
		"From":       "+15550002222",
		"To":         "+15550001111",
		"Direction":  "inbound",
		"CallStatus": "ringing",
	}
}

func vobizFixture() map[string]any {
	return map[string]any{
		"CallUUID":   "vb-0001",
		"From":       "15550002222",
		"To":         "15550001111",
		"Direction":  "inbound",
		"CallStatus": "ring",
		"AuthID":     "MA123",
	}
}

func vonageFixture() map[string]any {
	return map[string]any{
		"uuid":              "vn-0001",
		"conversation_uuid": "CON-0001",
		"from":              "15550002222",
		"to":                "15550001111",
		"direction":         "inbound",
		"status":            "ringing",
	}
}

func itniotechFixture() map[string]any {
	return map[string]any{
		"provider":  "itniotech",
		"call_id":   "it-0001",
		"from":      "15550002222",
		"to":        "15550001111",
		"direction": "inbound",
		"status":    "ringing",
	}
}

// Each vendor fixture must be claimed by its own vendor and nobody else in
// the detection list.
func TestDetectionExclusivity(t *testing.T) {
	reg, _ := testRegistry(t)
	headers := http.Header{}

	fixtures := map[string]map[string]any{
		ProviderTwilio:    twilioFixture(),
		ProviderVobiz:     vobizFixture(),
		ProviderVonage:    vonageFixture(),
		ProviderItniotech: itniotechFixture(),
	}

	for wantName, fixture := range fixtures {
		detected := reg.Detect(fixture, headers)
		if detected == nil {
			t.Fatalf("%s fixture not detected", wantName)
		}
		if detected.Name() != wantName {
			t.Fatalf("%s fixture detected as %s", wantName, detected.Name())
		}
		for _, p := range reg.Detectable() {
			if p.Name() == wantName {
				continue
			}
			if p.CanHandleWebhook(fixture, headers) {
				t.Fatalf("%s heuristic also claims the %s fixture", p.Name(), wantName)
			}
		}
	}
}

func TestDetectionUnknownPayload(t *testing.T) {
	reg, _ := testRegistry(t)
	if got := reg.Detect(map[string]any{"foo": "bar"}, http.Header{}); got != nil {
		t.Fatalf("expected no detection, got %s", got.Name())
	}
}

func TestItniotechDetectionByUserAgent(t *testing.T) {
	reg, _ := testRegistry(t)
	headers := http.Header{}
	headers.Set("User-Agent", "Itniotech-Webhooks/1.0")

	detected := reg.Detect(map[string]any{"call_id": "x", "from": "1", "to": "2"}, headers)
	if detected == nil || detected.Name() != ProviderItniotech {
		t.Fatalf("expected itniotech via user agent, got %v", detected)
	}
}

func TestNormalizeInboundTwilio(t *testing.T) {
	p := &Twilio{}
	norm := p.ParseInboundWebhook(twilioFixture())

	if norm.Provider != ProviderTwilio {
		t.Fatalf("provider: %q", norm.Provider)
	}
	if norm.CallID != "CA0001" {
		t.Fatalf("call id: %q", norm.CallID)
	}
	if norm.AccountID != "AC123" {
		t.Fatalf("account id: %q", norm.AccountID)
	}
	if norm.ToNumber != "+15550001111" {
		t.Fatalf("to number: %q", norm.ToNumber)
	}
	if norm.RawData["CallSid"] != "CA0001" {
		t.Fatal("raw payload not passed through")
	}
}
