package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"sort"
	"testing"

	"voicegate/internal/org"
	"voicegate/pkg/logger"
)

const twilioConfigJSON = `{
	"provider": "twilio",
	"from_numbers": ["+15550001111"],
	"account_sid": "AC123",
	"auth_token": "secret"
}`

func newTestValidator(t *testing.T) (*InboundValidator, *org.MemoryRepo, *Registry) {
	t.Helper()
	orgs := org.NewMemoryRepo()
	reg := NewRegistry(orgs, "gw.example.com", logger.New("test"))
	return NewInboundValidator(orgs, reg, "gw.example.com", logger.New("test")), orgs, reg
}

func seedTwilioWorkflow(orgs *org.MemoryRepo, configJSON string) {
	orgs.PutWorkflow(org.Workflow{ID: 7, OrganizationID: 42, UserID: 9, Name: "intake"})
	orgs.PutTelephonyConfig(42, json.RawMessage(configJSON))
}

// twilioSign reproduces Twilio's request signature: HMAC-SHA1 over the URL
// followed by key+value pairs in key order, base64-encoded.
func twilioSign(token, url string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(url))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(toString(params[k])))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateAcceptsUnsignedWebhook(t *testing.T) {
	v, orgs, _ := newTestValidator(t)
	seedTwilioWorkflow(orgs, twilioConfigJSON)

	payload := twilioFixture()
	detected := &Twilio{}
	norm := detected.ParseInboundWebhook(payload)

	ic, check := v.Validate(context.Background(), 7, detected, norm, payload, Signature{})
	if check != CheckValid {
		t.Fatalf("expected valid, got %s", check)
	}
	if ic.OrganizationID != 42 || ic.UserID != 9 || ic.Provider != ProviderTwilio {
		t.Fatalf("unexpected inbound context: %+v", ic)
	}
	if ic.Workflow.ID != 7 {
		t.Fatalf("workflow not attached: %+v", ic.Workflow)
	}
}

func TestValidateWorkflowNotFound(t *testing.T) {
	v, _, _ := newTestValidator(t)

	payload := twilioFixture()
	detected := &Twilio{}
	norm := detected.ParseInboundWebhook(payload)

	_, check := v.Validate(context.Background(), 99, detected, norm, payload, Signature{})
	if check != CheckWorkflowNotFound {
		t.Fatalf("expected workflow_not_found, got %s", check)
	}
}

func TestValidateMissingConfiguration(t *testing.T) {
	v, orgs, _ := newTestValidator(t)
	orgs.PutWorkflow(org.Workflow{ID: 7, OrganizationID: 42, UserID: 9})

	payload := twilioFixture()
	detected := &Twilio{}
	norm := detected.ParseInboundWebhook(payload)

	_, check := v.Validate(context.Background(), 7, detected, norm, payload, Signature{})
	if check != CheckAccountValidationFailed {
		t.Fatalf("expected account_validation_failed, got %s", check)
	}
}

func TestValidateProviderMismatch(t *testing.T) {
	v, orgs, _ := newTestValidator(t)
	seedTwilioWorkflow(orgs, `{
		"provider": "vobiz",
		"from_numbers": ["+15550001111"],
		"auth_id": "MA123",
		"auth_token": "vbtok"
	}`)

	payload := twilioFixture()
	detected := &Twilio{}
	norm := detected.ParseInboundWebhook(payload)

	_, check := v.Validate(context.Background(), 7, detected, norm, payload, Signature{})
	if check != CheckProviderMismatch {
		t.Fatalf("expected provider_mismatch, got %s", check)
	}
}

func TestValidateAccountMismatch(t *testing.T) {
	v, orgs, _ := newTestValidator(t)
	seedTwilioWorkflow(orgs, `{
		"provider": "twilio",
		"from_numbers": ["+15550001111"],
		"account_sid": "ACOTHER",
		"auth_token": "secret"
	}`)

	payload := twilioFixture()
	detected := &Twilio{}
	norm := detected.ParseInboundWebhook(payload)

	_, check := v.Validate(context.Background(), 7, detected, norm, payload, Signature{})
	if check != CheckAccountValidationFailed {
		t.Fatalf("expected account_validation_failed, got %s", check)
	}
}

func TestValidatePhoneNumberNotConfigured(t *testing.T) {
	v, orgs, _ := newTestValidator(t)
	seedTwilioWorkflow(orgs, `{
		"provider": "twilio",
		"from_numbers": ["+15559990000"],
		"account_sid": "AC123",
		"auth_token": "secret"
	}`)

	payload := twilioFixture()
	detected := &Twilio{}
	norm := detected.ParseInboundWebhook(payload)

	_, check := v.Validate(context.Background(), 7, detected, norm, payload, Signature{})
	if check != CheckPhoneNumberNotConfigured {
		t.Fatalf("expected phone_number_not_configured, got %s", check)
	}
}

func TestValidateSignature(t *testing.T) {
	v, orgs, _ := newTestValidator(t)
	seedTwilioWorkflow(orgs, twilioConfigJSON)

	payload := twilioFixture()
	detected := &Twilio{}
	norm := detected.ParseInboundWebhook(payload)

	url := callbackURL("gw.example.com", "inbound", 7)
	good := twilioSign("secret", url, payload)

	if _, check := v.Validate(context.Background(), 7, detected, norm, payload, Signature{Value: good}); check != CheckValid {
		t.Fatalf("valid signature rejected: %s", check)
	}
	if _, check := v.Validate(context.Background(), 7, detected, norm, payload, Signature{Value: "bogus"}); check != CheckSignatureValidationFailed {
		t.Fatalf("expected signature_validation_failed, got %s", check)
	}
}

func TestValidateNationalNumberForm(t *testing.T) {
	v, orgs, _ := newTestValidator(t)
	seedTwilioWorkflow(orgs, `{
		"provider": "twilio",
		"from_numbers": ["5550001111"],
		"account_sid": "AC123",
		"auth_token": "secret"
	}`)

	payload := twilioFixture()
	payload["ToCountry"] = "US"
	detected := &Twilio{}
	norm := detected.ParseInboundWebhook(payload)
	if norm.ToCountry != "US" {
		t.Fatalf("to country not parsed: %+v", norm)
	}

	_, check := v.Validate(context.Background(), 7, detected, norm, payload, Signature{})
	if check != CheckValid {
		t.Fatalf("national form number should match with country hint, got %s", check)
	}
}
