package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"voicegate/internal/org"
	"voicegate/internal/quota"
	"voicegate/internal/run"
	"voicegate/pkg/logger"
)

var runNamePattern = regexp.MustCompile(`^WR-TEL-OUT-\d{8}$`)

// itniotechConfigJSON points the vendor API at the given base URL so tests
// can intercept the call placement request.
func itniotechConfigJSON(baseURL string) string {
	return `{
		"provider": "itniotech",
		"from_numbers": ["+15550001111"],
		"api_key": "key",
		"api_secret": "itsecret",
		"base_url": "` + baseURL + `"
	}`
}

func newTestInitiator(t *testing.T, q quota.Checker) (*Initiator, *org.MemoryRepo, *run.MemoryRepo) {
	t.Helper()
	orgs := org.NewMemoryRepo()
	runs := run.NewMemoryRepo()
	reg := NewRegistry(orgs, "gw.example.com", logger.New("test"))
	return NewInitiator(reg, runs, orgs, q, "gw.example.com", logger.New("test")), orgs, runs
}

func TestInitiateOutboundCall(t *testing.T) {
	var hits atomic.Int64
	var gotPayload map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/calls" {
			t.Errorf("unexpected vendor request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "key" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode vendor payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"call_id": "it-123", "status": "queued"}`))
	}))
	defer srv.Close()

	init, orgs, runs := newTestInitiator(t, quota.AllowAll{})
	orgs.PutTelephonyConfig(42, json.RawMessage(itniotechConfigJSON(srv.URL)))

	res, err := init.Initiate(context.Background(), 7, 42, InitiateRequest{
		WorkflowID:  3,
		PhoneNumber: "+15550002222",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("vendor API hit %d times, want 1", hits.Load())
	}
	if !runNamePattern.MatchString(res.RunName) {
		t.Fatalf("run name %q does not match outbound pattern", res.RunName)
	}
	if res.CallID != "it-123" {
		t.Fatalf("call id: %q", res.CallID)
	}

	if gotPayload["to"] != "+15550002222" || gotPayload["from"] != "+15550001111" {
		t.Fatalf("unexpected dial payload: %v", gotPayload)
	}
	webhook, _ := gotPayload["webhook_url"].(string)
	for _, want := range []string{"workflow_id=3", "user_id=7", "organization_id=42", "workflow_run_id="} {
		if !strings.Contains(webhook, want) {
			t.Fatalf("webhook url missing %q: %s", want, webhook)
		}
	}

	got, err := runs.Get(context.Background(), res.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.InitialContext["call_id"] != "it-123" {
		t.Fatalf("call id not persisted: %v", got.InitialContext)
	}
	if got.GatheredContext["provider"] != ProviderItniotech {
		t.Fatalf("provider not recorded: %v", got.GatheredContext)
	}
	if got.Mode != ProviderItniotech || got.CallType != run.CallTypeOutbound {
		t.Fatalf("unexpected run shape: %+v", got)
	}
}

func TestInitiateFallsBackToTestPhoneNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["to"] != "+15559998888" {
			t.Errorf("expected user's test number, got %v", payload["to"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"call_id": "it-456"}`))
	}))
	defer srv.Close()

	init, orgs, _ := newTestInitiator(t, quota.AllowAll{})
	orgs.PutTelephonyConfig(42, json.RawMessage(itniotechConfigJSON(srv.URL)))
	orgs.PutUserConfig(org.UserConfig{UserID: 7, TestPhoneNumber: "+15559998888"})

	if _, err := init.Initiate(context.Background(), 7, 42, InitiateRequest{WorkflowID: 3}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
}

func TestInitiateNotConfigured(t *testing.T) {
	init, _, _ := newTestInitiator(t, quota.AllowAll{})

	_, err := init.Initiate(context.Background(), 7, 42, InitiateRequest{WorkflowID: 3, PhoneNumber: "+1555"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestInitiateQuotaExceeded(t *testing.T) {
	q := quota.Static{Result: quota.Result{HasQuota: false, Reason: "monthly minutes exhausted"}}
	init, orgs, _ := newTestInitiator(t, q)
	orgs.PutTelephonyConfig(42, json.RawMessage(itniotechConfigJSON("https://unused.example.com")))

	_, err := init.Initiate(context.Background(), 7, 42, InitiateRequest{WorkflowID: 3, PhoneNumber: "+1555"})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "monthly minutes exhausted") {
		t.Fatalf("quota reason not surfaced: %v", err)
	}
}

func TestInitiateMissingDestination(t *testing.T) {
	init, orgs, _ := newTestInitiator(t, quota.AllowAll{})
	orgs.PutTelephonyConfig(42, json.RawMessage(itniotechConfigJSON("https://unused.example.com")))

	_, err := init.Initiate(context.Background(), 7, 42, InitiateRequest{WorkflowID: 3})
	if !errors.Is(err, ErrMissingDestination) {
		t.Fatalf("expected ErrMissingDestination, got %v", err)
	}
}

func TestInitiateExistingRunNotFound(t *testing.T) {
	init, orgs, _ := newTestInitiator(t, quota.AllowAll{})
	orgs.PutTelephonyConfig(42, json.RawMessage(itniotechConfigJSON("https://unused.example.com")))

	missing := int64(999)
	_, err := init.Initiate(context.Background(), 7, 42, InitiateRequest{
		WorkflowID:  3,
		RunID:       &missing,
		PhoneNumber: "+1555",
	})
	if !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestInitiateVendorFailureIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "insufficient balance"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	init, orgs, _ := newTestInitiator(t, quota.AllowAll{})
	orgs.PutTelephonyConfig(42, json.RawMessage(itniotechConfigJSON(srv.URL)))

	_, err := init.Initiate(context.Background(), 7, 42, InitiateRequest{WorkflowID: 3, PhoneNumber: "+1555"})
	var apiErr *ProviderAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected ProviderAPIError, got %v", err)
	}
	if apiErr.Provider != ProviderItniotech || apiErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
