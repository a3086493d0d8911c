package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"voicegate/internal/media"
)

const itniotechDefaultBase = "https://www.itniotech.com/api/voice"

// Itniotech uses API key/secret header authentication, TwiML-compatible
// call control, and an HMAC-SHA256 hex signature over "url|sorted_params".
type Itniotech struct {
	cfg    ProviderConfig
	host   string
	client *http.Client
}

func NewItniotech(cfg ProviderConfig, host string, client *http.Client) *Itniotech {
	return &Itniotech{cfg: cfg, host: host, client: client}
}

func (p *Itniotech) Name() string            { return ProviderItniotech }
func (p *Itniotech) WebhookEndpoint() string { return "twiml" }

func (p *Itniotech) baseURL() string {
	if p.cfg.Itniotech != nil && p.cfg.Itniotech.BaseURL != "" {
		return strings.TrimRight(p.cfg.Itniotech.BaseURL, "/")
	}
	return itniotechDefaultBase
}

func (p *Itniotech) ValidateConfig() bool {
	return p.cfg.Itniotech != nil &&
		p.cfg.Itniotech.APIKey != "" &&
		p.cfg.Itniotech.APISecret != "" &&
		len(p.cfg.FromNumbers) > 0
}

func (p *Itniotech) authHeaders() map[string]string {
	return map[string]string{
		"X-API-Key":    p.cfg.Itniotech.APIKey,
		"X-API-Secret": p.cfg.Itniotech.APISecret,
	}
}

func (p *Itniotech) InitiateCall(ctx context.Context, toNumber, webhookURL string, runID int64, extra map[string]any) (CallInitiationResult, error) {
	if !p.ValidateConfig() {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}

	from := pickFromNumber(p.cfg.FromNumbers)
	payload := map[string]any{
		"to":          toNumber,
		"from":        from,
		"webhook_url": webhookURL,
	}
	if runID != 0 {
		payload["status_callback_url"] = callbackURL(p.host, "itniotech/status-callback", runID)
	}
	for k, v := range extra {
		payload[k] = v
	}

	data, err := vendorPostJSON(ctx, p.client, p.Name(), p.baseURL()+"/calls", p.authHeaders(), payload)
	if err != nil {
		return CallInitiationResult{}, err
	}

	callID := stringField(data, "call_id", "id", "uuid")
	if callID == "" {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("no call identifier returned")}
	}
	status := stringField(data, "status")
	if status == "" {
		status = "initiated"
	}
	return CallInitiationResult{
		CallID:           callID,
		Status:           status,
		ProviderMetadata: map[string]any{"from_number": from},
		RawResponse:      data,
	}, nil
}

func (p *Itniotech) WebhookResponse(workflowID, userID, runID int64) Markup {
	return twimlStreamResponse(mediaWebsocketURL(p.host, workflowID, userID, runID), "")
}

func (p *Itniotech) VerifySignature(rawURL string, params map[string]any, sig Signature) bool {
	if p.cfg.Itniotech == nil || p.cfg.Itniotech.APISecret == "" || sig.Value == "" {
		return false
	}
	payload := rawURL + "|" + sortedParamString(params)
	mac := hmac.New(sha256.New, []byte(p.cfg.Itniotech.APISecret))
	mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig.Value))
}

func (p *Itniotech) ParseStatusCallback(data map[string]any) StatusUpdate {
	return StatusUpdate{
		CallID:     stringField(data, "call_id", "callId", "CallId", "uuid", "id"),
		Status:     stringField(data, "status", "CallStatus"),
		FromNumber: stringField(data, "from", "From"),
		ToNumber:   stringField(data, "to", "To"),
		Direction:  stringField(data, "direction", "Direction"),
		Duration:   stringField(data, "duration", "Duration"),
		Extra:      data,
	}
}

func (p *Itniotech) HandleMediaStream(ctx context.Context, conn *websocket.Conn, sess media.Session, pipe media.Pipeline) error {
	streamID, callID, err := readStreamStart(conn)
	if err != nil {
		closeWith(conn, 4400, "invalid media handshake")
		return err
	}
	return pipe.Run(ctx, conn, streamID, callID, sess)
}

func (p *Itniotech) CanHandleWebhook(payload map[string]any, headers http.Header) bool {
	if strings.Contains(strings.ToLower(headers.Get("User-Agent")), "itniotech") {
		return true
	}
	hint := strings.ToLower(stringField(payload, "provider"))
	return strings.Contains(hint, "itniotech")
}

func (p *Itniotech) ParseInboundWebhook(payload map[string]any) NormalizedInboundCall {
	return NormalizedInboundCall{
		Provider:    ProviderItniotech,
		CallID:      stringField(payload, "call_id", "callId", "uuid"),
		FromNumber:  p.NormalizePhoneNumber(stringField(payload, "from", "From")),
		ToNumber:    p.NormalizePhoneNumber(stringField(payload, "to", "To")),
		Direction:   stringField(payload, "direction"),
		CallStatus:  stringField(payload, "status"),
		AccountID:   stringField(payload, "account_id", "accountId"),
		FromCountry: stringField(payload, "from_country"),
		ToCountry:   stringField(payload, "to_country"),
		RawData:     payload,
	}
}

func (p *Itniotech) ValidateAccountID(cfg ProviderConfig, accountID string) bool {
	if accountID == "" {
		return true
	}
	return cfg.Itniotech != nil && cfg.Itniotech.APIKey == accountID
}

func (p *Itniotech) NormalizePhoneNumber(raw string) string { return normalizeNANP(raw) }

func (p *Itniotech) InboundResponse(wsURL string, runID int64) Markup {
	status := ""
	if runID != 0 {
		status = callbackURL(p.host, "itniotech/status-callback", runID)
	}
	return twimlStreamResponse(wsURL, status)
}

func (p *Itniotech) ErrorResponse(_, message string) Markup {
	return twimlSayHangup(errorFailureMessage(message))
}

func (p *Itniotech) ValidationErrorResponse(check CheckError) Markup {
	return twimlSayHangup(validationFailureMessage(check))
}

func (p *Itniotech) CallStatus(ctx context.Context, callID string) (map[string]any, error) {
	if !p.ValidateConfig() {
		return nil, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}
	return vendorRequest(ctx, p.client, p.Name(), http.MethodGet, p.baseURL()+"/calls/"+callID, p.authHeaders(), nil)
}

func (p *Itniotech) CallCost(ctx context.Context, callID string) (CallCost, error) {
	data, err := p.CallStatus(ctx, callID)
	if err != nil {
		return CallCost{}, err
	}
	cost, _ := strconv.ParseFloat(stringField(data, "cost_usd", "price", "cost"), 64)
	duration, _ := strconv.Atoi(stringField(data, "duration", "billsec", "seconds"))
	status := stringField(data, "status")
	if status == "" {
		status = "unknown"
	}
	return CallCost{CostUSD: cost, Duration: duration, Status: status, Raw: data}, nil
}
