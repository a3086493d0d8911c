package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"voicegate/internal/media"
)

const vobizAPIBase = "https://api.vobiz.com/v1"

// Vobiz is Plivo-compatible: XML call control, CallUUID-keyed webhooks,
// and an HMAC-SHA256 signature over url+timestamp+body.
type Vobiz struct {
	cfg    ProviderConfig
	host   string
	client *http.Client
}

func NewVobiz(cfg ProviderConfig, host string, client *http.Client) *Vobiz {
	return &Vobiz{cfg: cfg, host: host, client: client}
}

func (p *Vobiz) Name() string            { return ProviderVobiz }
func (p *Vobiz) WebhookEndpoint() string { return "vobiz-xml" }

func (p *Vobiz) ValidateConfig() bool {
	return p.cfg.Vobiz != nil &&
		p.cfg.Vobiz.AuthID != "" &&
		p.cfg.Vobiz.AuthToken != "" &&
		len(p.cfg.FromNumbers) > 0
}

func (p *Vobiz) InitiateCall(ctx context.Context, toNumber, webhookURL string, runID int64, extra map[string]any) (CallInitiationResult, error) {
	if !p.ValidateConfig() {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}

	from := pickFromNumber(p.cfg.FromNumbers)
	payload := map[string]any{
		"from":          from,
		"to":            toNumber,
		"answer_url":    webhookURL,
		"answer_method": http.MethodPost,
		"hangup_url":    callbackURL(p.host, "vobiz/hangup-callback", runID),
		"ring_url":      callbackURL(p.host, "vobiz/ring-callback", runID),
	}
	for k, v := range extra {
		payload[k] = v
	}

	endpoint := fmt.Sprintf("%s/Account/%s/Call/", vobizAPIBase, p.cfg.Vobiz.AuthID)
	data, err := vendorPostJSON(ctx, p.client, p.Name(), endpoint, map[string]string{
		"Authorization": p.basicAuth(),
	}, payload)
	if err != nil {
		return CallInitiationResult{}, err
	}

	callID := stringField(data, "request_uuid", "call_uuid", "uuid")
	if callID == "" {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("no call uuid returned")}
	}
	return CallInitiationResult{
		CallID:           callID,
		Status:           stringField(data, "status"),
		ProviderMetadata: map[string]any{"from_number": from},
		RawResponse:      data,
	}, nil
}

func (p *Vobiz) basicAuth() string {
	creds := p.cfg.Vobiz.AuthID + ":" + p.cfg.Vobiz.AuthToken
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

func (p *Vobiz) WebhookResponse(workflowID, userID, runID int64) Markup {
	return plivoStreamResponse(mediaWebsocketURL(p.host, workflowID, userID, runID), "")
}

func (p *Vobiz) VerifySignature(rawURL string, _ map[string]any, sig Signature) bool {
	if p.cfg.Vobiz == nil || p.cfg.Vobiz.AuthToken == "" || sig.Value == "" {
		return false
	}
	payload := rawURL + sig.Timestamp + sig.Body
	mac := hmac.New(sha256.New, []byte(p.cfg.Vobiz.AuthToken))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig.Value))
}

// vobizStatusMap covers the Plivo-style event vocabulary.
var vobizStatusMap = map[string]string{
	"hangup":      "completed",
	"completed":   "completed",
	"ring":        "ringing",
	"ringing":     "ringing",
	"in-progress": "answered",
	"busy":        "busy",
	"no-answer":   "no-answer",
	"failed":      "failed",
	"cancel":      "canceled",
	"canceled":    "canceled",
}

func (p *Vobiz) ParseStatusCallback(data map[string]any) StatusUpdate {
	status := stringField(data, "CallStatus", "call_status", "Event", "event")
	if mapped, ok := vobizStatusMap[status]; ok {
		status = mapped
	}
	return StatusUpdate{
		CallID:     stringField(data, "CallUUID", "call_uuid"),
		Status:     status,
		FromNumber: stringField(data, "From", "from"),
		ToNumber:   stringField(data, "To", "to"),
		Direction:  stringField(data, "Direction", "direction"),
		Duration:   stringField(data, "Duration", "duration", "BillDuration", "bill_duration"),
		Extra:      data,
	}
}

func (p *Vobiz) HandleMediaStream(ctx context.Context, conn *websocket.Conn, sess media.Session, pipe media.Pipeline) error {
	streamID, callID, err := readStreamStart(conn)
	if err != nil {
		closeWith(conn, 4400, "invalid media handshake")
		return err
	}
	return pipe.Run(ctx, conn, streamID, callID, sess)
}

func (p *Vobiz) CanHandleWebhook(payload map[string]any, _ http.Header) bool {
	if _, ok := payload["CallUUID"]; ok {
		return true
	}
	_, ok := payload["call_uuid"]
	return ok
}

func (p *Vobiz) ParseInboundWebhook(payload map[string]any) NormalizedInboundCall {
	return NormalizedInboundCall{
		Provider:    ProviderVobiz,
		CallID:      stringField(payload, "CallUUID", "call_uuid"),
		FromNumber:  p.NormalizePhoneNumber(stringField(payload, "From", "from")),
		ToNumber:    p.NormalizePhoneNumber(stringField(payload, "To", "to")),
		Direction:   stringField(payload, "Direction", "direction"),
		CallStatus:  stringField(payload, "CallStatus", "call_status", "Event", "event"),
		AccountID:   stringField(payload, "AuthID", "auth_id", "AccountID", "account_id"),
		FromCountry: stringField(payload, "FromCountry", "from_country"),
		ToCountry:   stringField(payload, "ToCountry", "to_country"),
		RawData:     payload,
	}
}

func (p *Vobiz) ValidateAccountID(cfg ProviderConfig, accountID string) bool {
	if accountID == "" {
		return true
	}
	return cfg.Vobiz != nil && cfg.Vobiz.AuthID == accountID
}

func (p *Vobiz) NormalizePhoneNumber(raw string) string { return normalizeNANP(raw) }

func (p *Vobiz) InboundResponse(wsURL string, runID int64) Markup {
	status := ""
	if runID != 0 {
		status = callbackURL(p.host, "vobiz/hangup-callback", runID)
	}
	return plivoStreamResponse(wsURL, status)
}

func (p *Vobiz) ErrorResponse(_, message string) Markup {
	return plivoSayHangup(errorFailureMessage(message))
}

func (p *Vobiz) ValidationErrorResponse(check CheckError) Markup {
	return plivoSayHangup(validationFailureMessage(check))
}

func (p *Vobiz) CallStatus(ctx context.Context, callID string) (map[string]any, error) {
	if !p.ValidateConfig() {
		return nil, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}
	endpoint := fmt.Sprintf("%s/Account/%s/Call/%s/", vobizAPIBase, p.cfg.Vobiz.AuthID, callID)
	return vendorRequest(ctx, p.client, p.Name(), http.MethodGet, endpoint, map[string]string{
		"Authorization": p.basicAuth(),
	}, nil)
}

func (p *Vobiz) CallCost(ctx context.Context, callID string) (CallCost, error) {
	data, err := p.CallStatus(ctx, callID)
	if err != nil {
		return CallCost{}, err
	}
	cost, _ := strconv.ParseFloat(stringField(data, "total_amount", "total_rate", "cost"), 64)
	duration, _ := strconv.Atoi(stringField(data, "bill_duration", "duration"))
	return CallCost{
		CostUSD:  cost,
		Duration: duration,
		Status:   stringField(data, "call_state", "status"),
		Raw:      data,
	}, nil
}
