package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"voicegate/internal/media"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// Twilio speaks TwiML and form-encoded webhooks. Webhook authenticity uses
// the X-Twilio-Signature scheme: HMAC-SHA1 over the URL with the sorted
// form params appended, base64 encoded.
type Twilio struct {
	cfg    ProviderConfig
	host   string
	client *http.Client
}

func NewTwilio(cfg ProviderConfig, host string, client *http.Client) *Twilio {
	return &Twilio{cfg: cfg, host: host, client: client}
}

func (p *Twilio) Name() string            { return ProviderTwilio }
func (p *Twilio) WebhookEndpoint() string { return "twiml" }

func (p *Twilio) ValidateConfig() bool {
	return p.cfg.Twilio != nil &&
		p.cfg.Twilio.AccountSID != "" &&
		p.cfg.Twilio.AuthToken != "" &&
		len(p.cfg.FromNumbers) > 0
}

func (p *Twilio) InitiateCall(ctx context.Context, toNumber, webhookURL string, runID int64, extra map[string]any) (CallInitiationResult, error) {
	if !p.ValidateConfig() {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}

	from := pickFromNumber(p.cfg.FromNumbers)
	form := url.Values{}
	form.Set("To", toNumber)
	form.Set("From", from)
	form.Set("Url", webhookURL)
	form.Set("StatusCallback", callbackURL(p.host, "twilio/status-callback", runID))
	form.Set("StatusCallbackEvent", "completed")
	for k, v := range extra {
		form.Set(k, toString(v))
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", twilioAPIBase, p.cfg.Twilio.AccountSID)
	data, err := vendorPostForm(ctx, p.client, p.Name(), endpoint, map[string]string{
		"Authorization": p.basicAuth(),
	}, form)
	if err != nil {
		return CallInitiationResult{}, err
	}

	callID := stringField(data, "sid")
	if callID == "" {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("no call sid returned")}
	}
	return CallInitiationResult{
		CallID:           callID,
		Status:           stringField(data, "status"),
		ProviderMetadata: map[string]any{"from_number": from},
		RawResponse:      data,
	}, nil
}

func (p *Twilio) basicAuth() string {
	creds := p.cfg.Twilio.AccountSID + ":" + p.cfg.Twilio.AuthToken
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
}

func (p *Twilio) WebhookResponse(workflowID, userID, runID int64) Markup {
	return twimlStreamResponse(mediaWebsocketURL(p.host, workflowID, userID, runID), "")
}

func (p *Twilio) VerifySignature(rawURL string, params map[string]any, sig Signature) bool {
	if p.cfg.Twilio == nil || p.cfg.Twilio.AuthToken == "" || sig.Value == "" {
		return false
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(rawURL)
	for _, k := range keys {
		payload.WriteString(k)
		payload.WriteString(toString(params[k]))
	}

	mac := hmac.New(sha1.New, []byte(p.cfg.Twilio.AuthToken))
	mac.Write([]byte(payload.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig.Value))
}

func (p *Twilio) ParseStatusCallback(data map[string]any) StatusUpdate {
	return StatusUpdate{
		CallID:     stringField(data, "CallSid"),
		Status:     stringField(data, "CallStatus"),
		FromNumber: stringField(data, "From"),
		ToNumber:   stringField(data, "To"),
		Direction:  stringField(data, "Direction"),
		Duration:   stringField(data, "CallDuration", "Duration"),
		Extra:      data,
	}
}

func (p *Twilio) HandleMediaStream(ctx context.Context, conn *websocket.Conn, sess media.Session, pipe media.Pipeline) error {
	streamID, callID, err := readStreamStart(conn)
	if err != nil {
		closeWith(conn, 4400, "invalid media handshake")
		return err
	}
	return pipe.Run(ctx, conn, streamID, callID, sess)
}

func (p *Twilio) CanHandleWebhook(payload map[string]any, _ http.Header) bool {
	_, hasCallSid := payload["CallSid"]
	_, hasAccountSid := payload["AccountSid"]
	return hasCallSid && hasAccountSid
}

func (p *Twilio) ParseInboundWebhook(payload map[string]any) NormalizedInboundCall {
	return NormalizedInboundCall{
		Provider:    ProviderTwilio,
		CallID:      stringField(payload, "CallSid"),
		FromNumber:  p.NormalizePhoneNumber(stringField(payload, "From")),
		ToNumber:    p.NormalizePhoneNumber(stringField(payload, "To")),
		Direction:   stringField(payload, "Direction"),
		CallStatus:  stringField(payload, "CallStatus"),
		AccountID:   stringField(payload, "AccountSid"),
		FromCountry: stringField(payload, "FromCountry"),
		ToCountry:   stringField(payload, "ToCountry"),
		RawData:     payload,
	}
}

func (p *Twilio) ValidateAccountID(cfg ProviderConfig, accountID string) bool {
	if accountID == "" {
		return true
	}
	return cfg.Twilio != nil && cfg.Twilio.AccountSID == accountID
}

func (p *Twilio) NormalizePhoneNumber(raw string) string { return normalizeNANP(raw) }

func (p *Twilio) InboundResponse(wsURL string, runID int64) Markup {
	status := ""
	if runID != 0 {
		status = callbackURL(p.host, "twilio/status-callback", runID)
	}
	return twimlStreamResponse(wsURL, status)
}

func (p *Twilio) ErrorResponse(_, message string) Markup {
	return twimlSayHangup(errorFailureMessage(message))
}

func (p *Twilio) ValidationErrorResponse(check CheckError) Markup {
	return twimlSayHangup(validationFailureMessage(check))
}

func (p *Twilio) CallStatus(ctx context.Context, callID string) (map[string]any, error) {
	if !p.ValidateConfig() {
		return nil, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", twilioAPIBase, p.cfg.Twilio.AccountSID, callID)
	return vendorRequest(ctx, p.client, p.Name(), http.MethodGet, endpoint, map[string]string{
		"Authorization": p.basicAuth(),
	}, nil)
}

func (p *Twilio) CallCost(ctx context.Context, callID string) (CallCost, error) {
	data, err := p.CallStatus(ctx, callID)
	if err != nil {
		return CallCost{}, err
	}
	// Twilio reports price as a negative decimal string.
	price, _ := strconv.ParseFloat(stringField(data, "price"), 64)
	if price < 0 {
		price = -price
	}
	duration, _ := strconv.Atoi(stringField(data, "duration"))
	return CallCost{
		CostUSD:  price,
		Duration: duration,
		Status:   stringField(data, "status"),
		Raw:      data,
	}, nil
}
