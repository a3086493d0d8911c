package telephony

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	"voicegate/internal/media"
)

const cloudonixAPIBase = "https://api.cloudonix.io"

// Cloudonix is TwiML-compatible for call control and authenticates purely
// with a domain-scoped bearer token; webhooks carry no per-request
// signature. It is excluded from inbound detection because its webhook
// shape is indistinguishable from Twilio's.
type Cloudonix struct {
	cfg    ProviderConfig
	host   string
	client *http.Client
}

func NewCloudonix(cfg ProviderConfig, host string, client *http.Client) *Cloudonix {
	return &Cloudonix{cfg: cfg, host: host, client: client}
}

func (p *Cloudonix) Name() string            { return ProviderCloudonix }
func (p *Cloudonix) WebhookEndpoint() string { return "twiml" }

func (p *Cloudonix) ValidateConfig() bool {
	return p.cfg.Cloudonix != nil &&
		p.cfg.Cloudonix.BearerToken != "" &&
		p.cfg.Cloudonix.DomainID != "" &&
		len(p.cfg.FromNumbers) > 0
}

func (p *Cloudonix) InitiateCall(ctx context.Context, toNumber, webhookURL string, runID int64, extra map[string]any) (CallInitiationResult, error) {
	if !p.ValidateConfig() {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}

	from := pickFromNumber(p.cfg.FromNumbers)
	payload := map[string]any{
		"destination":  toNumber,
		"callerId":     from,
		"callbackUrl":  webhookURL,
		"statusUrl":    callbackURL(p.host, "cloudonix/status-callback", runID),
		"statusMethod": http.MethodPost,
	}
	for k, v := range extra {
		payload[k] = v
	}

	endpoint := fmt.Sprintf("%s/calls/%s/application", cloudonixAPIBase, p.cfg.Cloudonix.DomainID)
	data, err := vendorPostJSON(ctx, p.client, p.Name(), endpoint, map[string]string{
		"Authorization": "Bearer " + p.cfg.Cloudonix.BearerToken,
	}, payload)
	if err != nil {
		return CallInitiationResult{}, err
	}

	callID := stringField(data, "token", "callId", "call_id", "session")
	if callID == "" {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("no call identifier returned")}
	}
	return CallInitiationResult{
		CallID:           callID,
		Status:           stringField(data, "status"),
		ProviderMetadata: map[string]any{"from_number": from},
		RawResponse:      data,
	}, nil
}

func (p *Cloudonix) WebhookResponse(workflowID, userID, runID int64) Markup {
	return twimlStreamResponse(mediaWebsocketURL(p.host, workflowID, userID, runID), "")
}

// Cloudonix relies on its bearer token for authenticity; there is no
// per-request webhook signature to verify.
func (p *Cloudonix) VerifySignature(string, map[string]any, Signature) bool { return false }

func (p *Cloudonix) ParseStatusCallback(data map[string]any) StatusUpdate {
	return StatusUpdate{
		CallID:     stringField(data, "CallSid", "callId", "call_id", "token", "session"),
		Status:     stringField(data, "CallStatus", "status"),
		FromNumber: stringField(data, "From", "from", "callerId"),
		ToNumber:   stringField(data, "To", "to", "destination"),
		Direction:  stringField(data, "Direction", "direction"),
		Duration:   stringField(data, "CallDuration", "Duration", "duration"),
		Extra:      data,
	}
}

func (p *Cloudonix) HandleMediaStream(ctx context.Context, conn *websocket.Conn, sess media.Session, pipe media.Pipeline) error {
	streamID, callID, err := readStreamStart(conn)
	if err != nil {
		closeWith(conn, 4400, "invalid media handshake")
		return err
	}
	return pipe.Run(ctx, conn, streamID, callID, sess)
}

// Cloudonix webhooks mimic Twilio's shape, so detection would shadow the
// real Twilio heuristic. It never participates in inbound sniffing.
func (p *Cloudonix) CanHandleWebhook(map[string]any, http.Header) bool { return false }

func (p *Cloudonix) ParseInboundWebhook(payload map[string]any) NormalizedInboundCall {
	return NormalizedInboundCall{
		Provider:    ProviderCloudonix,
		CallID:      stringField(payload, "CallSid", "callId", "call_id", "token", "session"),
		FromNumber:  p.NormalizePhoneNumber(stringField(payload, "From", "from", "callerId")),
		ToNumber:    p.NormalizePhoneNumber(stringField(payload, "To", "to", "destination")),
		Direction:   stringField(payload, "Direction", "direction"),
		CallStatus:  stringField(payload, "CallStatus", "status"),
		AccountID:   stringField(payload, "Domain", "domain", "domain_id"),
		FromCountry: stringField(payload, "FromCountry", "from_country"),
		ToCountry:   stringField(payload, "ToCountry", "to_country"),
		RawData:     payload,
	}
}

func (p *Cloudonix) ValidateAccountID(cfg ProviderConfig, accountID string) bool {
	if accountID == "" {
		return true
	}
	return cfg.Cloudonix != nil && cfg.Cloudonix.DomainID == accountID
}

func (p *Cloudonix) NormalizePhoneNumber(raw string) string { return normalizeNANP(raw) }

func (p *Cloudonix) InboundResponse(wsURL string, runID int64) Markup {
	status := ""
	if runID != 0 {
		status = callbackURL(p.host, "cloudonix/status-callback", runID)
	}
	return twimlStreamResponse(wsURL, status)
}

func (p *Cloudonix) ErrorResponse(_, message string) Markup {
	return twimlSayHangup(errorFailureMessage(message))
}

func (p *Cloudonix) ValidationErrorResponse(check CheckError) Markup {
	return twimlSayHangup(validationFailureMessage(check))
}

func (p *Cloudonix) CallStatus(ctx context.Context, callID string) (map[string]any, error) {
	if !p.ValidateConfig() {
		return nil, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}
	endpoint := fmt.Sprintf("%s/calls/%s/sessions/%s", cloudonixAPIBase, p.cfg.Cloudonix.DomainID, callID)
	return vendorRequest(ctx, p.client, p.Name(), http.MethodGet, endpoint, map[string]string{
		"Authorization": "Bearer " + p.cfg.Cloudonix.BearerToken,
	}, nil)
}

func (p *Cloudonix) CallCost(ctx context.Context, callID string) (CallCost, error) {
	data, err := p.CallStatus(ctx, callID)
	if err != nil {
		return CallCost{}, err
	}
	cost, _ := strconv.ParseFloat(stringField(data, "cost", "price"), 64)
	duration, _ := strconv.Atoi(stringField(data, "duration", "billsec"))
	return CallCost{
		CostUSD:  cost,
		Duration: duration,
		Status:   stringField(data, "status"),
		Raw:      data,
	}, nil
}
