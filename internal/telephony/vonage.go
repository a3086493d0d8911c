package telephony

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicegate/internal/media"
)

const vonageAPIBase = "https://api.nexmo.com/v1"

// Vonage drives calls through NCCO documents and authenticates API calls
// with an RS256 application JWT. Its webhooks carry no signature in this
// flow; the validation pipeline accepts them with a logged warning.
type Vonage struct {
	cfg    ProviderConfig
	host   string
	client *http.Client
}

func NewVonage(cfg ProviderConfig, host string, client *http.Client) *Vonage {
	return &Vonage{cfg: cfg, host: host, client: client}
}

func (p *Vonage) Name() string            { return ProviderVonage }
func (p *Vonage) WebhookEndpoint() string { return "ncco" }

func (p *Vonage) ValidateConfig() bool {
	return p.cfg.Vonage != nil &&
		p.cfg.Vonage.ApplicationID != "" &&
		p.cfg.Vonage.PrivateKey != "" &&
		len(p.cfg.FromNumbers) > 0
}

func (p *Vonage) apiToken() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(p.cfg.Vonage.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse vonage private key: %w", err)
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"application_id": p.cfg.Vonage.ApplicationID,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"jti":            uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func (p *Vonage) InitiateCall(ctx context.Context, toNumber, webhookURL string, runID int64, extra map[string]any) (CallInitiationResult, error) {
	if !p.ValidateConfig() {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}

	token, err := p.apiToken()
	if err != nil {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: err}
	}

	from := pickFromNumber(p.cfg.FromNumbers)
	payload := map[string]any{
		"to":            []map[string]any{{"type": "phone", "number": toNumber}},
		"from":          map[string]any{"type": "phone", "number": from},
		"answer_url":    []string{webhookURL},
		"answer_method": http.MethodGet,
		"event_url":     []string{callbackURL(p.host, "vonage/events", runID)},
		"event_method":  http.MethodPost,
	}
	for k, v := range extra {
		payload[k] = v
	}

	data, err := vendorPostJSON(ctx, p.client, p.Name(), vonageAPIBase+"/calls", map[string]string{
		"Authorization": "Bearer " + token,
	}, payload)
	if err != nil {
		return CallInitiationResult{}, err
	}

	callID := stringField(data, "uuid")
	if callID == "" {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("no call uuid returned")}
	}
	return CallInitiationResult{
		CallID:           callID,
		Status:           stringField(data, "status"),
		ProviderMetadata: map[string]any{"from_number": from, "conversation_uuid": stringField(data, "conversation_uuid")},
		RawResponse:      data,
	}, nil
}

func (p *Vonage) WebhookResponse(workflowID, userID, runID int64) Markup {
	return nccoConnectResponse(mediaWebsocketURL(p.host, workflowID, userID, runID))
}

// Vonage sends no per-request signature in this flow.
func (p *Vonage) VerifySignature(string, map[string]any, Signature) bool { return false }

// vonageStatusMap translates Vonage event names onto the canonical status
// vocabulary shared by all vendors.
var vonageStatusMap = map[string]string{
	"started":  "initiated",
	"ringing":  "ringing",
	"answered": "answered",
	"complete": "completed",
	"failed":   "failed",
	"busy":     "busy",
	"timeout":  "no-answer",
	"rejected": "busy",
}

func (p *Vonage) ParseStatusCallback(data map[string]any) StatusUpdate {
	status := stringField(data, "status")
	if mapped, ok := vonageStatusMap[status]; ok {
		status = mapped
	}
	return StatusUpdate{
		CallID:     stringField(data, "uuid"),
		Status:     status,
		FromNumber: stringField(data, "from"),
		ToNumber:   stringField(data, "to"),
		Direction:  stringField(data, "direction"),
		Duration:   stringField(data, "duration"),
		Extra:      data,
	}
}

func (p *Vonage) HandleMediaStream(ctx context.Context, conn *websocket.Conn, sess media.Session, pipe media.Pipeline) error {
	// Vonage websockets start streaming immediately; there is no start
	// handshake frame, so identifiers come from the session.
	return pipe.Run(ctx, conn, "", "", sess)
}

func (p *Vonage) CanHandleWebhook(payload map[string]any, _ http.Header) bool {
	_, hasConversation := payload["conversation_uuid"]
	if hasConversation {
		return true
	}
	_, hasUUID := payload["uuid"]
	_, hasFrom := payload["from"]
	_, hasTo := payload["to"]
	return hasUUID && hasFrom && hasTo
}

func (p *Vonage) ParseInboundWebhook(payload map[string]any) NormalizedInboundCall {
	return NormalizedInboundCall{
		Provider:    ProviderVonage,
		CallID:      stringField(payload, "uuid"),
		FromNumber:  p.NormalizePhoneNumber(stringField(payload, "from")),
		ToNumber:    p.NormalizePhoneNumber(stringField(payload, "to")),
		Direction:   stringField(payload, "direction"),
		CallStatus:  stringField(payload, "status"),
		AccountID:   stringField(payload, "application_id"),
		FromCountry: stringField(payload, "from_country"),
		ToCountry:   stringField(payload, "to_country"),
		RawData:     payload,
	}
}

func (p *Vonage) ValidateAccountID(cfg ProviderConfig, accountID string) bool {
	if accountID == "" {
		return true
	}
	return cfg.Vonage != nil && cfg.Vonage.ApplicationID == accountID
}

func (p *Vonage) NormalizePhoneNumber(raw string) string { return ensurePlus(raw) }

func (p *Vonage) InboundResponse(wsURL string, _ int64) Markup {
	return nccoConnectResponse(wsURL)
}

func (p *Vonage) ErrorResponse(_, message string) Markup {
	return nccoTalkResponse(errorFailureMessage(message))
}

func (p *Vonage) ValidationErrorResponse(check CheckError) Markup {
	return nccoTalkResponse(validationFailureMessage(check))
}

func (p *Vonage) CallStatus(ctx context.Context, callID string) (map[string]any, error) {
	if !p.ValidateConfig() {
		return nil, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}
	token, err := p.apiToken()
	if err != nil {
		return nil, &ProviderAPIError{Provider: p.Name(), Err: err}
	}
	return vendorRequest(ctx, p.client, p.Name(), http.MethodGet, vonageAPIBase+"/calls/"+callID, map[string]string{
		"Authorization": "Bearer " + token,
	}, nil)
}

func (p *Vonage) CallCost(ctx context.Context, callID string) (CallCost, error) {
	data, err := p.CallStatus(ctx, callID)
	if err != nil {
		return CallCost{}, err
	}
	price, _ := strconv.ParseFloat(stringField(data, "price"), 64)
	duration, _ := strconv.Atoi(stringField(data, "duration"))
	return CallCost{
		CostUSD:  price,
		Duration: duration,
		Status:   stringField(data, "status"),
		Raw:      data,
	}, nil
}
