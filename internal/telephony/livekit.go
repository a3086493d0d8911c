package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicegate/internal/media"
)

const defaultLiveKitRoomPrefix = "voicegate-call"

// LiveKit dispatches outbound calls over a SIP trunk via the LiveKit SIP
// twirp API. It has no inbound webhooks and no vendor media websocket in
// this flow; the agent joins the LiveKit room directly.
type LiveKit struct {
	cfg    ProviderConfig
	host   string
	client *http.Client
}

func NewLiveKit(cfg ProviderConfig, host string, client *http.Client) *LiveKit {
	return &LiveKit{cfg: cfg, host: host, client: client}
}

func (p *LiveKit) Name() string            { return ProviderLiveKit }
func (p *LiveKit) WebhookEndpoint() string { return "livekit" }

func (p *LiveKit) ValidateConfig() bool {
	return p.cfg.LiveKit != nil &&
		p.cfg.LiveKit.ServerURL != "" &&
		p.cfg.LiveKit.APIKey != "" &&
		p.cfg.LiveKit.APISecret != "" &&
		p.cfg.LiveKit.SIPTrunkID != ""
}

func (p *LiveKit) apiToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": p.cfg.LiveKit.APIKey,
		"iat": now.Unix(),
		"nbf": now.Add(-10 * time.Second).Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.LiveKit.APISecret))
}

func (p *LiveKit) roomPrefix() string {
	if p.cfg.LiveKit != nil && p.cfg.LiveKit.RoomPrefix != "" {
		return p.cfg.LiveKit.RoomPrefix
	}
	return defaultLiveKitRoomPrefix
}

func (p *LiveKit) roomName(runID int64) string {
	if runID != 0 {
		return fmt.Sprintf("%s-%d", p.roomPrefix(), runID)
	}
	return fmt.Sprintf("%s-%s", p.roomPrefix(), uuid.NewString()[:12])
}

func (p *LiveKit) InitiateCall(ctx context.Context, toNumber, webhookURL string, runID int64, extra map[string]any) (CallInitiationResult, error) {
	if !p.ValidateConfig() {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: fmt.Errorf("provider not configured")}
	}

	token, err := p.apiToken()
	if err != nil {
		return CallInitiationResult{}, &ProviderAPIError{Provider: p.Name(), Err: err}
	}

	room := p.roomName(runID)
	identity := fmt.Sprintf("pstn-%d", runID)
	if runID == 0 {
		identity = "pstn-" + uuid.NewString()[:12]
	}

	payload := map[string]any{
		"sip_trunk_id":         p.cfg.LiveKit.SIPTrunkID,
		"sip_call_to":          toNumber,
		"room_name":            room,
		"participant_identity": identity,
		"participant_name":     "Phone Call",
		"metadata": map[string]any{
			"workflow_run_id": fmt.Sprintf("%d", runID),
			"webhook_url":     webhookURL,
		},
	}
	if from := pickFromNumber(p.cfg.FromNumbers); from != "" {
		payload["sip_call_from"] = from
	}
	for k, v := range extra {
		payload[k] = v
	}

	endpoint := strings.TrimRight(p.cfg.LiveKit.ServerURL, "/") + "/twirp/livekit.SIP/CreateSIPParticipant"
	data, err := vendorPostJSON(ctx, p.client, p.Name(), endpoint, map[string]string{
		"Authorization": "Bearer " + token,
	}, payload)
	if err != nil {
		return CallInitiationResult{}, err
	}

	callID := stringField(data, "sip_call_id", "call_id", "participant_id")
	if callID == "" {
		callID = room
	}
	return CallInitiationResult{
		CallID:           callID,
		Status:           "started",
		ProviderMetadata: map[string]any{"room_name": room},
		RawResponse:      data,
	}, nil
}

// LiveKit has no answer webhook; the SIP participant lands in the room.
func (p *LiveKit) WebhookResponse(int64, int64, int64) Markup {
	return Markup{Content: "", ContentType: contentTypeText}
}

func (p *LiveKit) VerifySignature(string, map[string]any, Signature) bool { return false }

func (p *LiveKit) ParseStatusCallback(data map[string]any) StatusUpdate {
	return StatusUpdate{
		CallID:     stringField(data, "sip_call_id", "call_id"),
		Status:     stringField(data, "status"),
		FromNumber: stringField(data, "sip_call_from"),
		ToNumber:   stringField(data, "sip_call_to"),
		Direction:  stringField(data, "direction"),
		Duration:   stringField(data, "duration"),
		Extra:      data,
	}
}

func (p *LiveKit) HandleMediaStream(_ context.Context, conn *websocket.Conn, _ media.Session, _ media.Pipeline) error {
	closeWith(conn, 4400, "livekit does not use this websocket")
	return errors.New("livekit media runs inside the livekit room, not over this websocket")
}

func (p *LiveKit) CanHandleWebhook(map[string]any, http.Header) bool { return false }

func (p *LiveKit) ParseInboundWebhook(payload map[string]any) NormalizedInboundCall {
	return NormalizedInboundCall{
		Provider:   ProviderLiveKit,
		CallID:     stringField(payload, "sip_call_id"),
		FromNumber: p.NormalizePhoneNumber(stringField(payload, "sip_call_from")),
		ToNumber:   p.NormalizePhoneNumber(stringField(payload, "sip_call_to")),
		Direction:  stringField(payload, "direction"),
		CallStatus: stringField(payload, "status"),
		RawData:    payload,
	}
}

func (p *LiveKit) ValidateAccountID(cfg ProviderConfig, accountID string) bool {
	return cfg.LiveKit != nil && cfg.LiveKit.APIKey == accountID
}

func (p *LiveKit) NormalizePhoneNumber(raw string) string { return ensurePlus(raw) }

func (p *LiveKit) InboundResponse(string, int64) Markup {
	return Markup{Content: "LiveKit SIP inbound handling is not configured.", ContentType: contentTypeText}
}

func (p *LiveKit) ErrorResponse(_, message string) Markup {
	return Markup{Content: message, ContentType: contentTypeText}
}

func (p *LiveKit) ValidationErrorResponse(check CheckError) Markup {
	return Markup{Content: string(check), ContentType: contentTypeText}
}

// LiveKit SIP has no lightweight status API in this flow.
func (p *LiveKit) CallStatus(_ context.Context, callID string) (map[string]any, error) {
	return map[string]any{"call_id": callID, "status": "unknown"}, nil
}

func (p *LiveKit) CallCost(context.Context, string) (CallCost, error) {
	return CallCost{Status: "unknown"}, nil
}
