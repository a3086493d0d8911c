package telephony

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"voicegate/internal/media"
)

// Markup is a vendor-native call-control document plus its media type
// (TwiML/Plivo XML, NCCO JSON, or plain text for vendors without markup).
type Markup struct {
	Content     string
	ContentType string
}

// CallInitiationResult reports a successful outbound API call.
type CallInitiationResult struct {
	CallID           string
	Status           string
	ProviderMetadata map[string]any
	RawResponse      map[string]any
}

// CallCost is a vendor cost lookup for a finished call.
type CallCost struct {
	CostUSD  float64
	Duration int
	Status   string
	Raw      map[string]any
}

// NormalizedInboundCall is the canonical shape every vendor's inbound
// webhook is mapped onto. RawData passes the vendor payload through
// untouched.
type NormalizedInboundCall struct {
	Provider    string
	CallID      string
	FromNumber  string
	ToNumber    string
	Direction   string
	CallStatus  string
	AccountID   string
	FromCountry string
	ToCountry   string
	RawData     map[string]any
}

// StatusUpdate is the canonical shape of a vendor status callback.
type StatusUpdate struct {
	CallID     string
	Status     string
	FromNumber string
	ToNumber   string
	Direction  string
	Duration   string
	Extra      map[string]any
}

// Signature carries the vendor signature material attached to a webhook.
// Value empty means the vendor sent no signature for this request.
type Signature struct {
	Value     string
	Timestamp string
	Body      string
}

// Provider is the capability contract every vendor integration implements.
// Detection methods (CanHandleWebhook, ParseInboundWebhook,
// ValidateAccountID, NormalizePhoneNumber, the markup generators) work on a
// zero-value instance; the credentialed methods require an instance built by
// the Registry from organization configuration.
type Provider interface {
	Name() string

	// WebhookEndpoint is the path segment vendors call back on after an
	// outbound call is answered (twiml, ncco, vobiz-xml, ...).
	WebhookEndpoint() string

	InitiateCall(ctx context.Context, toNumber, webhookURL string, runID int64, extra map[string]any) (CallInitiationResult, error)
	ValidateConfig() bool

	// WebhookResponse renders the answer-webhook markup pointing the vendor
	// at the media websocket for this run.
	WebhookResponse(workflowID, userID, runID int64) Markup

	VerifySignature(url string, params map[string]any, sig Signature) bool
	ParseStatusCallback(data map[string]any) StatusUpdate

	// HandleMediaStream performs the vendor websocket handshake and hands
	// the connection to the media pipeline. Vendors without a websocket
	// media plane (LiveKit SIP) fail fast.
	HandleMediaStream(ctx context.Context, conn *websocket.Conn, sess media.Session, pipe media.Pipeline) error

	CanHandleWebhook(payload map[string]any, headers http.Header) bool
	ParseInboundWebhook(payload map[string]any) NormalizedInboundCall
	ValidateAccountID(cfg ProviderConfig, accountID string) bool
	NormalizePhoneNumber(raw string) string
	InboundResponse(wsURL string, runID int64) Markup
	ErrorResponse(kind, message string) Markup
	ValidationErrorResponse(check CheckError) Markup

	CallStatus(ctx context.Context, callID string) (map[string]any, error)
	CallCost(ctx context.Context, callID string) (CallCost, error)
}

const (
	contentTypeXML  = "application/xml"
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain"
)
