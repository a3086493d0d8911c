package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"voicegate/internal/auth"
	"voicegate/internal/org"
	"voicegate/internal/quota"
	"voicegate/internal/run"
)

// Handlers is the HTTP surface of the gateway. Operator endpoints sit
// behind JWT auth; vendor webhooks authenticate with vendor signatures and
// always answer 200 so vendors do not retry-storm us.
type Handlers struct {
	registry  *Registry
	validator *InboundValidator
	initiator *Initiator
	processor *StatusProcessor
	gateway   *MediaGateway
	runs      run.Repo
	orgs      org.Repo
	quota     quota.Checker
	host      string
	log       *slog.Logger
}

func NewHandlers(
	registry *Registry,
	validator *InboundValidator,
	initiator *Initiator,
	processor *StatusProcessor,
	gateway *MediaGateway,
	runs run.Repo,
	orgs org.Repo,
	q quota.Checker,
	publicHost string,
	log *slog.Logger,
) *Handlers {
	return &Handlers{
		registry:  registry,
		validator: validator,
		initiator: initiator,
		processor: processor,
		gateway:   gateway,
		runs:      runs,
		orgs:      orgs,
		quota:     q,
		host:      publicHost,
		log:       log,
	}
}

// Register mounts all telephony routes under /api/v1/telephony.
func (h *Handlers) Register(api gin.IRouter, requireAuth gin.HandlerFunc) {
	tel := api.Group("/telephony")

	tel.POST("/initiate-call", requireAuth, h.initiateCall)

	tel.POST("/twiml", h.answerWebhook)
	tel.GET("/ncco", h.answerWebhook)
	tel.POST("/vobiz-xml", h.answerWebhook)

	tel.POST("/inbound/fallback", h.inboundFallback)
	tel.POST("/inbound/:workflow_id", h.inbound)

	tel.POST("/twilio/status-callback/:run_id", h.twilioStatusCallback)
	tel.POST("/vonage/events/:run_id", h.vonageEvents)
	tel.POST("/vobiz/hangup-callback/workflow/:workflow_id", h.vobizHangupByWorkflow)
	tel.POST("/vobiz/hangup-callback/:run_id", h.vobizHangup)
	tel.POST("/vobiz/ring-callback/:run_id", h.vobizRing)
	tel.POST("/cloudonix/status-callback/:run_id", h.cloudonixStatusCallback)
	tel.POST("/itniotech/status-callback/:run_id", h.itniotechStatusCallback)

	tel.POST("/livekit/dispatch", h.livekitDispatch)

	tel.GET("/ws/:workflow_id/:user_id/:run_id", h.mediaWebsocket)
}

// parseWebhookRequest decodes a vendor webhook into a generic map,
// preserving the raw body for signature verification. Vendors send either
// JSON or form encoding.
func parseWebhookRequest(c *gin.Context) (map[string]any, string, error) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read webhook body: %w", err)
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	contentType := c.GetHeader("Content-Type")
	data := map[string]any{}

	if strings.Contains(contentType, "application/json") {
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, string(raw), fmt.Errorf("parse webhook json: %w", err)
			}
		}
		return data, string(raw), nil
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, string(raw), fmt.Errorf("parse webhook form: %w", err)
	}
	for k, vs := range c.Request.PostForm {
		if len(vs) > 0 {
			data[k] = vs[0]
		}
	}
	// Some vendors put fields on the query string as well.
	for k, vs := range c.Request.URL.Query() {
		if _, exists := data[k]; !exists && len(vs) > 0 {
			data[k] = vs[0]
		}
	}
	return data, string(raw), nil
}

func (h *Handlers) renderMarkup(c *gin.Context, m Markup) {
	c.Data(http.StatusOK, m.ContentType, []byte(m.Content))
}

func pathInt64(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func queryInt64(c *gin.Context, name string) int64 {
	v, _ := strconv.ParseInt(c.Query(name), 10, 64)
	return v
}

// --- operator endpoints -------------------------------------------------

type initiateCallRequest struct {
	WorkflowID  int64  `json:"workflow_id" binding:"required"`
	RunID       *int64 `json:"workflow_run_id"`
	PhoneNumber string `json:"phone_number"`
}

func (h *Handlers) initiateCall(c *gin.Context) {
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	orgID, err := auth.OrganizationID(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	result, err := h.initiator.Initiate(c.Request.Context(), userID, orgID, InitiateRequest{
		WorkflowID:  req.WorkflowID,
		RunID:       req.RunID,
		PhoneNumber: req.PhoneNumber,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": "telephony_not_configured"})
		return
	case errors.Is(err, ErrQuotaExceeded):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
		return
	case errors.Is(err, ErrMissingDestination), errors.Is(err, ErrRunNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		h.log.Error("initiate call failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "call initiation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Call initiated successfully with run name %s", result.RunName),
	})
}

// --- answer webhooks ----------------------------------------------------

// answerWebhook serves the vendor's post-answer call-control document
// (TwiML, NCCO, or Plivo XML depending on the configured provider).
func (h *Handlers) answerWebhook(c *gin.Context) {
	workflowID := queryInt64(c, "workflow_id")
	userID := queryInt64(c, "user_id")
	runID := queryInt64(c, "workflow_run_id")
	orgID := queryInt64(c, "organization_id")
	if orgID == 0 {
		// Legacy webhook URLs carried only user_id.
		orgID = userID
	}

	provider, err := h.registry.Provider(c.Request.Context(), orgID)
	if err != nil {
		h.log.Error("answer webhook provider resolution failed",
			slog.Int64("organization_id", orgID), slog.String("error", err.Error()))
		h.renderMarkup(c, GenericHangupResponse())
		return
	}

	h.renderMarkup(c, provider.WebhookResponse(workflowID, userID, runID))
}

// --- inbound ------------------------------------------------------------

func (h *Handlers) inbound(c *gin.Context) {
	workflowID, ok := pathInt64(c, "workflow_id")
	if !ok {
		h.renderMarkup(c, GenericHangupResponse())
		return
	}
	log := h.log.With(slog.Int64("workflow_id", workflowID))

	payload, rawBody, err := parseWebhookRequest(c)
	if err != nil {
		log.Error("inbound webhook parse failed", slog.String("error", err.Error()))
		h.renderMarkup(c, GenericHangupResponse())
		return
	}

	detected := h.registry.Detect(payload, c.Request.Header)
	if detected == nil {
		log.Error("unable to detect provider for inbound webhook")
		h.renderMarkup(c, GenericHangupResponse())
		return
	}

	norm := detected.ParseInboundWebhook(payload)
	log.Info("inbound call received",
		slog.String("provider", norm.Provider), slog.String("call_id", norm.CallID))

	if norm.Direction != "inbound" {
		log.Warn("non-inbound call on inbound endpoint", slog.String("direction", norm.Direction))
		h.renderMarkup(c, GenericHangupResponse())
		return
	}

	sig := h.inboundSignature(c, detected, rawBody)

	inboundCtx, check := h.validator.Validate(c.Request.Context(), workflowID, detected, norm, payload, sig)
	if check != CheckValid {
		log.Error("inbound validation failed", slog.String("check", string(check)))
		h.renderMarkup(c, detected.ValidationErrorResponse(check))
		return
	}

	quotaResult, err := h.quota.Check(c.Request.Context(), inboundCtx.UserID)
	if err != nil || !quotaResult.HasQuota {
		if err != nil {
			log.Error("quota check failed", slog.String("error", err.Error()))
		} else {
			log.Warn("inbound call rejected, quota exhausted", slog.Int64("user_id", inboundCtx.UserID))
		}
		h.renderMarkup(c, detected.ValidationErrorResponse(CheckQuotaExceeded))
		return
	}

	created, err := h.runs.Create(c.Request.Context(), run.Run{
		Name:       run.NewName(run.CallTypeInbound),
		WorkflowID: workflowID,
		UserID:     inboundCtx.UserID,
		Mode:       inboundCtx.Provider,
		CallType:   run.CallTypeInbound,
		InitialContext: map[string]any{
			"caller_number":    norm.FromNumber,
			"called_number":    norm.ToNumber,
			"direction":        "inbound",
			"call_id":          norm.CallID,
			"account_id":       norm.AccountID,
			"provider":         inboundCtx.Provider,
			"from_country":     norm.FromCountry,
			"to_country":       norm.ToCountry,
			"raw_webhook_data": norm.RawData,
		},
	})
	if err != nil {
		log.Error("inbound run creation failed", slog.String("error", err.Error()))
		h.renderMarkup(c, GenericHangupResponse())
		return
	}

	log.Info("inbound run created",
		slog.Int64("run_id", created.ID), slog.String("call_id", norm.CallID))

	wsURL := mediaWebsocketURL(h.host, workflowID, inboundCtx.UserID, created.ID)
	h.renderMarkup(c, detected.InboundResponse(wsURL, created.ID))
}

func (h *Handlers) inboundSignature(c *gin.Context, detected Provider, rawBody string) Signature {
	switch detected.Name() {
	case ProviderTwilio:
		return Signature{Value: c.GetHeader("X-Twilio-Signature")}
	case ProviderVobiz:
		return Signature{
			Value:     c.GetHeader("X-Vobiz-Signature"),
			Timestamp: c.GetHeader("X-Vobiz-Timestamp"),
			Body:      rawBody,
		}
	case ProviderItniotech:
		return Signature{Value: c.GetHeader("X-Itniotech-Signature")}
	default:
		return Signature{}
	}
}

func (h *Handlers) inboundFallback(c *gin.Context) {
	payload, _, err := parseWebhookRequest(c)
	if err != nil {
		h.renderMarkup(c, GenericHangupResponse())
		return
	}

	detected := h.registry.Detect(payload, c.Request.Header)
	if detected == nil {
		h.log.Info("fallback webhook from unknown provider")
		h.renderMarkup(c, GenericHangupResponse())
		return
	}

	callID := stringField(payload, "CallSid", "CallUUID", "call_uuid", "uuid", "call_id")
	h.log.Info("fallback webhook",
		slog.String("provider", detected.Name()), slog.String("call_id", callID))

	h.renderMarkup(c, detected.ErrorResponse(
		"SYSTEM_UNAVAILABLE",
		"Our system is temporarily unavailable. Please try again later.",
	))
}

// --- status callbacks ---------------------------------------------------

// runScopedCallback resolves the run and its live provider for a callback
// endpoint. A nil provider with ok=true means the caller should answer
// "ignored" (the run or workflow is gone; never an error to the vendor).
func (h *Handlers) runScopedCallback(c *gin.Context) (run.Run, Provider, bool) {
	runID, ok := pathInt64(c, "run_id")
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "invalid_run_id"})
		return run.Run{}, nil, false
	}

	callRun, err := h.runs.Get(c.Request.Context(), runID)
	if errors.Is(err, run.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "workflow_run_not_found"})
		return run.Run{}, nil, false
	}
	if err != nil {
		h.log.Error("run lookup failed", slog.Int64("run_id", runID), slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "internal"})
		return run.Run{}, nil, false
	}

	wf, err := h.orgs.Workflow(c.Request.Context(), callRun.WorkflowID)
	if errors.Is(err, org.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "workflow_not_found"})
		return run.Run{}, nil, false
	}
	if err != nil {
		h.log.Error("workflow lookup failed", slog.Int64("run_id", runID), slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "internal"})
		return run.Run{}, nil, false
	}

	provider, err := h.registry.Provider(c.Request.Context(), wf.OrganizationID)
	if err != nil {
		h.log.Error("provider resolution failed", slog.Int64("run_id", runID), slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "provider_unavailable"})
		return run.Run{}, nil, false
	}

	return callRun, provider, true
}

func (h *Handlers) processCallback(c *gin.Context, callRun run.Run, provider Provider, payload map[string]any) {
	su := provider.ParseStatusCallback(payload)
	if err := h.processor.Process(c.Request.Context(), callRun.ID, su); err != nil {
		h.log.Error("status callback processing failed",
			slog.Int64("run_id", callRun.ID), slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handlers) twilioStatusCallback(c *gin.Context) {
	payload, _, err := parseWebhookRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "unreadable_payload"})
		return
	}

	callRun, provider, ok := h.runScopedCallback(c)
	if !ok {
		return
	}

	if sig := c.GetHeader("X-Webhook-Signature"); sig != "" {
		fullURL := callbackURL(h.host, "twilio/status-callback", callRun.ID)
		if !provider.VerifySignature(fullURL, payload, Signature{Value: sig}) {
			h.log.Warn("invalid twilio callback signature", slog.Int64("run_id", callRun.ID))
			c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "invalid_signature"})
			return
		}
	}

	h.processCallback(c, callRun, provider, payload)
}

func (h *Handlers) vonageEvents(c *gin.Context) {
	payload, _, err := parseWebhookRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "unreadable_payload"})
		return
	}

	callRun, provider, ok := h.runScopedCallback(c)
	if !ok {
		return
	}

	if stringField(payload, "status") == "completed" {
		h.processor.CaptureVonageCost(c.Request.Context(), callRun.ID, payload)
	}

	su := provider.ParseStatusCallback(payload)
	if err := h.processor.Process(c.Request.Context(), callRun.ID, su); err != nil {
		h.log.Error("vonage event processing failed",
			slog.Int64("run_id", callRun.ID), slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) vobizHangup(c *gin.Context) {
	payload, rawBody, err := parseWebhookRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "unreadable_payload"})
		return
	}

	callRun, provider, ok := h.runScopedCallback(c)
	if !ok {
		return
	}

	if sig := c.GetHeader("X-Vobiz-Signature"); sig != "" {
		fullURL := callbackURL(h.host, "vobiz/hangup-callback", callRun.ID)
		valid := provider.VerifySignature(fullURL, payload, Signature{
			Value:     sig,
			Timestamp: c.GetHeader("X-Vobiz-Timestamp"),
			Body:      rawBody,
		})
		if !valid {
			h.log.Warn("invalid vobiz hangup signature", slog.Int64("run_id", callRun.ID))
			c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "invalid_signature"})
			return
		}
	}

	h.processCallback(c, callRun, provider, payload)
}

func (h *Handlers) vobizRing(c *gin.Context) {
	payload, _, err := parseWebhookRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "unreadable_payload"})
		return
	}

	runID, ok := pathInt64(c, "run_id")
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "invalid_run_id"})
		return
	}

	callID := stringField(payload, "CallUUID", "call_uuid")
	if err := h.processor.LogRinging(c.Request.Context(), runID, callID, payload); err != nil {
		if errors.Is(err, run.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "workflow_run_not_found"})
			return
		}
		h.log.Error("ring callback logging failed",
			slog.Int64("run_id", runID), slog.String("error", err.Error()))
		c.JSON(http.StatusOK, gin.H{"status": "error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// vobizHangupByWorkflow handles hangup callbacks registered per workflow
// rather than per run: the run is found by the vendor call id recorded in
// its initial context.
func (h *Handlers) vobizHangupByWorkflow(c *gin.Context) {
	workflowID, ok := pathInt64(c, "workflow_id")
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "invalid_workflow_id"})
		return
	}

	payload, rawBody, err := parseWebhookRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "unreadable_payload"})
		return
	}

	callID := stringField(payload, "CallUUID", "call_uuid")
	if callID == "" {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "No call_uuid found"})
		return
	}

	wf, err := h.orgs.Workflow(c.Request.Context(), workflowID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "workflow_not_found"})
		return
	}

	provider, err := h.registry.Provider(c.Request.Context(), wf.OrganizationID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "provider_unavailable"})
		return
	}

	if sig := c.GetHeader("X-Vobiz-Signature"); sig != "" {
		fullURL := fmt.Sprintf("https://%s%s/vobiz/hangup-callback/workflow/%d", h.host, apiBasePath, workflowID)
		valid := provider.VerifySignature(fullURL, payload, Signature{
			Value:     sig,
			Timestamp: c.GetHeader("X-Vobiz-Timestamp"),
			Body:      rawBody,
		})
		if !valid {
			h.log.Warn("invalid vobiz hangup signature", slog.Int64("workflow_id", workflowID))
			c.JSON(http.StatusOK, gin.H{"status": "error", "message": "invalid_signature"})
			return
		}
	}

	callRun, err := h.runs.FindByCallID(c.Request.Context(), workflowID, callID)
	if errors.Is(err, run.ErrNotFound) {
		h.log.Warn("no run for vobiz call",
			slog.Int64("workflow_id", workflowID), slog.String("call_id", callID))
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "workflow_run_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "message": "lookup_failed"})
		return
	}

	h.processCallback(c, callRun, provider, payload)
}

func (h *Handlers) cloudonixStatusCallback(c *gin.Context) {
	payload, _, err := parseWebhookRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "unreadable_payload"})
		return
	}
	callRun, provider, ok := h.runScopedCallback(c)
	if !ok {
		return
	}
	h.processCallback(c, callRun, provider, payload)
}

func (h *Handlers) itniotechStatusCallback(c *gin.Context) {
	payload, _, err := parseWebhookRequest(c)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": "error", "reason": "unreadable_payload"})
		return
	}
	callRun, provider, ok := h.runScopedCallback(c)
	if !ok {
		return
	}
	h.processCallback(c, callRun, provider, payload)
}

// --- livekit agent dispatch ----------------------------------------------

type livekitDispatchRequest struct {
	RoomName      string `json:"room_name" binding:"required"`
	ServerURL     string `json:"server_url"`
	AgentIdentity string `json:"agent_identity"`
	RunID         *int64 `json:"workflow_run_id"`
	WorkflowID    *int64 `json:"workflow_id"`
	UserID        *int64 `json:"user_id"`
}

// livekitDispatch accepts agent-dispatch payloads and records the room
// metadata onto the run asynchronously; the dispatcher itself lives with
// the agent runtime.
func (h *Handlers) livekitDispatch(c *gin.Context) {
	var req livekitDispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.RunID != nil {
		runID := *req.RunID
		go func() {
			// The request context dies with the response; the merge should not.
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			kv := map[string]any{"livekit_room": req.RoomName}
			if req.AgentIdentity != "" {
				kv["livekit_agent_identity"] = req.AgentIdentity
			}
			if err := h.runs.MergeGatheredContext(ctx, runID, kv); err != nil {
				h.log.Error("livekit dispatch metadata merge failed",
					slog.Int64("run_id", runID), slog.String("error", err.Error()))
			}
		}()
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// --- media websocket -----------------------------------------------------

func (h *Handlers) mediaWebsocket(c *gin.Context) {
	workflowID, ok1 := pathInt64(c, "workflow_id")
	userID, ok2 := pathInt64(c, "user_id")
	runID, ok3 := pathInt64(c, "run_id")
	if !ok1 || !ok2 || !ok3 {
		c.Status(http.StatusBadRequest)
		return
	}
	h.gateway.Serve(c.Writer, c.Request, workflowID, userID, runID)
}
