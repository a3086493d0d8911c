package telephony

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"voicegate/internal/media"
	"voicegate/internal/org"
	"voicegate/internal/run"
)

// Application close codes for rejected media connections. Vendors surface
// these in their stream logs, so each failure mode gets its own code.
const (
	closeNotFound   = 4404
	closeWrongState = 4409
	closeBadRequest = 4400
)

// MediaGateway accepts vendor media websockets, guards the
// initialized-to-running transition, and hands accepted connections to the
// media pipeline.
type MediaGateway struct {
	upgrader websocket.Upgrader
	runs     run.Repo
	orgs     org.Repo
	registry *Registry
	pipeline media.Pipeline
	log      *slog.Logger
}

func NewMediaGateway(runs run.Repo, orgs org.Repo, registry *Registry, pipeline media.Pipeline, log *slog.Logger) *MediaGateway {
	return &MediaGateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Telephony vendors do not send an Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		runs:     runs,
		orgs:     orgs,
		registry: registry,
		pipeline: pipeline,
		log:      log,
	}
}

// Serve upgrades the request and runs the media session for one call.
func (g *MediaGateway) Serve(w http.ResponseWriter, r *http.Request, workflowID, userID, runID int64) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	log := g.log.With(slog.Int64("run_id", runID))

	callRun, err := g.runs.Get(ctx, runID)
	if errors.Is(err, run.ErrNotFound) {
		closeWith(conn, closeNotFound, "workflow run not found")
		return
	}
	if err != nil {
		log.Error("run lookup failed", slog.String("error", err.Error()))
		closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	wf, err := g.orgs.Workflow(ctx, workflowID)
	if errors.Is(err, org.ErrNotFound) {
		closeWith(conn, closeNotFound, "workflow not found")
		return
	}
	if err != nil {
		log.Error("workflow lookup failed", slog.String("error", err.Error()))
		closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	if callRun.State != run.StateInitialized {
		log.Warn("media connect rejected, run not available", slog.String("state", string(callRun.State)))
		closeWith(conn, closeWrongState, "workflow run not available for connection")
		return
	}

	providerType := callRun.Provider()
	if providerType == "" {
		log.Error("no provider recorded on run")
		closeWith(conn, closeBadRequest, "provider type not found")
		return
	}

	provider, err := g.registry.Provider(ctx, wf.OrganizationID)
	if err != nil {
		log.Error("provider resolution failed", slog.String("error", err.Error()))
		closeWith(conn, closeBadRequest, "provider not configured")
		return
	}
	if provider.Name() != providerType {
		log.Error("provider mismatch",
			slog.String("expected", providerType), slog.String("configured", provider.Name()))
		closeWith(conn, closeBadRequest, "provider mismatch")
		return
	}

	if err := g.runs.MarkRunning(ctx, runID); err != nil {
		if errors.Is(err, run.ErrConflict) {
			closeWith(conn, closeWrongState, "workflow run not available for connection")
		} else if errors.Is(err, run.ErrNotFound) {
			closeWith(conn, closeNotFound, "workflow run not found")
		} else {
			log.Error("mark running failed", slog.String("error", err.Error()))
			closeWith(conn, websocket.CloseInternalServerErr, "internal error")
		}
		return
	}

	log.Info("media session starting", slog.String("provider", providerType))

	sess := media.Session{
		WorkflowID: workflowID,
		UserID:     userID,
		RunID:      runID,
		Provider:   providerType,
	}
	if err := provider.HandleMediaStream(ctx, conn, sess, g.pipeline); err != nil {
		log.Info("media session ended", slog.String("error", err.Error()))
		return
	}
	log.Info("media session ended")
}
