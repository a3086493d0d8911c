// Package media hands accepted telephony websocket connections to the audio
// pipeline that bridges vendor media frames with the conversation engine.
package media

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"
)

// Session identifies the run a media connection belongs to.
type Session struct {
	WorkflowID int64
	UserID     int64
	RunID      int64
	Provider   string
}

// Pipeline consumes a live vendor media websocket for the duration of a call.
// Run blocks until the call ends or the connection drops, and owns closing
// the connection.
type Pipeline interface {
	Run(ctx context.Context, conn *websocket.Conn, streamID, callID string, sess Session) error
}

// Noop drains and discards media frames. It stands in for the real audio
// bridge in tests and single-binary deployments without a conversation
// engine attached.
type Noop struct {
	Log *slog.Logger
}

func (n *Noop) Run(ctx context.Context, conn *websocket.Conn, streamID, callID string, sess Session) error {
	defer conn.Close()

	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "media pipeline attached",
		slog.Int64("run_id", sess.RunID),
		slog.String("provider", sess.Provider),
		slog.String("stream_id", streamID),
		slog.String("call_id", callID),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
	}
}
