package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"visit-intake-service/internal/service/workflow"
)

// Capture WebSocket text commands.
const (
	commandStop = "stop"
)

const writeWait = 10 * time.Second

// fragmentSink is the device side of a push-fed capture.
type fragmentSink interface {
	Push(fragment []byte) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 4 * 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests from the API's own host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// captureResult is the final message written on the capture socket.
type captureResult struct {
	Snapshot workflow.Snapshot `json:"snapshot"`
	Error    *errorBody        `json:"error,omitempty"`
}

// capture starts capture and relays the socket into the encounter's device.
//
// Binary frames are audio fragments, in order. A "stop" text frame finalizes
// the capture and runs the upload; the socket then receives the snapshot and
// closes. A socket that goes away before "stop" cancels the encounter.
func (h *handler) capture(w http.ResponseWriter, r *http.Request) {
	c := encounterFrom(r)
	sink, ok := c.Device().(fragmentSink)
	if !ok {
		badRequest(w, "encounter device does not accept streamed fragments")
		return
	}

	// Refused before capture starts, so a rejected socket leaves the
	// encounter and its consent untouched.
	if !websocket.IsWebSocketUpgrade(r) {
		badRequest(w, "capture requires a WebSocket upgrade")
		return
	}
	if !sameOrigin(r) {
		writeJSON(w, http.StatusForbidden, errorBody{Code: codeForbidden, Message: "cross-origin capture socket refused"})
		return
	}

	// Errors before the upgrade go back as plain HTTP responses, so a missing
	// consent is a 412 the client can act on.
	if err := c.StartCapture(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Str("sessionId", c.SessionID()).Msg("WebSocket upgrade failed")
		_ = c.Cancel()
		return
	}
	defer conn.Close()
	if h.maxFragmentBytes > 0 {
		conn.SetReadLimit(h.maxFragmentBytes)
	}

	logger := h.logger.With().Str("sessionId", c.SessionID()).Logger()
	logger.Info().Msg("Capture socket opened")

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info().Err(err).Msg("Capture socket closed before stop, cancelling")
			if c.State() == workflow.StateCapturing {
				_ = c.Cancel()
			}
			return
		}

		switch mt {
		case websocket.BinaryMessage:
			if err := sink.Push(data); err != nil {
				logger.Warn().Err(err).Msg("Fragment rejected, closing capture socket")
				h.finish(conn, c, err)
				return
			}
		case websocket.TextMessage:
			if strings.TrimSpace(string(data)) != commandStop {
				logger.Debug().Str("command", string(data)).Msg("Ignoring unknown capture command")
				continue
			}
			// The upload outlives the socket's request context.
			err := c.StopCapture(context.WithoutCancel(r.Context()))
			h.finish(conn, c, err)
			return
		}
	}
}

func (h *handler) finish(conn *websocket.Conn, c *workflow.Coordinator, opErr error) {
	res := captureResult{Snapshot: c.Snapshot()}
	if opErr != nil {
		_, body := errorResponse(opErr)
		res.Error = &body
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(res); err != nil {
		h.logger.Warn().Err(err).Str("sessionId", c.SessionID()).Msg("Failed to write capture result")
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
