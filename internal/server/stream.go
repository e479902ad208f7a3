package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader configures the websocket handshake for the streaming adapter.
// Origin checking is delegated to whatever fronts the gateway; the protocol
// carries no browser credentials.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream is the streaming transport adapter. One websocket connection
// carries many sequential requests; each frame is dispatched through the
// same state machine as the synchronous adapter and answered on the same
// connection, in the order the frames arrived.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Str("error", err.Error()).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := s.logger.WithCorrelationId(connID)
	logger.Debug().Str("remote", r.RemoteAddr).Msg("stream connection opened")

	// Requests on one connection are dispatched sequentially, which gives
	// the per-connection ordering guarantee for free. The request context
	// is canceled when the client goes away, so an in-flight bridge call is
	// abandoned without leaking its pool slot.
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Debug().Str("reason", err.Error()).Msg("stream connection closed")
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		resp := s.dispatcher.Dispatch(r.Context(), msg)

		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			logger.Debug().Str("reason", err.Error()).Msg("stream write failed")
			return
		}
	}
}
