package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/thc1967/codex-quest-manager-sub000/api/sse"
	"github.com/thc1967/codex-quest-manager-sub000/cache"
	mw "github.com/thc1967/codex-quest-manager-sub000/middleware"
	"go.uber.org/zap"
)

// Handler pushes document changes and announcements over WebSocket, on the
// same pub/sub channels as the SSE stream. Mount it behind middleware.Auth
// with query tokens allowed.
type Handler struct {
	pubsub   cache.PubSub
	path     string
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler for the document at path. allowedOrigins
// controls which origins may connect; an empty slice permits all origins
// (development only).
func NewHandler(pubsub cache.PubSub, path string, allowedOrigins []string, logger *zap.Logger) *Handler {
	h := &Handler{pubsub: pubsub, path: path, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowedOrigins) == 0 || origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeWS handles GET /ws?token=<jwt>. Server packets are "connected",
// "document" and "announce"; a client "ping" is answered with a "pong"
// echoing its payload.
func (h *Handler) ServeWS(c *gin.Context) {
	accountID := mw.GetAccountID(c)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	docChannel := sse.DocumentChannel(h.path)
	msgCh, unsub, err := h.pubsub.Subscribe(ctx, sse.AnnounceChannel, docChannel)
	if err != nil {
		h.logger.Error("ws subscribe failed", zap.Error(err))
		conn.Close()
		return
	}
	defer unsub()

	s := newSession(accountID, conn, h.logger)
	defer s.close()
	s.send("connected", json.RawMessage(`{}`))

	go func() {
		defer cancel()
		h.readPump(s)
	}()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			typ := "announce"
			if msg.Channel == docChannel {
				typ = "document"
			}
			s.send(typ, json.RawMessage(msg.Payload))
		case <-ctx.Done():
			return
		}
	}
}

// readPump reads client packets until the connection fails.
func (h *Handler) readPump(s *session) {
	s.setReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.setReadDeadline()
		return nil
	})
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.Int64("account_id", s.accountID),
					zap.Error(err))
			}
			return
		}
		s.setReadDeadline()

		var pkt Packet
		if err := json.Unmarshal(raw, &pkt); err != nil {
			s.send("error", json.RawMessage(`{"error":"invalid packet"}`))
			continue
		}
		switch pkt.Type {
		case "ping":
			s.send("pong", pkt.Payload)
		default:
			s.send("error", json.RawMessage(`{"error":"unknown packet type"}`))
		}
	}
}
