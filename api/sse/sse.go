package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thc1967/codex-quest-manager-sub000/cache"
	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"go.uber.org/zap"
)

// AnnounceChannel is the pub/sub channel carrying director announcements.
const AnnounceChannel = "announce"

// DocumentChannel is the pub/sub channel carrying changes of the document
// at path.
func DocumentChannel(path string) string { return "document:" + path }

// Handler streams document changes and announcements as server-sent events.
// Mount it behind middleware.Auth with query tokens allowed, since
// EventSource cannot send headers.
type Handler struct {
	pubsub    cache.PubSub
	path      string
	origins   []string
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a Handler for the document at path. allowedOrigins
// lists the browser origins accepted; an empty slice permits all origins
// (development only).
func NewHandler(pubsub cache.PubSub, path string, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		pubsub:    pubsub,
		path:      path,
		origins:   allowedOrigins,
		keepalive: 30 * time.Second,
		logger:    logger,
	}
}

// originAllowed reports whether a request from origin may subscribe.
// Requests without an Origin header do not come from a cross-site page.
func (h *Handler) originAllowed(origin string) bool {
	if len(h.origins) == 0 || origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == origin {
			return true
		}
	}
	return false
}

// ServeSSE handles GET /sse?token=<jwt>.
func (h *Handler) ServeSSE(c *gin.Context) {
	origin := c.GetHeader("Origin")
	if !h.originAllowed(origin) {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}
	if origin != "" {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Vary", "Origin")
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	docChannel := DocumentChannel(h.path)
	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, AnnounceChannel, docChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			event := "announce"
			if msg.Channel == docChannel {
				event = "document"
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// Announce publishes an announcement message to all SSE subscribers.
func (h *Handler) Announce(ctx context.Context, message string) error {
	data, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return err
	}
	return h.pubsub.Publish(ctx, AnnounceChannel, string(data))
}

// Publisher forwards committed document changes to pub/sub so every
// instance can push them to its SSE clients.
type Publisher struct {
	pubsub cache.PubSub
}

// NewPublisher creates a Publisher. Register it on a hook.DocumentEvents
// center.
func NewPublisher(pubsub cache.PubSub) *Publisher {
	return &Publisher{pubsub: pubsub}
}

// Handle publishes ev as JSON on DocumentChannel(ev.Path).
func (p *Publisher) Handle(ctx context.Context, ev hook.DocumentChanged) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.pubsub.Publish(ctx, DocumentChannel(ev.Path), string(data))
}
