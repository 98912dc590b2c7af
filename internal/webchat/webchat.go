// Package webchat serves a WebSocket chat endpoint. Each connection carries
// JSON frames for any number of users; frames on one connection are answered
// in the order they arrive.
package webchat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lingobot/internal/bot"
	"github.com/MrWong99/lingobot/internal/observe"
)

// DefaultHandleTimeout bounds how long one frame may take to answer.
const DefaultHandleTimeout = 90 * time.Second

// transportName is the value of the "transport" metric attribute.
const transportName = "webchat"

// Inbound is a frame sent by a client.
type Inbound struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

// Outbound is a frame sent to a client. Exactly one of Reply and Error is
// set.
type Outbound struct {
	UserID int64  `json:"user_id"`
	Reply  string `json:"reply,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Frame errors reported in [Outbound.Error].
const (
	ErrInvalidFrame = "invalid frame"
	ErrMissingUser  = "user_id is required"
	ErrEmptyText    = "text is required"
)

// Option is a functional option for configuring a [Handler].
type Option func(*Handler)

// WithOriginPatterns sets the accepted Origin host patterns. By default only
// same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithHandleTimeout sets the per-frame timeout. Default: [DefaultHandleTimeout].
func WithHandleTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// Handler is an [http.Handler] that upgrades requests to WebSocket
// connections and relays frames to a [bot.Handler].
type Handler struct {
	handler bot.Handler
	origins []string
	timeout time.Duration
	metrics *observe.Metrics

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	conns  sync.WaitGroup
}

// New creates a Handler.
func New(handler bot.Handler, opts ...Option) *Handler {
	base, cancel := context.WithCancel(context.Background())
	h := &Handler{
		handler: handler,
		timeout: DefaultHandleTimeout,
		base:    base,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.acquire() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.conns.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Warn("webchat: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.base, cancel)
	defer stop()

	attrs := metric.WithAttributes(observe.Attr("transport", transportName))
	h.metrics.ActiveConnections.Add(ctx, 1, attrs)
	defer h.metrics.ActiveConnections.Add(context.Background(), -1, attrs)

	slog.Debug("webchat: connection opened", "remote", r.RemoteAddr)
	status, reason := h.serve(ctx, conn)
	if err := conn.Close(status, reason); err != nil {
		slog.Debug("webchat: close failed", "err", err)
	}
	slog.Debug("webchat: connection closed", "remote", r.RemoteAddr)
}

// acquire registers a connection unless Close has started.
func (h *Handler) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns.Add(1)
	return true
}

// serve reads frames until the peer leaves or ctx ends and returns the close
// status to send.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) (websocket.StatusCode, string) {
	for {
		_, data, err := conn.Read(ctx)
		switch {
		case err == nil:
		case websocket.CloseStatus(err) != -1:
			return websocket.StatusNormalClosure, ""
		case ctx.Err() != nil:
			return websocket.StatusGoingAway, "server shutting down"
		default:
			slog.Debug("webchat: read failed", "err", err)
			return websocket.StatusInternalError, ""
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			if err := wsjson.Write(ctx, conn, Outbound{Error: ErrInvalidFrame}); err != nil {
				return websocket.StatusInternalError, ""
			}
			continue
		}
		if err := wsjson.Write(ctx, conn, h.answer(ctx, in)); err != nil {
			slog.Debug("webchat: write failed", "user_id", in.UserID, "err", err)
			return websocket.StatusInternalError, ""
		}
	}
}

func (h *Handler) answer(ctx context.Context, in Inbound) Outbound {
	out := Outbound{UserID: in.UserID}
	switch {
	case in.UserID == 0:
		out.Error = ErrMissingUser
	case strings.TrimSpace(in.Text) == "":
		out.Error = ErrEmptyText
	default:
		ctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		out.Reply = bot.Reply(ctx, h.handler, in.UserID, in.Text)
	}
	return out
}

// Close disconnects every client and waits for their handlers to return.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	h.conns.Wait()
	return nil
}
