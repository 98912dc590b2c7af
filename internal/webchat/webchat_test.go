package webchat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/lingobot/internal/bot"
	"github.com/MrWong99/lingobot/internal/observe"
)

// echoHandler replies with the text prefixed by the user id and can block or
// fail on demand.
type echoHandler struct {
	mu    sync.Mutex
	calls []string
	err   error
	delay time.Duration
}

func (h *echoHandler) Handle(ctx context.Context, userID int64, text string) (string, error) {
	h.mu.Lock()
	h.calls = append(h.calls, text)
	err, delay := h.err, h.delay
	h.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return strings.ToUpper(text), nil
}

type harness struct {
	h      *Handler
	srv    *httptest.Server
	reader *sdkmetric.ManualReader
}

func newHarness(t *testing.T, handler bot.Handler, opts ...Option) *harness {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := New(handler, append([]Option{WithMetrics(m)}, opts...)...)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		_ = h.Close()
		srv.Close()
	})
	return &harness{h: h, srv: srv, reader: reader}
}

func (hs *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(hs.srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func (hs *harness) activeConnections(t *testing.T) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := hs.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "lingobot.active_connections" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("active_connections data is %T", m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func roundTrip(t *testing.T, conn *websocket.Conn, in any) Outbound {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out Outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	return out
}

func TestHandler_Reply(t *testing.T) {
	h := &echoHandler{}
	hs := newHarness(t, h)
	conn := hs.dial(t)

	got := roundTrip(t, conn, Inbound{UserID: 12, Text: "hola"})
	if got.UserID != 12 || got.Reply != "HOLA" || got.Error != "" {
		t.Errorf("frame = %+v", got)
	}
}

func TestHandler_PreservesOrder(t *testing.T) {
	h := &echoHandler{}
	hs := newHarness(t, h)
	conn := hs.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	texts := []string{"one", "two", "three"}
	for _, text := range texts {
		if err := wsjson.Write(ctx, conn, Inbound{UserID: 1, Text: text}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	for _, text := range texts {
		var out Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read: %v", err)
		}
		if out.Reply != strings.ToUpper(text) {
			t.Errorf("reply = %q, want %q", out.Reply, strings.ToUpper(text))
		}
	}
}

func TestHandler_FrameErrors(t *testing.T) {
	h := &echoHandler{}
	hs := newHarness(t, h)
	conn := hs.dial(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out Outbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Error != ErrInvalidFrame {
		t.Errorf("error = %q, want %q", out.Error, ErrInvalidFrame)
	}

	if got := roundTrip(t, conn, Inbound{Text: "hi"}); got.Error != ErrMissingUser {
		t.Errorf("missing user error = %q", got.Error)
	}
	if got := roundTrip(t, conn, Inbound{UserID: 3, Text: "  "}); got.Error != ErrEmptyText || got.UserID != 3 {
		t.Errorf("empty text frame = %+v", got)
	}

	// The connection survives bad frames.
	if got := roundTrip(t, conn, Inbound{UserID: 3, Text: "ok"}); got.Reply != "OK" {
		t.Errorf("reply after errors = %+v", got)
	}
	if len(h.calls) != 1 {
		t.Errorf("handler called %d times, want 1", len(h.calls))
	}
}

func TestHandler_HandlerErrorIsHidden(t *testing.T) {
	h := &echoHandler{err: errors.New("redis: i/o timeout")}
	hs := newHarness(t, h)
	conn := hs.dial(t)

	got := roundTrip(t, conn, Inbound{UserID: 5, Text: "hi"})
	if got.Reply != bot.InternalError {
		t.Errorf("reply = %q, want %q", got.Reply, bot.InternalError)
	}
}

func TestHandler_Timeout(t *testing.T) {
	h := &echoHandler{delay: time.Minute}
	hs := newHarness(t, h, WithHandleTimeout(50*time.Millisecond))
	conn := hs.dial(t)

	got := roundTrip(t, conn, Inbound{UserID: 5, Text: "slow"})
	if got.Reply != bot.InternalError {
		t.Errorf("reply = %q, want %q", got.Reply, bot.InternalError)
	}
}

func TestHandler_TracksActiveConnections(t *testing.T) {
	hs := newHarness(t, &echoHandler{})
	conn := hs.dial(t)
	roundTrip(t, conn, Inbound{UserID: 1, Text: "hi"})

	if got := hs.activeConnections(t); got != 1 {
		t.Fatalf("active connections = %d, want 1", got)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Fatalf("Close: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for hs.activeConnections(t) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("active connections did not drop to 0")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_CloseDisconnectsClients(t *testing.T) {
	hs := newHarness(t, &echoHandler{})
	conn := hs.dial(t)
	roundTrip(t, conn, Inbound{UserID: 1, Text: "hi"})

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _, err := conn.Read(ctx)
		done <- err
	}()

	if err := hs.h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected read error after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client was not disconnected")
	}
}

func TestHandler_RejectsAfterClose(t *testing.T) {
	hs := newHarness(t, &echoHandler{})
	if err := hs.h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(hs.srv.URL, "http"), nil)
	if err == nil {
		_ = conn.CloseNow()
		t.Fatal("Dial succeeded after Close")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %v, want 503", resp)
	}
}

func TestHandler_CloseWhileClientsConnect(t *testing.T) {
	hs := newHarness(t, &echoHandler{})
	url := "ws" + strings.TrimPrefix(hs.srv.URL, "http")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			conn, _, err := websocket.Dial(ctx, url, nil)
			if err != nil {
				return
			}
			defer conn.CloseNow()
			_, _, _ = conn.Read(ctx)
		}()
	}

	if err := hs.h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
}
