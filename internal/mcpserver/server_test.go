package mcpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"slices"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/lingobot/internal/bot"
	"github.com/MrWong99/lingobot/internal/kv"
	"github.com/MrWong99/lingobot/internal/learner"
	"github.com/MrWong99/lingobot/internal/mcpserver"
	"github.com/MrWong99/lingobot/internal/observe"
)

type stubHandler struct {
	reply string
	err   error
	got   []string
}

func (h *stubHandler) Handle(_ context.Context, _ int64, text string) (string, error) {
	h.got = append(h.got, text)
	return h.reply, h.err
}

type harness struct {
	session *mcpsdk.ClientSession
	users   *learner.Store
	handler *stubHandler
	reader  *sdkmetric.ManualReader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	users := learner.New(kv.NewMemory())
	handler := &stubHandler{reply: "🤖 Hi!"}
	srv := mcpserver.New(handler, users, users, mcpserver.WithMetrics(m), mcpserver.WithVersion("test"))

	ct, st := mcpsdk.NewInMemoryTransports()
	ss, err := srv.MCP().Connect(ctx, st, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })

	return &harness{session: cs, users: users, handler: handler, reader: reader}
}

func (h *harness) call(t *testing.T, name string, args map[string]any, out any) *mcpsdk.CallToolResult {
	t.Helper()
	res, err := h.session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError || out == nil {
		return res
	}
	data, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("marshal structured content: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s output %s: %v", name, data, err)
	}
	return res
}

func TestListTools(t *testing.T) {
	h := newHarness(t)

	res, err := h.session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{mcpserver.ToolErrorHistory, mcpserver.ToolLearnerProfile, mcpserver.ToolSendMessage}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t)

	var out mcpserver.SendMessageOutput
	res := h.call(t, mcpserver.ToolSendMessage, map[string]any{"user_id": 42, "text": "/progress"}, &out)
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	if out.Reply != "🤖 Hi!" {
		t.Errorf("reply = %q", out.Reply)
	}
	if len(h.handler.got) != 1 || h.handler.got[0] != "/progress" {
		t.Errorf("handler got %q", h.handler.got)
	}
}

func TestSendMessage_HidesHandlerErrors(t *testing.T) {
	h := newHarness(t)
	h.handler.err = errors.New("redis down")

	var out mcpserver.SendMessageOutput
	h.call(t, mcpserver.ToolSendMessage, map[string]any{"user_id": 42, "text": "hola"}, &out)
	if out.Reply != bot.InternalError {
		t.Errorf("reply = %q, want %q", out.Reply, bot.InternalError)
	}
}

func TestSendMessage_RejectsMissingFields(t *testing.T) {
	h := newHarness(t)

	for _, args := range []map[string]any{
		{"user_id": 0, "text": "hi"},
		{"user_id": 5, "text": " "},
	} {
		res := h.call(t, mcpserver.ToolSendMessage, args, nil)
		if !res.IsError {
			t.Errorf("args %v: expected tool error", args)
		}
	}
	if len(h.handler.got) != 0 {
		t.Errorf("handler called with %q", h.handler.got)
	}
}

func TestErrorHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, cat := range []string{"tense", "tense", "syntax"} {
		if _, err := h.users.IncrementErrorCount(ctx, 9, cat); err != nil {
			t.Fatalf("IncrementErrorCount: %v", err)
		}
	}

	var out mcpserver.ErrorHistoryOutput
	h.call(t, mcpserver.ToolErrorHistory, map[string]any{"user_id": 9}, &out)
	if out.Counts["tense"] != 2 || out.Counts["syntax"] != 1 {
		t.Errorf("counts = %v", out.Counts)
	}
	if out.Focus != "tense" {
		t.Errorf("focus = %q, want tense", out.Focus)
	}
}

func TestErrorHistory_Empty(t *testing.T) {
	h := newHarness(t)

	var out mcpserver.ErrorHistoryOutput
	h.call(t, mcpserver.ToolErrorHistory, map[string]any{"user_id": 10}, &out)
	if len(out.Counts) != 0 || out.Focus != "general" {
		t.Errorf("output = %+v", out)
	}
}

func TestLearnerProfile(t *testing.T) {
	h := newHarness(t)
	rec := learner.Record{ID: 3, TargetLanguage: "Spanish", NativeLanguage: "English", Context: "travel"}
	if err := h.users.UpdateUserMeta(context.Background(), rec); err != nil {
		t.Fatalf("UpdateUserMeta: %v", err)
	}

	var out mcpserver.LearnerProfileOutput
	h.call(t, mcpserver.ToolLearnerProfile, map[string]any{"user_id": 3}, &out)
	want := mcpserver.LearnerProfileOutput{TargetLanguage: "Spanish", NativeLanguage: "English", Context: "travel"}
	if out != want {
		t.Errorf("profile = %+v, want %+v", out, want)
	}
}

func TestToolMetrics(t *testing.T) {
	h := newHarness(t)
	h.call(t, mcpserver.ToolSendMessage, map[string]any{"user_id": 1, "text": "hi"}, nil)
	h.call(t, mcpserver.ToolSendMessage, map[string]any{"user_id": 0, "text": "hi"}, nil)

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	statuses := map[string]int64{}
	var sawDuration bool
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "lingobot.tool.calls":
				sum := m.Data.(metricdata.Sum[int64])
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value("status")
					statuses[v.AsString()] += dp.Value
				}
			case "lingobot.tool_execution.duration":
				sawDuration = true
			}
		}
	}
	if statuses["ok"] != 1 || statuses["error"] != 1 {
		t.Errorf("tool call statuses = %v", statuses)
	}
	if !sawDuration {
		t.Error("tool execution duration not recorded")
	}
}

func TestHandler_StreamableHTTP(t *testing.T) {
	users := learner.New(kv.NewMemory())
	srv := mcpserver.New(&stubHandler{reply: "ok"}, users, users)
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	ctx := context.Background()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "http-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: hs.URL}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      mcpserver.ToolSendMessage,
		Arguments: map[string]any{"user_id": 1, "text": "hi"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
}

