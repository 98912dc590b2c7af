// Package mcpserver exposes lingobot as a Model Context Protocol tool server.
// Agents can hold a practice conversation through send_message and inspect a
// learner's recurring mistakes through error_history and learner_profile.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lingobot/internal/bot"
	"github.com/MrWong99/lingobot/internal/learner"
	"github.com/MrWong99/lingobot/internal/observe"
)

// Tool names.
const (
	ToolSendMessage    = "send_message"
	ToolErrorHistory   = "error_history"
	ToolLearnerProfile = "learner_profile"
)

// SendMessageInput is the argument of send_message.
type SendMessageInput struct {
	UserID int64  `json:"user_id" jsonschema:"numeric id of the learner"`
	Text   string `json:"text" jsonschema:"message or /command exactly as the learner typed it"`
}

// SendMessageOutput is the result of send_message.
type SendMessageOutput struct {
	Reply string `json:"reply"`
}

// UserInput identifies a learner.
type UserInput struct {
	UserID int64 `json:"user_id" jsonschema:"numeric id of the learner"`
}

// ErrorHistoryOutput is the result of error_history.
type ErrorHistoryOutput struct {
	Counts map[string]int64 `json:"counts"`
	// Focus is the category the next practice exercise would target.
	Focus string `json:"focus"`
}

// LearnerProfileOutput is the result of learner_profile.
type LearnerProfileOutput struct {
	TargetLanguage string `json:"target_language"`
	NativeLanguage string `json:"native_language"`
	Context        string `json:"context"`
}

var errMissingUser = errors.New("user_id is required")

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithVersion sets the implementation version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the MCP tool server.
type Server struct {
	handler bot.Handler
	users   learner.RecordStore
	tally   learner.TallyStore
	version string
	metrics *observe.Metrics
	mcp     *mcpsdk.Server
}

// New creates a Server and registers its tools.
func New(handler bot.Handler, users learner.RecordStore, tally learner.TallyStore, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		users:   users,
		tally:   tally,
		version: "dev",
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.mcp = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "lingobot", Version: s.version}, nil)
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolSendMessage,
		Description: "Send a learner message or command to the tutor and return its reply. Free text is corrected; /start, /language, /progress, /practice and /context behave as in chat.",
	}, instrument(s, ToolSendMessage, s.sendMessage))
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolErrorHistory,
		Description: "Return how often the learner made each kind of mistake and which one practice would focus on.",
	}, instrument(s, ToolErrorHistory, s.errorHistory))
	mcpsdk.AddTool(s.mcp, &mcpsdk.Tool{
		Name:        ToolLearnerProfile,
		Description: "Return the learner's target language, native language and conversation topic.",
	}, instrument(s, ToolLearnerProfile, s.learnerProfile))
	return s
}

// MCP returns the underlying SDK server, e.g. for in-process transports.
func (s *Server) MCP() *mcpsdk.Server {
	return s.mcp
}

// Handler returns an [http.Handler] speaking the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.mcp }, nil)
}

// instrument wraps a tool handler with a span, the tool call counter and the
// execution latency histogram.
func instrument[In, Out any](s *Server, name string, fn func(context.Context, In) (Out, error)) mcpsdk.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in In) (*mcpsdk.CallToolResult, Out, error) {
		start := time.Now()
		ctx, span := observe.StartSpan(ctx, "mcp.tool."+name)
		defer span.End()

		out, err := fn(ctx, in)
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			observe.Logger(ctx).Warn("mcpserver: tool failed", "tool", name, "err", err)
		}
		s.metrics.RecordToolCall(ctx, name, status)
		s.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("tool", name)))
		return nil, out, err
	}
}

func (s *Server) sendMessage(ctx context.Context, in SendMessageInput) (SendMessageOutput, error) {
	if in.UserID == 0 {
		return SendMessageOutput{}, errMissingUser
	}
	if strings.TrimSpace(in.Text) == "" {
		return SendMessageOutput{}, errors.New("text is required")
	}
	return SendMessageOutput{Reply: bot.Reply(ctx, s.handler, in.UserID, in.Text)}, nil
}

func (s *Server) errorHistory(ctx context.Context, in UserInput) (ErrorHistoryOutput, error) {
	if in.UserID == 0 {
		return ErrorHistoryOutput{}, errMissingUser
	}
	counts, err := s.tally.GetErrorHistory(ctx, in.UserID)
	if err != nil {
		return ErrorHistoryOutput{}, fmt.Errorf("mcpserver: %w", err)
	}
	return ErrorHistoryOutput{Counts: counts, Focus: bot.FocusCategory(counts)}, nil
}

func (s *Server) learnerProfile(ctx context.Context, in UserInput) (LearnerProfileOutput, error) {
	if in.UserID == 0 {
		return LearnerProfileOutput{}, errMissingUser
	}
	rec, err := s.users.GetUser(ctx, in.UserID)
	if err != nil {
		return LearnerProfileOutput{}, fmt.Errorf("mcpserver: %w", err)
	}
	return LearnerProfileOutput{
		TargetLanguage: rec.TargetLanguage,
		NativeLanguage: rec.NativeLanguage,
		Context:        rec.Context,
	}, nil
}
