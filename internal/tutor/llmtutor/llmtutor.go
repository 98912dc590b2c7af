// Package llmtutor implements [tutor.Corrector] and [tutor.ExerciseGenerator]
// on top of an [llm.Provider].
//
// Both operations send a single system prompt asking for a JSON object and
// request JSON mode from the provider. Markdown code fences around the JSON
// are tolerated. Empty or undecodable responses are reported as errors so
// callers can fall back to a fixed apology.
package llmtutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/lingobot/internal/tutor"
	"github.com/MrWong99/lingobot/pkg/provider/llm"
)

const (
	defaultCorrectionTemperature = 0.3
	defaultPracticeTemperature   = 0.7
)

var (
	// ErrEmptyResponse is returned when the provider yields no content.
	ErrEmptyResponse = errors.New("llmtutor: empty response")

	// ErrMalformedResponse is returned when the content is not the expected
	// JSON object.
	ErrMalformedResponse = errors.New("llmtutor: malformed response")
)

// Compile-time interface checks.
var (
	_ tutor.Corrector         = (*Tutor)(nil)
	_ tutor.ExerciseGenerator = (*Tutor)(nil)
)

// Option is a functional option for configuring a [Tutor].
type Option func(*Tutor)

// WithCorrectionTemperature sets the sampling temperature for corrections.
// Default: 0.3.
func WithCorrectionTemperature(temp float64) Option {
	return func(t *Tutor) { t.correctionTemp = temp }
}

// WithPracticeTemperature sets the sampling temperature for exercises.
// Default: 0.7.
func WithPracticeTemperature(temp float64) Option {
	return func(t *Tutor) { t.practiceTemp = temp }
}

// WithMaxTokens caps the completion length of every request. Zero leaves the
// provider default.
func WithMaxTokens(n int) Option {
	return func(t *Tutor) { t.maxTokens = n }
}

// Tutor asks an [llm.Provider] for corrections and exercises. It is safe for
// concurrent use.
type Tutor struct {
	llm            llm.Provider
	correctionTemp float64
	practiceTemp   float64
	maxTokens      int
}

// New returns a Tutor backed by provider.
func New(provider llm.Provider, opts ...Option) *Tutor {
	t := &Tutor{
		llm:            provider,
		correctionTemp: defaultCorrectionTemperature,
		practiceTemp:   defaultPracticeTemperature,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Correct implements [tutor.Corrector]. Error categories outside the closed
// set are folded into grammar.
func (t *Tutor) Correct(ctx context.Context, req tutor.CorrectionRequest) (*tutor.Correction, error) {
	content, err := t.complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildCorrectionPrompt(req.TargetLanguage, req.NativeLanguage, req.Context),
		Messages:     []llm.Message{{Role: "user", Content: req.Text}},
		Temperature:  t.correctionTemp,
		MaxTokens:    t.maxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("llmtutor: correct: %w", err)
	}

	var c tutor.Correction
	if err := decode(content, &c); err != nil {
		return nil, fmt.Errorf("llmtutor: correct: %w", err)
	}
	// A JSON null or an object without a reply decodes cleanly but carries
	// no verdict.
	if strings.TrimSpace(c.Reply) == "" {
		return nil, fmt.Errorf("llmtutor: correct: %w: missing reply", ErrMalformedResponse)
	}
	if _, ok := tutor.ParseErrorType(string(c.ErrorType)); !ok {
		slog.WarnContext(ctx, "llmtutor: unknown error type from model, using grammar",
			"error_type", string(c.ErrorType))
		c.ErrorType = tutor.ErrorGrammar
	}
	if c.Corrected == "" {
		c.Corrected = req.Text
	}
	return &c, nil
}

// Practice implements [tutor.ExerciseGenerator].
func (t *Tutor) Practice(ctx context.Context, req tutor.PracticeRequest) (*tutor.Exercise, error) {
	category := req.ErrorType
	if category == "" {
		category = tutor.GeneralPractice
	}
	content, err := t.complete(ctx, llm.CompletionRequest{
		SystemPrompt: buildPracticePrompt(req.TargetLanguage, req.NativeLanguage, category),
		Messages:     []llm.Message{{Role: "user", Content: "Generate one exercise."}},
		Temperature:  t.practiceTemp,
		MaxTokens:    t.maxTokens,
		JSONMode:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("llmtutor: practice: %w", err)
	}

	var ex tutor.Exercise
	if err := decode(content, &ex); err != nil {
		return nil, fmt.Errorf("llmtutor: practice: %w", err)
	}
	if ex.Sentence == "" {
		return nil, fmt.Errorf("llmtutor: practice: %w: missing sentence", ErrMalformedResponse)
	}
	return &ex, nil
}

func (t *Tutor) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	resp, err := t.llm.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Content, nil
}

func decode(content string, v any) error {
	if err := json.Unmarshal([]byte(stripMarkdown(content)), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
