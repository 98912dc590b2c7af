// Package bot routes inbound learner messages. Slash commands are answered
// directly from the learner stores and the exercise generator; free text is
// handed to the correction pipeline. Every path returns the reply text and
// leaves delivery to the transport.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/lingobot/internal/learner"
	"github.com/MrWong99/lingobot/internal/observe"
	"github.com/MrWong99/lingobot/internal/tutor"
)

// User-visible replies.
const (
	LanguageRequired    = "Please set your target language first using the /language command (e.g., /language Spanish)."
	NoMistakes          = "You haven't made any recorded mistakes yet. Keep practicing!"
	PracticeUnavailable = "I couldn't generate an exercise for you right now. Please try again later."
	NoContext           = "No context is currently set. Use /context [topic] to set one."
	LanguageNotSet      = "You have not set a target language yet. Use /language [language] to set a new one."

	// InternalError replaces any error a transport gets back from
	// [Router.Handle].
	InternalError = "Something went wrong on my side. Please try again in a moment."
)

// suggestThreshold is the minimum Jaro-Winkler similarity for a
// "Did you mean" hint.
const suggestThreshold = 0.8

// MessageHandler corrects free-text messages. Implemented by
// [pipeline.Pipeline].
type MessageHandler interface {
	ProcessMessage(ctx context.Context, userID int64, text string) (string, error)
}

// Handler answers one inbound message. Implemented by [Router]; transports
// depend on this interface.
type Handler interface {
	Handle(ctx context.Context, userID int64, text string) (string, error)
}

var _ Handler = (*Router)(nil)

// Reply calls h and turns an error into [InternalError] after logging it, so
// transports never show raw errors to users.
func Reply(ctx context.Context, h Handler, userID int64, text string) string {
	ctx = observe.WithLearner(ctx, userID)
	reply, err := h.Handle(ctx, userID, text)
	if err != nil {
		observe.Logger(ctx).Error("bot: handle message", "err", err)
		return InternalError
	}
	return reply
}

// Option is a functional option for configuring a [Router].
type Option func(*Router)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router dispatches inbound text. It is stateless and safe for concurrent use.
type Router struct {
	users    learner.RecordStore
	tally    learner.TallyStore
	messages MessageHandler
	practice tutor.ExerciseGenerator
	metrics  *observe.Metrics
}

// NewRouter creates a Router.
func NewRouter(users learner.RecordStore, tally learner.TallyStore, messages MessageHandler, practice tutor.ExerciseGenerator, opts ...Option) *Router {
	r := &Router{
		users:    users,
		tally:    tally,
		messages: messages,
		practice: practice,
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Handle answers text sent by userID. Store failures are returned as
// errors; the transport decides what the user sees instead.
func (r *Router) Handle(ctx context.Context, userID int64, text string) (string, error) {
	cmd := Parse(text)
	ctx, span := observe.StartSpan(observe.WithLearner(ctx, userID), "bot.Handle")
	defer span.End()
	r.metrics.RecordCommand(ctx, cmd.Kind.String())

	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("bot: %w", err)
	}

	switch cmd.Kind {
	case KindStart:
		return welcome(user), nil
	case KindLanguage:
		return r.language(ctx, user, cmd)
	}

	if user.TargetLanguage == "" {
		return LanguageRequired, nil
	}

	switch cmd.Kind {
	case KindProgress:
		return r.progress(ctx, userID)
	case KindPractice:
		return r.exercise(ctx, user)
	case KindContext:
		return r.topic(ctx, user, cmd)
	case KindUnknown:
		return unknown(cmd.Name), nil
	default:
		observe.Logger(ctx).Debug("bot: routing message to pipeline")
		return r.messages.ProcessMessage(ctx, userID, text)
	}
}

func welcome(user learner.Record) string {
	var b strings.Builder
	b.WriteString("Welcome, language learner! I'm here to help you practice.\n")
	if user.TargetLanguage != "" {
		fmt.Fprintf(&b, "Your current target language is %s.\n", user.TargetLanguage)
	} else {
		b.WriteString("Please start by setting your target language with the /language command (e.g., /language Spanish).\n")
	}
	b.WriteString("- Send me a message and I'll correct it.\n")
	b.WriteString("- Use /language [language] to change the language you are learning.\n")
	b.WriteString("- Use /progress to see your error history.\n")
	b.WriteString("- Use /practice to get an exercise.\n")
	b.WriteString("- Use /context [topic] to set a conversation topic (e.g., /context travel).")
	return b.String()
}

func (r *Router) language(ctx context.Context, user learner.Record, cmd Command) (string, error) {
	if len(cmd.Args) == 0 {
		if user.TargetLanguage == "" {
			return LanguageNotSet, nil
		}
		return fmt.Sprintf("Your current target language is: \"%s\". Use /language [language] to set a new one.", user.TargetLanguage), nil
	}
	user.TargetLanguage = cmd.Arg()
	if err := r.users.UpdateUserMeta(ctx, user); err != nil {
		return "", fmt.Errorf("bot: set language: %w", err)
	}
	return fmt.Sprintf("Target language set to: \"%s\"", user.TargetLanguage), nil
}

type tally struct {
	category string
	count    int64
}

// sortedTally returns the categories with a positive count, highest count
// first and ties in name order.
func sortedTally(history map[string]int64) []tally {
	out := make([]tally, 0, len(history))
	for k, v := range history {
		if v > 0 {
			out = append(out, tally{k, v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].category < out[j].category
	})
	return out
}

func (r *Router) progress(ctx context.Context, userID int64) (string, error) {
	history, err := r.tally.GetErrorHistory(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("bot: progress: %w", err)
	}
	entries := sortedTally(history)
	if len(entries) == 0 {
		return NoMistakes, nil
	}
	var b strings.Builder
	b.WriteString("Here's your progress report:")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n- %s: %d time(s)", e.category, e.count)
	}
	return b.String(), nil
}

// FocusCategory picks the category a practice exercise should target: the
// highest count, ties broken by the smallest name. Categories reset to zero
// still take part, so only an empty history falls back to general.
func FocusCategory(history map[string]int64) string {
	focus, best := "", int64(0)
	for category, n := range history {
		if focus == "" || n > best || (n == best && category < focus) {
			focus, best = category, n
		}
	}
	if focus == "" {
		return tutor.GeneralPractice
	}
	return focus
}

func (r *Router) exercise(ctx context.Context, user learner.Record) (string, error) {
	history, err := r.tally.GetErrorHistory(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("bot: practice: %w", err)
	}
	category := FocusCategory(history)
	log := observe.Logger(ctx)
	log.Debug("bot: generating practice", "error_type", category)

	ex, err := r.practice.Practice(ctx, tutor.PracticeRequest{
		TargetLanguage: user.TargetLanguage,
		NativeLanguage: user.NativeLanguage,
		ErrorType:      category,
	})
	if err != nil || ex == nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		log.Warn("bot: practice generation failed", "err", err)
		return PracticeUnavailable, nil
	}

	if ex.IsTranslation() {
		return fmt.Sprintf("Let's practice! Try translating this to %s:\n\n\"%s\"", user.TargetLanguage, ex.Sentence), nil
	}
	return fmt.Sprintf("Let's practice! (%s)\n\n\"%s\"", ex.TypeLabel(), ex.Sentence), nil
}

func (r *Router) topic(ctx context.Context, user learner.Record, cmd Command) (string, error) {
	if len(cmd.Args) == 0 {
		if user.Context == "" {
			return NoContext, nil
		}
		return fmt.Sprintf("Current context is: \"%s\"", user.Context), nil
	}
	user.Context = cmd.Arg()
	if err := r.users.UpdateUserMeta(ctx, user); err != nil {
		return "", fmt.Errorf("bot: set context: %w", err)
	}
	return fmt.Sprintf("Context set to: \"%s\"", user.Context), nil
}

func unknown(name string) string {
	msg := fmt.Sprintf("Unknown command: \"%s\". Try /start to see what I can do.", name)
	if s := suggest(name); s != "" {
		msg += fmt.Sprintf(" Did you mean /%s?", s)
	}
	return msg
}

// suggest returns the known command closest to name, or "" when none is
// similar enough.
func suggest(name string) string {
	token := strings.TrimPrefix(name, "/")
	if token == "" {
		return ""
	}
	best, bestScore := "", 0.0
	for _, c := range commands {
		if score := matchr.JaroWinkler(token, c.info.Name, false); score > bestScore {
			best, bestScore = c.info.Name, score
		}
	}
	if bestScore < suggestThreshold {
		return ""
	}
	return best
}
