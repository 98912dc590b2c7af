// Package pipeline implements the correction pipeline at the heart of
// lingobot.
//
// For every free-text learner message [Pipeline.ProcessMessage]:
//
//  1. loads the learner record,
//  2. looks the normalised text up in the correction cache,
//  3. asks the [tutor.Corrector] on a miss,
//  4. tallies a non-empty error category and fires a reinforcement reminder
//     once a category reaches the threshold,
//  5. caches fresh corrections,
//  6. renders the reply text.
//
// The cache is global across users. Corrector failures become a fixed apology;
// store failures are returned as errors and never hidden.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/lingobot/internal/kv"
	"github.com/MrWong99/lingobot/internal/learner"
	"github.com/MrWong99/lingobot/internal/observe"
	"github.com/MrWong99/lingobot/internal/tutor"
)

const (
	// CacheKeyPrefix namespaces correction cache entries in the store.
	CacheKeyPrefix = "correction:"

	// DefaultReinforcementThreshold is the tally at which a reminder fires.
	DefaultReinforcementThreshold = 3

	// DefaultCacheTTL is how long a correction stays cached.
	DefaultCacheTTL = time.Hour

	// Apology is returned when the corrector yields no usable result.
	Apology = "I'm sorry, I couldn't process your message at the moment."
)

// CacheKey returns the cache key for text: the prefix followed by the trimmed,
// lower-cased text.
func CacheKey(text string) string {
	return CacheKeyPrefix + strings.ToLower(strings.TrimSpace(text))
}

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithReinforcementThreshold sets the tally at which a reminder fires.
// Values below 1 are ignored. Default: 3.
func WithReinforcementThreshold(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.threshold = int64(n)
		}
	}
}

// WithCacheTTL sets the correction cache expiry. Non-positive values are
// ignored. Default: 1h.
func WithCacheTTL(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.cacheTTL = d
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline corrects learner messages. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	cache     kv.Store
	users     learner.RecordStore
	tally     learner.TallyStore
	corrector tutor.Corrector

	threshold int64
	cacheTTL  time.Duration
	metrics   *observe.Metrics
}

// New constructs a Pipeline. cache holds correction entries; users and tally
// are usually the same [learner.Store].
func New(cache kv.Store, users learner.RecordStore, tally learner.TallyStore, corrector tutor.Corrector, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:     cache,
		users:     users,
		tally:     tally,
		corrector: corrector,
		threshold: DefaultReinforcementThreshold,
		cacheTTL:  DefaultCacheTTL,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// ProcessMessage runs text from userID through the pipeline and returns the
// reply to send. A corrector failure yields [Apology] with a nil error; any
// store failure is returned.
func (p *Pipeline) ProcessMessage(ctx context.Context, userID int64, text string) (reply string, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(observe.WithLearner(ctx, userID), "pipeline.ProcessMessage")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}()
	log := observe.Logger(ctx)

	user, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("pipeline: %w", err)
	}

	key := CacheKey(text)
	correction, hit, err := p.lookup(ctx, log, key)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Bool("cache.hit", hit))

	if !hit {
		correction, err = p.corrector.Correct(ctx, tutor.CorrectionRequest{
			Text:           text,
			TargetLanguage: user.TargetLanguage,
			NativeLanguage: user.NativeLanguage,
			Context:        user.Context,
		})
		if err != nil || correction == nil {
			if errors.Is(err, context.Canceled) {
				return "", err
			}
			log.Warn("pipeline: corrector failed", "err", err)
			return Apology, nil
		}
	}

	p.metrics.RecordCorrection(ctx, string(correction.ErrorType))
	span.SetAttributes(attribute.String("error_type", string(correction.ErrorType)))

	reinforce := false
	if !correction.ErrorType.IsNone() {
		reinforce, err = p.logError(ctx, log, userID, correction.ErrorType)
		if err != nil {
			return "", err
		}
	}

	if !hit {
		if err := p.store(ctx, key, correction); err != nil {
			return "", err
		}
	}

	return Format(*correction, reinforce), nil
}

// lookup reads the cache. A payload that does not decode is logged and
// reported as a miss so the next write replaces it.
func (p *Pipeline) lookup(ctx context.Context, log *slog.Logger, key string) (*tutor.Correction, bool, error) {
	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("pipeline: cache get: %w", err)
	}
	if !ok {
		p.metrics.RecordCacheLookup(ctx, observe.CacheMiss)
		log.Debug("pipeline: cache miss", "cache", key)
		return nil, false, nil
	}

	var c tutor.Correction
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		p.metrics.RecordCacheLookup(ctx, observe.CacheCorrupt)
		log.Warn("pipeline: corrupt cache entry, treating as miss", "cache", key, "err", err)
		return nil, false, nil
	}
	p.metrics.RecordCacheLookup(ctx, observe.CacheHit)
	log.Debug("pipeline: cache hit", "cache", key)
	return &c, true, nil
}

// logError tallies errorType and reports whether a reminder is due. A due
// reminder resets the tally for that category.
func (p *Pipeline) logError(ctx context.Context, log *slog.Logger, userID int64, errorType tutor.ErrorType) (bool, error) {
	n, err := p.tally.IncrementErrorCount(ctx, userID, string(errorType))
	if err != nil {
		return false, fmt.Errorf("pipeline: %w", err)
	}
	log.Debug("pipeline: error logged", "error_type", string(errorType), "count", n)
	if n < p.threshold {
		return false, nil
	}

	if err := p.tally.ResetErrorCount(ctx, userID, string(errorType)); err != nil {
		return false, fmt.Errorf("pipeline: %w", err)
	}
	p.metrics.RecordReinforcement(ctx, string(errorType))
	log.Info("pipeline: reinforcement triggered", "error_type", string(errorType))
	return true, nil
}

func (p *Pipeline) store(ctx context.Context, key string, c *tutor.Correction) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("pipeline: encode correction: %w", err)
	}
	if err := p.cache.Set(ctx, key, string(data), p.cacheTTL); err != nil {
		return fmt.Errorf("pipeline: cache set: %w", err)
	}
	return nil
}
