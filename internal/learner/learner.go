// Package learner persists per-user preferences and recurring-error tallies
// on top of a [kv.Store].
//
// Records live at "user:meta:{id}" as JSON; tallies live in the hash
// "user:errors:{id}" with one integer field per error category.
package learner

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/MrWong99/lingobot/internal/kv"
)

// DefaultNativeLanguage is the native language assigned to new users when no
// other default is configured.
const DefaultNativeLanguage = "Portuguese (Brazilian)"

// Record holds a user's language preferences.
type Record struct {
	ID             int64  `json:"id"`
	TargetLanguage string `json:"targetLanguage"`
	NativeLanguage string `json:"nativeLanguage"`
	Context        string `json:"context,omitempty"`
}

// RecordStore reads and writes user records.
type RecordStore interface {
	// GetUser returns the record for id, creating and persisting a default
	// record when none exists.
	GetUser(ctx context.Context, id int64) (Record, error)

	// UpdateUserMeta overwrites the stored record for rec.ID.
	UpdateUserMeta(ctx context.Context, rec Record) error
}

// TallyStore counts recurring error categories per user.
type TallyStore interface {
	// IncrementErrorCount adds one to the category and returns the new count.
	IncrementErrorCount(ctx context.Context, id int64, category string) (int64, error)

	// GetErrorHistory returns every recorded category with its count.
	GetErrorHistory(ctx context.Context, id int64) (map[string]int64, error)

	// ResetErrorCount sets the category count to zero. The category stays in
	// the history.
	ResetErrorCount(ctx context.Context, id int64, category string) error
}

// Compile-time interface checks.
var (
	_ RecordStore = (*Store)(nil)
	_ TallyStore  = (*Store)(nil)
)

// Store implements [RecordStore] and [TallyStore] over a [kv.Store].
type Store struct {
	kv             kv.Store
	nativeLanguage string
}

// Option configures a [Store].
type Option func(*Store)

// WithDefaultNativeLanguage sets the native language given to new users.
// An empty value keeps [DefaultNativeLanguage].
func WithDefaultNativeLanguage(lang string) Option {
	return func(s *Store) {
		if lang != "" {
			s.nativeLanguage = lang
		}
	}
}

// New returns a Store backed by store.
func New(store kv.Store, opts ...Option) *Store {
	s := &Store{kv: store, nativeLanguage: DefaultNativeLanguage}
	for _, o := range opts {
		o(s)
	}
	return s
}

func metaKey(id int64) string   { return "user:meta:" + strconv.FormatInt(id, 10) }
func errorsKey(id int64) string { return "user:errors:" + strconv.FormatInt(id, 10) }

// GetUser implements [RecordStore]. Fields missing from a stored record keep
// their default values. A stored record that is not valid JSON is an error.
func (s *Store) GetUser(ctx context.Context, id int64) (Record, error) {
	rec := Record{ID: id, NativeLanguage: s.nativeLanguage}

	raw, ok, err := s.kv.Get(ctx, metaKey(id))
	if err != nil {
		return Record{}, fmt.Errorf("learner: get user %d: %w", id, err)
	}
	if !ok {
		if err := s.UpdateUserMeta(ctx, rec); err != nil {
			return Record{}, err
		}
		return rec, nil
	}

	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("learner: decode user %d: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

// UpdateUserMeta implements [RecordStore].
func (s *Store) UpdateUserMeta(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("learner: encode user %d: %w", rec.ID, err)
	}
	if err := s.kv.Set(ctx, metaKey(rec.ID), string(data), 0); err != nil {
		return fmt.Errorf("learner: update user %d: %w", rec.ID, err)
	}
	return nil
}

// IncrementErrorCount implements [TallyStore].
func (s *Store) IncrementErrorCount(ctx context.Context, id int64, category string) (int64, error) {
	n, err := s.kv.HIncrBy(ctx, errorsKey(id), category, 1)
	if err != nil {
		return 0, fmt.Errorf("learner: increment %s for user %d: %w", category, id, err)
	}
	return n, nil
}

// GetErrorHistory implements [TallyStore]. Values that do not parse as
// integers are reported as zero.
func (s *Store) GetErrorHistory(ctx context.Context, id int64) (map[string]int64, error) {
	raw, err := s.kv.HGetAll(ctx, errorsKey(id))
	if err != nil {
		return nil, fmt.Errorf("learner: error history for user %d: %w", id, err)
	}
	out := make(map[string]int64, len(raw))
	for cat, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			n = 0
		}
		out[cat] = n
	}
	return out, nil
}

// ResetErrorCount implements [TallyStore].
func (s *Store) ResetErrorCount(ctx context.Context, id int64, category string) error {
	if err := s.kv.HSet(ctx, errorsKey(id), category, "0"); err != nil {
		return fmt.Errorf("learner: reset %s for user %d: %w", category, id, err)
	}
	return nil
}
