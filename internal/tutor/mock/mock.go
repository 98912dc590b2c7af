// Package mock provides call-recording test doubles for the tutor
// collaborator interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingobot/internal/tutor"
)

// Compile-time interface checks.
var (
	_ tutor.Corrector         = (*Corrector)(nil)
	_ tutor.ExerciseGenerator = (*ExerciseGenerator)(nil)
)

// Corrector is a mock [tutor.Corrector]. It returns Result, Err for every
// call. All methods are safe for concurrent use.
type Corrector struct {
	mu sync.Mutex

	// Result is returned by Correct. May be nil.
	Result *tutor.Correction
	// Err, if non-nil, is returned as the error from Correct.
	Err error

	// Calls records every request passed to Correct in order.
	Calls []tutor.CorrectionRequest
}

// Correct records the request and returns a copy of Result, Err.
func (c *Corrector) Correct(_ context.Context, req tutor.CorrectionRequest) (*tutor.Correction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, req)
	if c.Result == nil {
		return nil, c.Err
	}
	out := *c.Result
	return &out, c.Err
}

// CallCount returns the number of recorded Correct calls.
func (c *Corrector) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// ExerciseGenerator is a mock [tutor.ExerciseGenerator].
type ExerciseGenerator struct {
	mu sync.Mutex

	// Result is returned by Practice. May be nil.
	Result *tutor.Exercise
	// Err, if non-nil, is returned as the error from Practice.
	Err error

	// Calls records every request passed to Practice in order.
	Calls []tutor.PracticeRequest
}

// Practice records the request and returns a copy of Result, Err.
func (g *ExerciseGenerator) Practice(_ context.Context, req tutor.PracticeRequest) (*tutor.Exercise, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, req)
	if g.Result == nil {
		return nil, g.Err
	}
	out := *g.Result
	return &out, g.Err
}

// CallCount returns the number of recorded Practice calls.
func (g *ExerciseGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}
