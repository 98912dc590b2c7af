// Package tutor defines the correction and practice-exercise value types and
// the contracts of the AI collaborators that produce them.
//
// Implementations backed by an [llm.Provider] live in the llmtutor
// subpackage; call-recording test doubles live in mock.
//
// [llm.Provider]: github.com/MrWong99/lingobot/pkg/provider/llm.Provider
package tutor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ErrorType classifies the mistake found in a learner's message.
type ErrorType string

// The closed set of error categories. ErrorNone marks a message that needed
// no correction.
const (
	ErrorNone        ErrorType = ""
	ErrorTense       ErrorType = "tense"
	ErrorPreposition ErrorType = "preposition"
	ErrorGrammar     ErrorType = "grammar"
	ErrorWordChoice  ErrorType = "word_choice"
	ErrorSyntax      ErrorType = "syntax"
)

// ErrorTypes lists every category except [ErrorNone].
var ErrorTypes = []ErrorType{ErrorTense, ErrorPreposition, ErrorGrammar, ErrorWordChoice, ErrorSyntax}

// ParseErrorType maps s onto the closed set. "", "null" and "none" yield
// ErrorNone. ok is false for anything else outside the set.
func ParseErrorType(s string) (t ErrorType, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "null", "none":
		return ErrorNone, true
	}
	for _, et := range ErrorTypes {
		if string(et) == s {
			return et, true
		}
	}
	return ErrorType(s), false
}

// IsNone reports whether t is the no-error marker.
func (t ErrorType) IsNone() bool { return t == ErrorNone }

// Label returns t with underscores replaced by spaces, for display.
func (t ErrorType) Label() string { return strings.ReplaceAll(string(t), "_", " ") }

// MarshalJSON encodes ErrorNone as null so cached entries stay readable by
// older deployments.
func (t ErrorType) MarshalJSON() ([]byte, error) {
	if t.IsNone() {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

// UnmarshalJSON accepts null or a string. Values outside the closed set are
// kept verbatim; callers that need strictness use [ParseErrorType].
func (t *ErrorType) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = ErrorNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tutor: error type: %w", err)
	}
	parsed, _ := ParseErrorType(s)
	*t = parsed
	return nil
}

// Correction is the AI's verdict on one learner message.
type Correction struct {
	// Corrected is the corrected form of the input text.
	Corrected string `json:"corrected"`
	// Explanation is a short rationale. Empty when no error was found.
	Explanation string `json:"explanation"`
	// ErrorType is ErrorNone if and only if the input needed no correction.
	ErrorType ErrorType `json:"errorType"`
	// Reply is a conversational continuation in the target language.
	Reply string `json:"reply"`
}

// Exercise is a practice prompt generated for a learner.
type Exercise struct {
	Type          string `json:"type"`
	Sentence      string `json:"sentence"`
	CorrectAnswer string `json:"correct_answer"`
}

// IsTranslation reports whether the exercise should be presented as a
// translation prompt. Models sometimes return the same text as sentence and
// answer; such exercises only make sense as translations.
func (e Exercise) IsTranslation() bool { return e.Sentence == e.CorrectAnswer }

// TypeLabel returns the exercise type with underscores replaced by spaces.
func (e Exercise) TypeLabel() string { return strings.ReplaceAll(e.Type, "_", " ") }

// CorrectionRequest carries one learner message and the learner's settings.
type CorrectionRequest struct {
	Text           string
	TargetLanguage string
	NativeLanguage string
	// Context is an optional conversation topic. Empty means none.
	Context string
}

// PracticeRequest asks for an exercise targeting one error category.
type PracticeRequest struct {
	TargetLanguage string
	NativeLanguage string
	// ErrorType is a category name or "general".
	ErrorType string
}

// GeneralPractice is the category requested when a learner has no recorded
// mistakes.
const GeneralPractice = "general"

// Corrector produces a [Correction] for a learner message.
//
// A nil Correction with a nil error is treated by callers as "no usable
// result".
type Corrector interface {
	Correct(ctx context.Context, req CorrectionRequest) (*Correction, error)
}

// ExerciseGenerator produces practice exercises.
type ExerciseGenerator interface {
	Practice(ctx context.Context, req PracticeRequest) (*Exercise, error)
}
