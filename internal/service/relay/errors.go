package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRecognized marks a voice note whose transcript came back empty.
	ErrNotRecognized = errors.New("speech not recognized")
	// ErrEmptyInput marks a text message with nothing but whitespace.
	ErrEmptyInput = errors.New("empty input")
	// ErrSpeechUnavailable marks audio input while no transcriber is enabled.
	ErrSpeechUnavailable = errors.New("speech recognition is not configured")
)

// InputError aborts an exchange before history is touched.
type InputError struct {
	Err error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("input rejected: %v", e.Err)
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// InferenceError reports a failed or timed out model call. The user turn is
// already in history when it happens.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// SynthesisError is logged and dropped; the exchange still succeeds.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
