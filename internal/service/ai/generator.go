// Package ai adapts language model backends to the relay's single-prompt
// completion contract.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/chat-relay/internal/config"
)

var (
	// ErrEmptyCompletion is returned when the model answers with no text.
	ErrEmptyCompletion = errors.New("model returned an empty completion")
	// ErrMalformedResponse is returned when the backend response has no completion field.
	ErrMalformedResponse = errors.New("malformed model response")
)

// Generator turns a fully assembled prompt into a completion.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StatusError reports a non-2xx answer from an HTTP backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model backend returned status %d: %s", e.Code, e.Body)
}

// NewGenerator builds the generator selected by cfg.Provider.
func NewGenerator(ctx context.Context, cfg config.InferenceConfig) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderArk:
		chatModel, err := cfg.NewChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return NewChatModelGenerator(ctx, chatModel)
	case config.ProviderOllama, "":
		return NewOllamaClient(cfg.OllamaURL, cfg.Model, OptionsFromConfig(cfg), nil), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}
