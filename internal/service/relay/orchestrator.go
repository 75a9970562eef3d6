// Package relay runs one conversational exchange per inbound message: it
// records the user turn, builds a budgeted prompt, asks the model, records the
// reply, and hands formatted chunks (plus optional speech) to the transport.
package relay

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"github.com/zhouzirui/chat-relay/internal/config"
	"github.com/zhouzirui/chat-relay/internal/model/chat"
	speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"
	"github.com/zhouzirui/chat-relay/internal/service/ai"
	chatservice "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/format"
	"github.com/zhouzirui/chat-relay/internal/service/prompt"
	"github.com/zhouzirui/chat-relay/internal/service/speech"
)

// State is a step of the per-exchange state machine.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingInput  State = "awaiting_input"
	StateBuildingPrompt State = "building_prompt"
	StateAwaitingModel  State = "awaiting_model"
	StateFormatting     State = "formatting"
	StateSynthesizing   State = "synthesizing"
)

// Observer is notified on every state transition of every exchange.
type Observer func(userID string, state State)

// User-facing texts.
const (
	DefaultGreeting   = "Hi! I'm a bot running on a local language model.\nJust send me a message!"
	NotRecognizedText = "Sorry, I couldn't make out that voice message. Please try again or type it."
	EmptyInputText    = "Your message was empty. Please type something."
	ModelFailureText  = "Error: the model did not respond."
	ResetText         = "History cleared. Let's start over!"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Sessions  *chatservice.Service
	Builder   *prompt.Builder
	Generator ai.Generator

	// Transcriber and Synthesizer are optional. A collaborator that reports
	// Enabled() == false is treated as absent.
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Voice       string

	Greeting       string
	MaxChunkLength int
	Chunking       format.ChunkOptions
	Timeouts       config.TimeoutConfig
	Observer       Observer
}

// Orchestrator is safe for concurrent use. Exchanges of the same user are
// serialized; different users proceed independently.
type Orchestrator struct {
	sessions    *chatservice.Service
	builder     *prompt.Builder
	generator   ai.Generator
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	voice       string
	greeting    string
	maxChunk    int
	chunking    format.ChunkOptions
	timeouts    config.TimeoutConfig
	observer    Observer
}

type enabler interface {
	Enabled() bool
}

// New validates cfg and builds an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("relay: session service is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("relay: generator is required")
	}

	builder := cfg.Builder
	if builder == nil {
		builder = prompt.NewBuilder(prompt.DefaultBudget, "", nil)
	}

	greeting := strings.TrimSpace(cfg.Greeting)
	if greeting == "" {
		greeting = DefaultGreeting
	}

	maxChunk := cfg.MaxChunkLength
	if maxChunk <= 0 {
		maxChunk = format.DefaultMaxChunkLength
	}

	o := &Orchestrator{
		sessions:  cfg.Sessions,
		builder:   builder,
		generator: cfg.Generator,
		voice:     cfg.Voice,
		greeting:  greeting,
		maxChunk:  maxChunk,
		chunking:  cfg.Chunking,
		timeouts:  cfg.Timeouts,
		observer:  cfg.Observer,
	}
	if cfg.Transcriber != nil && enabled(cfg.Transcriber) {
		o.transcriber = cfg.Transcriber
	}
	if cfg.Synthesizer != nil && enabled(cfg.Synthesizer) {
		o.synthesizer = cfg.Synthesizer
	}
	return o, nil
}

func enabled(v any) bool {
	if e, ok := v.(enabler); ok {
		return e.Enabled()
	}
	return true
}

// Greeting returns the /start text.
func (o *Orchestrator) Greeting() string {
	return o.greeting
}

// SpeechInput reports whether voice notes can be transcribed.
func (o *Orchestrator) SpeechInput() bool {
	return o.transcriber != nil
}

// Reset clears the user's history and returns the confirmation message.
func (o *Orchestrator) Reset(userID string) Outbound {
	unlock := o.sessions.Lock(userID)
	defer unlock()

	o.sessions.Reset(userID)
	log.Printf("[relay] history cleared for user=%s", userID)
	return textMessage(ResetText, ParseModePlain)
}

// History exposes the user's turns for read-only transports.
func (o *Orchestrator) History(userID string) []chat.Turn {
	return o.sessions.History(userID)
}

// Handle runs one exchange and collects everything it emits.
func (o *Orchestrator) Handle(ctx context.Context, userID string, in Input) Result {
	var result Result
	result.Err = o.HandleStream(ctx, userID, in, func(msg Outbound) error {
		result.Messages = append(result.Messages, msg)
		return nil
	})
	return result
}

// HandleStream runs one exchange and passes each outbound message to sink as
// soon as it exists. Text chunks are always delivered before synthesis starts.
// The returned error is an *InputError, an *InferenceError, or whatever sink
// returned; synthesis failures are never returned. The user's lock is held
// from transcription to the last outbound message.
func (o *Orchestrator) HandleStream(ctx context.Context, userID string, in Input, sink Sink) error {
	if strings.TrimSpace(userID) == "" {
		return chatservice.ErrUserRequired
	}

	o.observe(userID, StateAwaitingInput)
	defer o.observe(userID, StateIdle)

	unlock := o.sessions.Lock(userID)
	defer unlock()

	text, err := o.resolveText(ctx, in)
	if err != nil {
		inputErr := &InputError{Err: err}
		log.Printf("[relay] user=%s %v", userID, inputErr)
		notice := NotRecognizedText
		if errors.Is(err, ErrEmptyInput) {
			notice = EmptyInputText
		}
		if sinkErr := sink(textMessage(notice, ParseModePlain)); sinkErr != nil {
			return errors.Join(inputErr, sinkErr)
		}
		return inputErr
	}

	o.observe(userID, StateBuildingPrompt)
	if _, err := o.sessions.Append(userID, chat.RoleUser, text); err != nil {
		return err
	}
	plan := o.builder.Plan(o.sessions.History(userID))
	if plan.PersonaOverBudget {
		log.Printf("[relay] persona alone exceeds the prompt budget (%d > %d words)", plan.PersonaWords, o.builder.Budget())
	}
	if plan.Dropped > 0 {
		log.Printf("[relay] user=%s prompt dropped %d older turns (words=%d budget=%d)", userID, plan.Dropped, plan.Words, o.builder.Budget())
	}

	o.observe(userID, StateAwaitingModel)
	reply, err := o.generate(ctx, plan.String())
	if err != nil {
		inferenceErr := &InferenceError{Err: err}
		log.Printf("[relay] user=%s %v", userID, inferenceErr)
		if sinkErr := sink(textMessage(failureText(err), ParseModeHTML)); sinkErr != nil {
			return errors.Join(inferenceErr, sinkErr)
		}
		return inferenceErr
	}

	o.observe(userID, StateFormatting)
	if _, err := o.sessions.Append(userID, chat.RoleAssistant, reply); err != nil {
		return err
	}
	chunks, plain := format.FormatWith(reply, o.maxChunk, o.chunking)
	for _, chunk := range chunks {
		if err := sink(textMessage(chunk.Text, ParseModeHTML)); err != nil {
			return fmt.Errorf("deliver reply chunk: %w", err)
		}
	}

	if o.synthesizer == nil {
		log.Printf("[relay] user=%s exchange completed: chunks=%d audio=false", userID, len(chunks))
		return nil
	}

	o.observe(userID, StateSynthesizing)
	audio, err := o.synthesize(ctx, plain)
	if err != nil {
		log.Printf("[relay] user=%s %v", userID, &SynthesisError{Err: err})
		log.Printf("[relay] user=%s exchange completed: chunks=%d audio=false", userID, len(chunks))
		return nil
	}
	if err := sink(Outbound{Kind: KindAudio, Audio: audio}); err != nil {
		return fmt.Errorf("deliver reply audio: %w", err)
	}
	log.Printf("[relay] user=%s exchange completed: chunks=%d audio=true", userID, len(chunks))
	return nil
}

func (o *Orchestrator) resolveText(ctx context.Context, in Input) (string, error) {
	if !in.IsAudio() {
		if strings.TrimSpace(in.Text) == "" {
			return "", ErrEmptyInput
		}
		return in.Text, nil
	}

	if o.transcriber == nil {
		return "", ErrSpeechUnavailable
	}

	ctx, cancel := withTimeout(ctx, o.timeouts.Transcription)
	defer cancel()

	started := time.Now()
	text, err := o.transcriber.Transcribe(ctx, in.Audio, in.Format)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNotRecognized
	}
	log.Printf("[relay] transcribed %d bytes of %s in %s", len(in.Audio), in.Format, time.Since(started).Round(time.Millisecond))
	return text, nil
}

func (o *Orchestrator) generate(ctx context.Context, promptText string) (string, error) {
	ctx, cancel := withTimeout(ctx, o.timeouts.Inference)
	defer cancel()

	reply, err := o.generator.Generate(ctx, promptText)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ai.ErrEmptyCompletion
	}
	return reply, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) (*speechmodel.Audio, error) {
	ctx, cancel := withTimeout(ctx, o.timeouts.Synthesis)
	defer cancel()

	audio, err := o.synthesizer.Synthesize(ctx, text, o.voice)
	if err != nil {
		return nil, err
	}
	if audio.Empty() {
		return nil, errors.New("synthesizer returned no audio")
	}
	return audio, nil
}

func (o *Orchestrator) observe(userID string, state State) {
	if o.observer != nil {
		o.observer(userID, state)
	}
}

// failureText is the user-visible inference failure with an escaped diagnostic.
func failureText(err error) string {
	return ModelFailureText + "\n<code>" + html.EscapeString(err.Error()) + "</code>"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
