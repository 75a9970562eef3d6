package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/zhouzirui/chat-relay/internal/config"
	"github.com/zhouzirui/chat-relay/internal/model/chat"
	speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"
	"github.com/zhouzirui/chat-relay/internal/service/ai"
	chatservice "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/prompt"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   bool
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, promptText string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, promptText)
	reply, err, block := f.reply, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, err
}

func (f *fakeGenerator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type fakeTranscriber struct {
	text    string
	err     error
	enabled bool
	calls   int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

func (f *fakeTranscriber) Enabled() bool { return f.enabled }

type fakeSynthesizer struct {
	audio     *speechmodel.Audio
	err       error
	gotText   string
	gotVoice  string
	onCall    func()
	callCount int
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, text, voice string) (*speechmodel.Audio, error) {
	f.callCount++
	f.gotText, f.gotVoice = text, voice
	if f.onCall != nil {
		f.onCall()
	}
	return f.audio, f.err
}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *chatservice.Service) {
	t.Helper()
	if cfg.Sessions == nil {
		cfg.Sessions = chatservice.NewService()
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	return o, cfg.Sessions
}

func TestHandleTextExchange(t *testing.T) {
	gen := &fakeGenerator{reply: "  **Hi** there\n* one\n* two  "}
	o, sessions := newTestOrchestrator(t, Config{Generator: gen})

	result := o.Handle(context.Background(), "u1", TextInput("hi"))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}

	if got := gen.calls(); len(got) != 1 || got[0] != "User: hi\nAssistant: " {
		t.Fatalf("unexpected prompts: %q", got)
	}

	if len(result.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(result.Messages))
	}
	msg := result.Messages[0]
	if msg.Kind != KindText || msg.ParseMode != ParseModeHTML {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Text != "<b>Hi</b> there\n— one\n— two" {
		t.Fatalf("unexpected text %q", msg.Text)
	}

	history := sessions.History("u1")
	if len(history) != 2 {
		t.Fatalf("expected two turns, got %d", len(history))
	}
	if history[0].Role != chat.RoleUser || history[0].Content != "hi" {
		t.Fatalf("unexpected user turn: %+v", history[0])
	}
	if history[1].Role != chat.RoleAssistant || history[1].Content != "**Hi** there\n* one\n* two" {
		t.Fatalf("unexpected assistant turn: %+v", history[1])
	}
}

func TestHandleUsesPersonaAndHistory(t *testing.T) {
	gen := &fakeGenerator{reply: "fine"}
	o, _ := newTestOrchestrator(t, Config{
		Generator: gen,
		Builder:   prompt.NewBuilder(3000, "Be brief.", nil),
	})

	o.Handle(context.Background(), "u1", TextInput("hello"))
	o.Handle(context.Background(), "u1", TextInput("how are you"))

	calls := gen.calls()
	want := "System: Be brief.\nUser: hello\nAssistant: fine\nUser: how are you\nAssistant: "
	if len(calls) != 2 || calls[1] != want {
		t.Fatalf("second prompt = %q, want %q", calls[len(calls)-1], want)
	}
}

func TestEmptyTranscriptLeavesStoreUntouched(t *testing.T) {
	tests := []struct {
		name        string
		transcriber *fakeTranscriber
		wantErr     error
	}{
		{name: "empty transcript", transcriber: &fakeTranscriber{text: "   ", enabled: true}, wantErr: ErrNotRecognized},
		{name: "transcriber failure", transcriber: &fakeTranscriber{err: errors.New("asr down"), enabled: true}},
		{name: "speech disabled", transcriber: &fakeTranscriber{text: "hello", enabled: false}, wantErr: ErrSpeechUnavailable},
	}

	for _, tt := range tests {
		gen := &fakeGenerator{reply: "unused"}
		o, sessions := newTestOrchestrator(t, Config{Generator: gen, Transcriber: tt.transcriber})

		result := o.Handle(context.Background(), "u1", AudioInput([]byte("ogg"), "ogg"))

		var inputErr *InputError
		if !errors.As(result.Err, &inputErr) {
			t.Fatalf("%s: expected InputError, got %v", tt.name, result.Err)
		}
		if tt.wantErr != nil && !errors.Is(result.Err, tt.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.wantErr, result.Err)
		}
		if len(result.Messages) != 1 || result.Messages[0].Text != NotRecognizedText {
			t.Fatalf("%s: unexpected messages %+v", tt.name, result.Messages)
		}
		if stats := sessions.Stats(); stats.Sessions != 0 || stats.Turns != 0 {
			t.Fatalf("%s: store mutated: %+v", tt.name, stats)
		}
		if len(gen.calls()) != 0 {
			t.Fatalf("%s: generator should not be called", tt.name)
		}
	}
}

func TestAudioInputIsTranscribed(t *testing.T) {
	gen := &fakeGenerator{reply: "sure"}
	transcriber := &fakeTranscriber{text: " what time is it ", enabled: true}
	o, sessions := newTestOrchestrator(t, Config{Generator: gen, Transcriber: transcriber})

	result := o.Handle(context.Background(), "u1", AudioInput([]byte("ogg"), "ogg"))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if transcriber.calls != 1 {
		t.Fatalf("expected one transcription, got %d", transcriber.calls)
	}
	if history := sessions.History("u1"); history[0].Content != "what time is it" {
		t.Fatalf("unexpected user turn %q", history[0].Content)
	}
}

func TestEmptyTextIsRejected(t *testing.T) {
	o, sessions := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: "x"}})

	result := o.Handle(context.Background(), "u1", TextInput("  \n "))
	if !errors.Is(result.Err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", result.Err)
	}
	if len(result.Messages) != 1 || result.Messages[0].Text != EmptyInputText {
		t.Fatalf("unexpected messages %+v", result.Messages)
	}
	if sessions.Stats().Sessions != 0 {
		t.Fatal("expected no session to be created")
	}
}

func TestTypedTextIsStoredAsSent(t *testing.T) {
	o, sessions := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: "ok"}})

	raw := "  indented\nsecond line "
	if result := o.Handle(context.Background(), "u1", TextInput(raw)); result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if history := sessions.History("u1"); history[0].Content != raw {
		t.Fatalf("user turn = %q, want %q", history[0].Content, raw)
	}
}

type gatedTranscriber struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedTranscriber) Transcribe(ctx context.Context, _ []byte, _ string) (string, error) {
	close(g.started)
	select {
	case <-g.release:
		return "voice first", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestVoiceNoteIsNotOvertakenByLaterText(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	transcriber := &gatedTranscriber{started: make(chan struct{}), release: make(chan struct{})}
	o, sessions := newTestOrchestrator(t, Config{Generator: gen, Transcriber: transcriber})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.Handle(context.Background(), "u1", AudioInput([]byte("ogg"), "ogg"))
	}()
	<-transcriber.started

	go func() {
		defer wg.Done()
		o.Handle(context.Background(), "u1", TextInput("text second"))
	}()

	time.Sleep(50 * time.Millisecond)
	if len(sessions.History("u1")) != 0 || len(gen.calls()) != 0 {
		t.Fatal("text exchange ran while the voice note was being transcribed")
	}
	close(transcriber.release)
	wg.Wait()

	history := sessions.History("u1")
	if len(history) != 4 || history[0].Content != "voice first" || history[2].Content != "text second" {
		t.Fatalf("unexpected history order %+v", history)
	}
}

func TestInferenceFailureKeepsUserTurn(t *testing.T) {
	gen := &fakeGenerator{err: &ai.StatusError{Code: 500, Body: "<oops>"}}
	o, sessions := newTestOrchestrator(t, Config{Generator: gen})

	result := o.Handle(context.Background(), "u1", TextInput("first"))

	var inferenceErr *InferenceError
	if !errors.As(result.Err, &inferenceErr) {
		t.Fatalf("expected InferenceError, got %v", result.Err)
	}
	var statusErr *ai.StatusError
	if !errors.As(result.Err, &statusErr) || statusErr.Code != 500 {
		t.Fatalf("expected wrapped StatusError, got %v", result.Err)
	}

	if len(result.Messages) != 1 {
		t.Fatalf("expected one error message, got %d", len(result.Messages))
	}
	msg := result.Messages[0]
	if msg.ParseMode != ParseModeHTML || !strings.HasPrefix(msg.Text, ModelFailureText) {
		t.Fatalf("unexpected error message: %+v", msg)
	}
	if !strings.Contains(msg.Text, "<code>") || !strings.Contains(msg.Text, "&lt;oops&gt;") {
		t.Fatalf("expected escaped diagnostic detail, got %q", msg.Text)
	}

	history := sessions.History("u1")
	if len(history) != 1 || history[0].Role != chat.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", history)
	}

	// the failed turn is context for the next attempt
	gen.mu.Lock()
	gen.err, gen.reply = nil, "ok"
	gen.mu.Unlock()

	if result := o.Handle(context.Background(), "u1", TextInput("second")); result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	calls := gen.calls()
	if want := "User: first\nUser: second\nAssistant: "; calls[1] != want {
		t.Fatalf("retry prompt = %q, want %q", calls[1], want)
	}
}

func TestInferenceTimeout(t *testing.T) {
	gen := &fakeGenerator{block: true}
	o, sessions := newTestOrchestrator(t, Config{
		Generator: gen,
		Timeouts:  config.TimeoutConfig{Inference: 20 * time.Millisecond},
	})

	result := o.Handle(context.Background(), "u1", TextInput("hi"))
	if !errors.Is(result.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", result.Err)
	}
	var inferenceErr *InferenceError
	if !errors.As(result.Err, &inferenceErr) {
		t.Fatalf("expected InferenceError, got %T", result.Err)
	}
	if len(sessions.History("u1")) != 1 {
		t.Fatal("expected the user turn to be kept")
	}
}

func TestEmptyCompletionIsInferenceError(t *testing.T) {
	o, sessions := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: "   "}})

	result := o.Handle(context.Background(), "u1", TextInput("hi"))
	if !errors.Is(result.Err, ai.ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", result.Err)
	}
	if len(sessions.History("u1")) != 1 {
		t.Fatal("expected no assistant turn")
	}
}

func TestLongReplyIsChunked(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: strings.Repeat("a", 9000)}})

	result := o.Handle(context.Background(), "u1", TextInput("write a lot"))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}

	want := []int{4096, 4096, 808}
	if len(result.Messages) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(result.Messages))
	}
	for i, msg := range result.Messages {
		if n := utf8.RuneCountInString(msg.Text); n != want[i] {
			t.Errorf("chunk %d length = %d, want %d", i, n, want[i])
		}
	}
}

func TestSynthesisAppendsAudioAfterText(t *testing.T) {
	var delivered []Outbound
	synth := &fakeSynthesizer{audio: &speechmodel.Audio{Data: []byte("mp3"), Format: "mp3"}}
	synth.onCall = func() {
		if len(delivered) == 0 {
			t.Error("synthesis started before text was delivered")
		}
	}

	o, _ := newTestOrchestrator(t, Config{
		Generator:   &fakeGenerator{reply: "**Hello** & welcome"},
		Synthesizer: synth,
		Voice:       "en_default",
	})

	err := o.HandleStream(context.Background(), "u1", TextInput("hi"), func(msg Outbound) error {
		delivered = append(delivered, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("HandleStream err: %v", err)
	}

	if len(delivered) != 2 || delivered[0].Kind != KindText || delivered[1].Kind != KindAudio {
		t.Fatalf("unexpected delivery order: %+v", delivered)
	}
	if string(delivered[1].Audio.Data) != "mp3" {
		t.Fatalf("unexpected audio: %+v", delivered[1].Audio)
	}
	if synth.gotText != "**Hello** & welcome" || synth.gotVoice != "en_default" {
		t.Fatalf("synthesizer got text=%q voice=%q", synth.gotText, synth.gotVoice)
	}
}

func TestSynthesisFailureDegradesToText(t *testing.T) {
	tests := []struct {
		name  string
		synth *fakeSynthesizer
	}{
		{name: "error", synth: &fakeSynthesizer{err: errors.New("tts down")}},
		{name: "no audio", synth: &fakeSynthesizer{}},
		{name: "empty audio", synth: &fakeSynthesizer{audio: &speechmodel.Audio{}}},
	}

	for _, tt := range tests {
		o, sessions := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: "hello"}, Synthesizer: tt.synth})

		result := o.Handle(context.Background(), "u1", TextInput("hi"))
		if result.Err != nil {
			t.Fatalf("%s: synthesis failure must not surface: %v", tt.name, result.Err)
		}
		if len(result.Messages) != 1 || result.Messages[0].Kind != KindText {
			t.Fatalf("%s: expected text only, got %+v", tt.name, result.Messages)
		}
		if tt.synth.callCount != 1 {
			t.Fatalf("%s: expected one synthesis attempt, got %d", tt.name, tt.synth.callCount)
		}
		if len(sessions.History("u1")) != 2 {
			t.Fatalf("%s: expected completed exchange in history", tt.name)
		}
	}
}

type disabledSynthesizer struct{ fakeSynthesizer }

func (d *disabledSynthesizer) Enabled() bool { return false }

func TestDisabledSynthesizerIsSkipped(t *testing.T) {
	synth := &disabledSynthesizer{}
	o, _ := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: "hello"}, Synthesizer: synth})

	o.Handle(context.Background(), "u1", TextInput("hi"))
	if synth.callCount != 0 {
		t.Fatal("disabled synthesizer must not be called")
	}
}

func TestObserverTransitions(t *testing.T) {
	var states []State
	observer := func(_ string, s State) { states = append(states, s) }

	o, _ := newTestOrchestrator(t, Config{
		Generator:   &fakeGenerator{reply: "hello"},
		Synthesizer: &fakeSynthesizer{audio: &speechmodel.Audio{Data: []byte("x")}},
		Transcriber: &fakeTranscriber{text: "", enabled: true},
		Observer:    observer,
	})

	o.Handle(context.Background(), "u1", TextInput("hi"))
	want := []State{StateAwaitingInput, StateBuildingPrompt, StateAwaitingModel, StateFormatting, StateSynthesizing, StateIdle}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Fatalf("success transitions = %v, want %v", states, want)
	}

	states = nil
	o.Handle(context.Background(), "u1", AudioInput([]byte("ogg"), "ogg"))
	if want := []State{StateAwaitingInput, StateIdle}; fmt.Sprint(states) != fmt.Sprint(want) {
		t.Fatalf("unrecognized transitions = %v, want %v", states, want)
	}
}

func TestResetClearsHistory(t *testing.T) {
	o, sessions := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: "hello"}})
	o.Handle(context.Background(), "u1", TextInput("hi"))

	msg := o.Reset("u1")
	if msg.Text != ResetText {
		t.Fatalf("unexpected confirmation %q", msg.Text)
	}
	if len(sessions.History("u1")) != 0 {
		t.Fatal("expected empty history after reset")
	}

	// never-seen users reset cleanly too
	o.Reset("ghost")
	if len(o.History("ghost")) != 0 {
		t.Fatal("expected empty history for unknown user")
	}
}

type concurrencyGenerator struct {
	mu       sync.Mutex
	inFlight map[string]int
	maxSeen  map[string]int
}

func (g *concurrencyGenerator) Generate(_ context.Context, promptText string) (string, error) {
	user := "other"
	if strings.Contains(promptText, "same") {
		user = "same"
	}

	g.mu.Lock()
	g.inFlight[user]++
	if g.inFlight[user] > g.maxSeen[user] {
		g.maxSeen[user] = g.inFlight[user]
	}
	g.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	g.mu.Lock()
	g.inFlight[user]--
	g.mu.Unlock()
	return "ack", nil
}

func TestSameUserExchangesAreSerialized(t *testing.T) {
	gen := &concurrencyGenerator{inFlight: map[string]int{}, maxSeen: map[string]int{}}
	o, sessions := newTestOrchestrator(t, Config{Generator: gen})

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o.Handle(context.Background(), "u1", TextInput(fmt.Sprintf("same %d", i)))
		}(i)
	}
	wg.Wait()

	gen.mu.Lock()
	maxSame := gen.maxSeen["same"]
	gen.mu.Unlock()
	if maxSame != 1 {
		t.Fatalf("expected serialized model calls for one user, saw %d in flight", maxSame)
	}

	history := sessions.History("u1")
	if len(history) != 2*n {
		t.Fatalf("expected %d turns, got %d", 2*n, len(history))
	}
	for i, turn := range history {
		want := chat.RoleUser
		if i%2 == 1 {
			want = chat.RoleAssistant
		}
		if turn.Role != want {
			t.Fatalf("turn %d role = %s, want %s", i, turn.Role, want)
		}
	}
}

func TestSinkErrorStopsExchange(t *testing.T) {
	synth := &fakeSynthesizer{audio: &speechmodel.Audio{Data: []byte("x")}}
	o, _ := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: "hello"}, Synthesizer: synth})

	sinkErr := errors.New("chat closed")
	err := o.HandleStream(context.Background(), "u1", TextInput("hi"), func(Outbound) error { return sinkErr })
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if synth.callCount != 0 {
		t.Fatal("synthesis must not run after delivery failed")
	}
}

func TestNewValidatesCollaborators(t *testing.T) {
	if _, err := New(Config{Generator: &fakeGenerator{}}); err == nil {
		t.Fatal("expected error without session service")
	}
	if _, err := New(Config{Sessions: chatservice.NewService()}); err == nil {
		t.Fatal("expected error without generator")
	}
}

func TestGreeting(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{Generator: &fakeGenerator{}})
	if o.Greeting() != DefaultGreeting {
		t.Fatalf("unexpected default greeting %q", o.Greeting())
	}

	o, _ = newTestOrchestrator(t, Config{Generator: &fakeGenerator{}, Greeting: "Hello from the tutor"})
	if o.Greeting() != "Hello from the tutor" {
		t.Fatalf("unexpected greeting %q", o.Greeting())
	}
}

func TestHandleRequiresUser(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{Generator: &fakeGenerator{reply: "x"}})
	if result := o.Handle(context.Background(), " ", TextInput("hi")); !errors.Is(result.Err, chatservice.ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", result.Err)
	}
}
