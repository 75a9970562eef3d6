package main

import (
	"context"
	"fmt"
	"log"

	"github.com/zhouzirui/chat-relay/internal/config"
	"github.com/zhouzirui/chat-relay/internal/model/persona"
	speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"
	"github.com/zhouzirui/chat-relay/internal/service/ai"
	chatservice "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/format"
	"github.com/zhouzirui/chat-relay/internal/service/prompt"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/internal/service/speech"
)

// app holds the collaborators shared by every transport.
type app struct {
	personas persona.Store
	persona  persona.Persona
	sessions *chatservice.Service
	builder  *prompt.Builder
	relay    *relay.Orchestrator
}

func newPromptBuilder(cfg *config.Config) (persona.Store, persona.Persona, *prompt.Builder) {
	store := persona.NewMemoryStore(persona.Seed())
	p, ok := persona.Resolve(store, cfg.Prompt.PersonaID, cfg.Prompt.Persona)
	if !ok {
		log.Printf("warning: persona %q not found, using %q", cfg.Prompt.PersonaID, p.ID)
	}
	return store, p, prompt.NewBuilder(cfg.Prompt.Budget, p.Preamble, nil)
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, p, builder := newPromptBuilder(cfg)
	sessions := chatservice.NewService()

	generator, err := ai.NewGenerator(ctx, cfg.Inference)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize inference: %w", err)
	}
	log.Printf("inference provider: %s", cfg.Inference.Provider)

	speechService := speech.NewService(speechConfig(cfg))
	if speechService.Enabled() {
		log.Println("speech service initialized")
	} else {
		log.Println("语音服务凭证未配置，语音消息将无法识别")
	}

	relayCfg := relay.Config{
		Sessions:       sessions,
		Builder:        builder,
		Generator:      generator,
		Transcriber:    speechService,
		Greeting:       p.OpeningLine,
		MaxChunkLength: cfg.Reply.MaxChunkLength,
		Chunking: format.ChunkOptions{
			AvoidTagSplit: cfg.Reply.AvoidTagSplit,
			CountUTF16:    cfg.Reply.CountUTF16,
		},
		Timeouts: cfg.Timeouts,
	}
	if cfg.Speech.Synthesize {
		relayCfg.Synthesizer = speechService
		relayCfg.Voice = p.VoiceID
		if relayCfg.Voice == "" {
			relayCfg.Voice = cfg.Speech.TTSVoice
		}
	}

	orchestrator, err := relay.New(relayCfg)
	if err != nil {
		return nil, err
	}

	return &app{
		personas: store,
		persona:  p,
		sessions: sessions,
		builder:  builder,
		relay:    orchestrator,
	}, nil
}

func speechConfig(cfg *config.Config) *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		AppID:            cfg.Speech.AppID,
		AccessToken:      cfg.Speech.AccessToken,
		ASRLanguage:      cfg.Speech.ASRLanguage,
		TTSVoice:         cfg.Speech.TTSVoice,
		TTSSpeed:         cfg.Speech.TTSSpeed,
		TTSVolume:        cfg.Speech.TTSVolume,
		TTSLanguage:      cfg.Speech.TTSLanguage,
		HandshakeTimeout: cfg.Timeouts.Transport,
	}
}
