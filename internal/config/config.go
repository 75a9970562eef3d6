package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Inference providers.
const (
	ProviderOllama = "ollama"
	ProviderArk    = "ark"
)

// Config aggregates the relay configuration.
type Config struct {
	Server    ServerConfig
	Telegram  TelegramConfig
	Inference InferenceConfig
	Prompt    PromptConfig
	Reply     ReplyConfig
	Speech    SpeechConfig
	Timeouts  TimeoutConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	telegram, err := loadTelegramConfig()
	if err != nil {
		return nil, err
	}

	inference, err := loadInferenceConfig()
	if err != nil {
		return nil, err
	}

	prompt, err := loadPromptConfig()
	if err != nil {
		return nil, err
	}

	reply, err := loadReplyConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	timeouts, err := loadTimeoutConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Telegram:  telegram,
		Inference: inference,
		Prompt:    prompt,
		Reply:     reply,
		Speech:    speech,
		Timeouts:  timeouts,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr    string
	Enabled bool
}

func loadServerConfig() (ServerConfig, error) {
	enabled, err := parseBoolEnv("RELAY_HTTP_ENABLED", true)
	if err != nil {
		return ServerConfig{}, err
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port, Enabled: enabled}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Enabled: enabled}, nil
}

// TelegramConfig describes the Telegram bot transport.
type TelegramConfig struct {
	Token        string
	APIBase      string
	PollTimeout  int
	DropPending  bool
	ThinkingText string
}

// Enabled reports whether a bot token is configured.
func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

// BotURL returns the API base with the bot token, e.g. https://api.telegram.org/bot<token>.
func (c TelegramConfig) BotURL() string {
	return strings.TrimRight(c.APIBase, "/") + "/bot" + c.Token
}

// FileURL returns the base used to download files sent to the bot.
func (c TelegramConfig) FileURL() string {
	return strings.TrimRight(c.APIBase, "/") + "/file/bot" + c.Token
}

func loadTelegramConfig() (TelegramConfig, error) {
	pollTimeout, err := parseOptionalIntEnv("TELEGRAM_POLL_TIMEOUT")
	if err != nil {
		return TelegramConfig{}, err
	}
	timeout := 30
	if pollTimeout != nil {
		if *pollTimeout < 0 {
			return TelegramConfig{}, fmt.Errorf("invalid TELEGRAM_POLL_TIMEOUT value %d: must not be negative", *pollTimeout)
		}
		timeout = *pollTimeout
	}

	dropPending, err := parseBoolEnv("TELEGRAM_DROP_PENDING", true)
	if err != nil {
		return TelegramConfig{}, err
	}

	return TelegramConfig{
		Token:        strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		APIBase:      getEnvOrDefault("TELEGRAM_API_BASE", "https://api.telegram.org"),
		PollTimeout:  timeout,
		DropPending:  dropPending,
		ThinkingText: getEnvOrDefault("RELAY_THINKING_TEXT", "🧠 Thinking..."),
	}, nil
}

// InferenceConfig describes the language model collaborator.
type InferenceConfig struct {
	Provider string

	OllamaURL     string
	Model         string
	NumPredict    int
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
	NumCtx        int

	ArkAPIKey    string
	ArkAccessKey string
	ArkSecretKey string
	ArkModel     string
	ArkBaseURL   string
	ArkRegion    string
}

// ArkEnabled reports whether the Ark credentials are complete.
func (c InferenceConfig) ArkEnabled() bool {
	return c.ArkModel != "" && (c.ArkAPIKey != "" || (c.ArkAccessKey != "" && c.ArkSecretKey != ""))
}

// NewChatModel creates the Ark chat model described by the configuration.
func (c InferenceConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY together with ARK_MODEL")
	}

	temperature := float32(c.Temperature)
	topP := float32(c.TopP)
	maxTokens := c.NumPredict

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.ArkBaseURL,
		Region:      c.ArkRegion,
		APIKey:      c.ArkAPIKey,
		AccessKey:   c.ArkAccessKey,
		SecretKey:   c.ArkSecretKey,
		Model:       c.ArkModel,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
		TopP:        &topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadInferenceConfig() (InferenceConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("RELAY_INFERENCE_PROVIDER", ProviderOllama))
	if provider != ProviderOllama && provider != ProviderArk {
		return InferenceConfig{}, fmt.Errorf("invalid RELAY_INFERENCE_PROVIDER value %q: want %q or %q", provider, ProviderOllama, ProviderArk)
	}

	numPredict, err := intEnvOrDefault("OLLAMA_NUM_PREDICT", 200)
	if err != nil {
		return InferenceConfig{}, err
	}
	temperature, err := floatEnvOrDefault("OLLAMA_TEMPERATURE", 0.7)
	if err != nil {
		return InferenceConfig{}, err
	}
	topK, err := intEnvOrDefault("OLLAMA_TOP_K", 40)
	if err != nil {
		return InferenceConfig{}, err
	}
	topP, err := floatEnvOrDefault("OLLAMA_TOP_P", 0.9)
	if err != nil {
		return InferenceConfig{}, err
	}
	repeatPenalty, err := floatEnvOrDefault("OLLAMA_REPEAT_PENALTY", 1.1)
	if err != nil {
		return InferenceConfig{}, err
	}
	numCtx, err := intEnvOrDefault("OLLAMA_NUM_CTX", 4096)
	if err != nil {
		return InferenceConfig{}, err
	}

	cfg := InferenceConfig{
		Provider:      provider,
		OllamaURL:     getEnvOrDefault("OLLAMA_URL", "http://localhost:11434/api/generate"),
		Model:         getEnvOrDefault("OLLAMA_MODEL", "gemma3:27b"),
		NumPredict:    numPredict,
		Temperature:   temperature,
		TopK:          topK,
		TopP:          topP,
		RepeatPenalty: repeatPenalty,
		NumCtx:        numCtx,
		ArkAPIKey:     strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		ArkAccessKey:  strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		ArkSecretKey:  strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		ArkModel:      strings.TrimSpace(os.Getenv("ARK_MODEL")),
		ArkBaseURL:    getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		ArkRegion:     getEnvOrDefault("ARK_REGION", "cn-beijing"),
	}

	if cfg.Provider == ProviderArk && !cfg.ArkEnabled() {
		return InferenceConfig{}, fmt.Errorf("RELAY_INFERENCE_PROVIDER=ark requires ARK_MODEL and ARK_API_KEY (or ARK_ACCESS_KEY/ARK_SECRET_KEY)")
	}
	return cfg, nil
}

// PromptConfig describes prompt assembly.
type PromptConfig struct {
	Budget    int
	PersonaID string
	Persona   string
}

func loadPromptConfig() (PromptConfig, error) {
	budget, err := intEnvOrDefault("RELAY_PROMPT_BUDGET", 3000)
	if err != nil {
		return PromptConfig{}, err
	}

	return PromptConfig{
		Budget:    budget,
		PersonaID: getEnvOrDefault("RELAY_PERSONA_ID", "assistant"),
		Persona:   strings.TrimSpace(os.Getenv("RELAY_PERSONA")),
	}, nil
}

// ReplyConfig describes reply delivery.
type ReplyConfig struct {
	MaxChunkLength int
	AvoidTagSplit  bool
	// CountUTF16 measures MaxChunkLength the way Telegram does.
	CountUTF16 bool
}

func loadReplyConfig() (ReplyConfig, error) {
	maxChunk, err := intEnvOrDefault("RELAY_MAX_CHUNK_LENGTH", 4096)
	if err != nil {
		return ReplyConfig{}, err
	}
	if maxChunk <= 0 {
		return ReplyConfig{}, fmt.Errorf("invalid RELAY_MAX_CHUNK_LENGTH value %d: must be positive", maxChunk)
	}

	avoidTagSplit, err := parseBoolEnv("RELAY_AVOID_TAG_SPLIT", true)
	if err != nil {
		return ReplyConfig{}, err
	}

	countUTF16, err := parseBoolEnv("RELAY_CHUNK_UTF16", true)
	if err != nil {
		return ReplyConfig{}, err
	}

	return ReplyConfig{MaxChunkLength: maxChunk, AvoidTagSplit: avoidTagSplit, CountUTF16: countUTF16}, nil
}

// SpeechConfig describes the Volcengine speech collaborators.
type SpeechConfig struct {
	AppID       string
	AccessToken string
	ASRLanguage string
	TTSVoice    string
	TTSSpeed    float32
	TTSVolume   float32
	TTSLanguage string
	Synthesize  bool
	Enabled     bool
}

func loadSpeechConfig() (SpeechConfig, error) {
	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	synthesize, err := parseBoolEnv("SPEECH_REPLY_AUDIO", true)
	if err != nil {
		return SpeechConfig{}, err
	}

	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	}

	return SpeechConfig{
		AppID:       appID,
		AccessToken: accessToken,
		ASRLanguage: getEnvOrDefault("SPEECH_ASR_LANGUAGE", "en-US"),
		TTSVoice:    getEnvOrDefault("SPEECH_TTS_VOICE", ""),
		TTSSpeed:    ttsSpeed,
		TTSVolume:   ttsVolume,
		TTSLanguage: getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		Synthesize:  synthesize,
		Enabled:     appID != "" && accessToken != "",
	}, nil
}

// TimeoutConfig bounds every external call.
type TimeoutConfig struct {
	Inference     time.Duration
	Transcription time.Duration
	Synthesis     time.Duration
	Transport     time.Duration
}

func loadTimeoutConfig() (TimeoutConfig, error) {
	inference, err := durationEnvOrDefault("RELAY_INFERENCE_TIMEOUT", 120*time.Second)
	if err != nil {
		return TimeoutConfig{}, err
	}
	transcription, err := durationEnvOrDefault("RELAY_TRANSCRIPTION_TIMEOUT", 30*time.Second)
	if err != nil {
		return TimeoutConfig{}, err
	}
	synthesis, err := durationEnvOrDefault("RELAY_SYNTHESIS_TIMEOUT", 30*time.Second)
	if err != nil {
		return TimeoutConfig{}, err
	}
	transport, err := durationEnvOrDefault("RELAY_TRANSPORT_TIMEOUT", 15*time.Second)
	if err != nil {
		return TimeoutConfig{}, err
	}

	return TimeoutConfig{
		Inference:     inference,
		Transcription: transcription,
		Synthesis:     synthesis,
		Transport:     transport,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

func intEnvOrDefault(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func floatEnvOrDefault(key string, defaultValue float64) (float64, error) {
	val, err := parseOptionalFloatEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

// durationEnvOrDefault accepts Go durations ("90s") or a bare number of seconds.
func durationEnvOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}
