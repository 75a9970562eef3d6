package speech

import (
	"context"
	"errors"

	speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"
)

// ErrDisabled 未配置语音凭证
var ErrDisabled = errors.New("speech service is not configured")

// Transcriber 语音转文字；空字符串表示未识别出内容
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Synthesizer 文字转语音
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*speechmodel.Audio, error)
}

// Service 语音服务，组合 ASR 与 TTS 客户端
type Service struct {
	config *speechmodel.SpeechConfig
	asr    *VolcengineASRClient
	tts    *VolcengineTTSClient
}

// NewService 创建语音服务实例
func NewService(config *speechmodel.SpeechConfig) *Service {
	if config == nil {
		config = &speechmodel.SpeechConfig{}
	}
	return &Service{
		config: config,
		asr:    NewVolcengineASRClient(config),
		tts:    NewVolcengineTTSClient(config),
	}
}

// Enabled 凭证齐全时返回 true
func (s *Service) Enabled() bool {
	if s == nil {
		return false
	}
	_, _, err := resolveCredentials(s.config)
	return err == nil
}

// Transcribe 语音转文字
func (s *Service) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	transcript, err := s.asr.Transcribe(ctx, audio, format)
	if err != nil {
		return "", err
	}
	return transcript.Text, nil
}

// Synthesize 文字转语音
func (s *Service) Synthesize(ctx context.Context, text, voice string) (*speechmodel.Audio, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	return s.tts.Synthesize(ctx, text, voice)
}

var (
	_ Transcriber = (*Service)(nil)
	_ Synthesizer = (*Service)(nil)
)
