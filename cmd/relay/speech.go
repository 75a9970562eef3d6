package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/chat-relay/internal/service/speech"
)

// speechCmd 用于手动验证语音凭证与声音配置
func speechCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "speech",
		Short: "Exercise the speech collaborators directly",
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "Request timeout")

	var format string
	asr := &cobra.Command{
		Use:   "asr <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSpeechService()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("打开音频文件失败: %w", err)
			}
			if format == "" {
				format = strings.TrimPrefix(strings.ToLower(filepath.Ext(args[0])), ".")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log.Printf("开始进行 ASR 测试: format=%s language=%s bytes=%d", format, cfg.Speech.ASRLanguage, len(data))
			text, err := svc.Transcribe(ctx, data, format)
			if err != nil {
				return fmt.Errorf("ASR 调用失败: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	asr.Flags().StringVar(&format, "format", "", "Audio format (defaults to the file extension)")

	var voice, out string
	tts := &cobra.Command{
		Use:   "tts <text>",
		Short: "Synthesize text into an mp3 file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newSpeechService()
			if err != nil {
				return err
			}
			if voice == "" {
				voice = cfg.Speech.TTSVoice
			}
			if out == "" {
				out = fmt.Sprintf("tts-output-%d.mp3", time.Now().Unix())
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			log.Printf("开始进行 TTS 测试: voice=%s", voice)
			audio, err := svc.Synthesize(ctx, strings.Join(args, " "), voice)
			if err != nil {
				return fmt.Errorf("TTS 调用失败: %w", err)
			}
			if err := os.WriteFile(out, audio.Data, 0o644); err != nil {
				return fmt.Errorf("写入音频文件失败: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%dms, request %s)\n", out, audio.Duration, audio.RequestID)
			return nil
		},
	}
	tts.Flags().StringVar(&voice, "voice", "", "Voice id (defaults to SPEECH_TTS_VOICE)")
	tts.Flags().StringVarP(&out, "out", "o", "", "Output file")

	cmd.AddCommand(asr, tts)
	return cmd
}

func newSpeechService() (*speech.Service, error) {
	svc := speech.NewService(speechConfig(cfg))
	if !svc.Enabled() {
		return nil, fmt.Errorf("语音服务未启用，请先配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}
	return svc, nil
}
