package speech

import (
	"context"
	"errors"
	"testing"

	speechmodel "github.com/zhouzirui/chat-relay/internal/model/speech"
)

func TestServiceEnabled(t *testing.T) {
	if !NewService(testSpeechConfig()).Enabled() {
		t.Fatal("expected service with credentials to be enabled")
	}
	if NewService(&speechmodel.SpeechConfig{AppID: "app"}).Enabled() {
		t.Fatal("expected service without token to be disabled")
	}
	if NewService(nil).Enabled() {
		t.Fatal("expected nil config to be disabled")
	}

	var nilService *Service
	if nilService.Enabled() {
		t.Fatal("expected nil service to be disabled")
	}
}

func TestDisabledServiceRefusesCalls(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Transcribe(context.Background(), []byte("pcm"), "ogg"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
	if _, err := svc.Synthesize(context.Background(), "hi", ""); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}
