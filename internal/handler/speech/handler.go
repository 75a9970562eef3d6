package speech

import (
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/pkg/utils"
)

// maxVoiceBytes 32MB
const maxVoiceBytes = 32 << 20

// Handler 语音输入的HTTP处理器
type Handler struct {
	relay *relay.Orchestrator
}

// New 创建语音处理器
func New(orchestrator *relay.Orchestrator) *Handler {
	return &Handler{relay: orchestrator}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/users/{userID}/voice", h.handleVoice)
	r.Get("/speech/health", h.handleHealth)
}

// handleVoice 接收一段语音，走完整的识别与对话流程。
// 支持原始音频请求体（?format=ogg）或 multipart 表单中的 audio 文件。
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceBytes)

	audio, format, err := readVoice(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio exceeds 32MB")
			return
		}
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(audio) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "audio is required")
		return
	}

	userID := chi.URLParam(r, "userID")
	log.Printf("[speech] voice note user=%s bytes=%d format=%s", userID, len(audio), format)

	result := h.relay.Handle(r.Context(), userID, relay.AudioInput(audio, format))
	utils.RespondExchange(w, result)
}

func readVoice(r *http.Request) ([]byte, string, error) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", err
		}
		if format == "" {
			format = "ogg"
		}
		return data, format, nil
	}

	if err := r.ParseMultipartForm(maxVoiceBytes); err != nil {
		return nil, "", err
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		return nil, "", errors.New("audio file is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	if format == "" {
		format = inferAudioFormat(header.Filename)
	}
	return data, format, nil
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "disabled"
	if h.relay.SpeechInput() {
		status = "healthy"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"service": "speech",
	})
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".ogg", ".oga", ".opus":
		return "ogg"
	case ".mp3":
		return "mp3"
	case ".pcm":
		return "pcm"
	default:
		return "wav"
	}
}
