package chat

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/internal/model/chat"
	chatService "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/pkg/utils"
)

// Handler 对话相关的HTTP处理器
type Handler struct {
	relay   *relay.Orchestrator
	chatSvc *chatService.Service
}

// New 创建对话处理器
func New(orchestrator *relay.Orchestrator, chatSvc *chatService.Service) *Handler {
	return &Handler{
		relay:   orchestrator,
		chatSvc: chatSvc,
	}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/users/{userID}/messages", h.handleSendMessage)
	r.Get("/users/{userID}/history", h.handleHistory)
	r.Delete("/users/{userID}/history", h.handleReset)
	r.Get("/stats", h.handleStats)
}

// handleSendMessage 处理一条文本消息并返回全部回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(payload.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	result := h.relay.Handle(r.Context(), chi.URLParam(r, "userID"), relay.TextInput(payload.Text))
	utils.RespondExchange(w, result)
}

// handleHistory 返回用户的完整历史
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	utils.RespondJSON(w, http.StatusOK, struct {
		UserID string      `json:"userId"`
		Turns  []chat.Turn `json:"turns"`
	}{userID, h.relay.History(userID)})
}

// handleReset 清空历史，对应聊天中的 /reset
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	msg := h.relay.Reset(chi.URLParam(r, "userID"))
	utils.RespondJSON(w, http.StatusOK, utils.ExchangeResponse{Messages: []relay.Outbound{msg}})
}

// handleStats 返回会话统计
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Stats())
}
