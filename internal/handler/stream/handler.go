package stream

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/pkg/utils"
)

// Handler manages streaming relay replies via Server-Sent Events
type Handler struct {
	relay *relay.Orchestrator
}

// New creates a new stream handler
func New(orchestrator *relay.Orchestrator) *Handler {
	return &Handler{relay: orchestrator}
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/{userID}/stream", h.handleStream)
}

// EndEvent closes every stream.
type EndEvent struct {
	UserID   string `json:"userId"`
	Finished bool   `json:"finished"`
	Error    string `json:"error,omitempty"`
}

// handleStream runs one exchange and pushes a "message" event for every
// outbound message as soon as it exists, then an "end" event.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	userMessage := r.URL.Query().Get("message")

	if strings.TrimSpace(userMessage) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	err := h.relay.HandleStream(r.Context(), userID, relay.TextInput(userMessage), func(out relay.Outbound) error {
		return utils.SendSSEEvent(w, flusher, "message", out)
	})

	end := EndEvent{UserID: userID, Finished: true}
	if err != nil {
		end.Error = err.Error()
		var inputErr *relay.InputError
		var inferenceErr *relay.InferenceError
		if !errors.As(err, &inputErr) && !errors.As(err, &inferenceErr) {
			log.Printf("[stream] error handling request for user=%s: %v", userID, err)
		}
	}
	if err := utils.SendSSEEvent(w, flusher, "end", end); err != nil {
		log.Printf("[stream] failed to close stream for user=%s: %v", userID, err)
		return
	}

	log.Printf("[stream] completed response for user=%s", userID)
}
