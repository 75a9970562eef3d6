package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/chat-relay/internal/handler/chat"
	"github.com/zhouzirui/chat-relay/internal/handler/persona"
	"github.com/zhouzirui/chat-relay/internal/handler/speech"
	"github.com/zhouzirui/chat-relay/internal/handler/stream"
	personaModel "github.com/zhouzirui/chat-relay/internal/model/persona"
	chatService "github.com/zhouzirui/chat-relay/internal/service/chat"
	"github.com/zhouzirui/chat-relay/internal/service/relay"
	"github.com/zhouzirui/chat-relay/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(personas personaModel.Store, activePersona string, chatSvc *chatService.Service, orchestrator *relay.Orchestrator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(personas, activePersona).RegisterRoutes(api)
		chat.New(orchestrator, chatSvc).RegisterRoutes(api)
		stream.New(orchestrator).RegisterRoutes(api)
		speech.New(orchestrator).RegisterRoutes(api)
		speech.NewWebSocketHandler(orchestrator).RegisterWebSocketRoutes(api)
	})

	return r
}
