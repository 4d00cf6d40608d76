package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/Sourcebook/internal/api/middlewares"
	"github.com/markdave123-py/Sourcebook/internal/config"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/metrics"
	"github.com/markdave123-py/Sourcebook/internal/services"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

type Services struct {
	Sources       *services.SourceService
	Workspaces    *services.WorkspaceService
	Conversations *services.ConversationService
	Chat          *services.ChatService
}

// NewRouter builds and wires all routes.
func NewRouter(cfg *config.Config, svc Services) http.Handler {
	// room for a full batch plus multipart framing
	maxRequest := cfg.MaxUploadBytes*int64(max(cfg.MaxUploadFiles, 1)) + 1<<20
	docHandler := handlers.NewDocumentHandler(svc.Sources, maxRequest)
	workspaceHandler := handlers.NewWorkspaceHandler(svc.Workspaces)
	conversationHandler := handlers.NewConversationHandler(svc.Conversations)
	chatHandler := handlers.NewChatHandler(svc.Chat)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Post("/process-document", docHandler.ProcessDocument)
		api.Post("/ingest-website", docHandler.IngestWebsite)
		api.Post("/chat", chatHandler.Chat)

		api.Route("/sources", func(sr chi.Router) {
			sr.Post("/upload", docHandler.UploadSources)
			sr.Get("/", docHandler.ListSources)
			sr.Get("/{id}", docHandler.GetSource)
		})

		api.Route("/workspaces", func(wr chi.Router) {
			wr.Post("/", workspaceHandler.Create)
			wr.Get("/{id}", workspaceHandler.Get)
			wr.Put("/{id}/sources/{sourceId}", workspaceHandler.SetSource)
			wr.Get("/{id}/search", workspaceHandler.Search)
		})

		api.Route("/conversations", func(cr chi.Router) {
			cr.Post("/", conversationHandler.Create)
			cr.Get("/", conversationHandler.List)
			cr.Get("/{id}/messages", conversationHandler.ListMessages)
			cr.Post("/{id}/messages", conversationHandler.AppendMessage)
		})
	})

	return r
}

func NewServer(cfg *config.Config, svc Services) *Server {
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
