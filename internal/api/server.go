package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TheTinkerJ/mine-fanren/internal/config"
	"github.com/TheTinkerJ/mine-fanren/internal/extract"
	"github.com/TheTinkerJ/mine-fanren/internal/pipeline"
	"github.com/TheTinkerJ/mine-fanren/internal/vector"
)

// Server is the HTTP API server for mine-fanren.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	llm          *extract.Client
	index        *vector.Index
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, llm *extract.Client, index *vector.Index, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		llm:          llm,
		index:        index,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/novels", s.handleIngest)
		r.Post("/api/novels/batch", s.handleBatchIngest)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)
		r.Get("/api/stats/llm", s.handleLLMStats)

		r.Get("/api/novels", s.handleListNovels)
		r.Delete("/api/novels/{novel}", s.handleDeleteNovel)
		r.Get("/api/novels/{novel}/chunks", s.handleListChunks)
		r.Get("/api/novels/{novel}/chapters/{chapterID}", s.handleGetChapter)
		r.Get("/api/novels/{novel}/stats", s.handleNovelStats)
		r.Get("/api/novels/{novel}/missing", s.handleMissing)
		r.Post("/api/novels/{novel}/tasks", s.handleGenerateTasks)
		r.Get("/api/novels/{novel}/search", s.handleSearch)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","queue_depth":%d}`, s.orchestrator.QueueDepth())
}
