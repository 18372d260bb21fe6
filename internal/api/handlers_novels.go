package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/TheTinkerJ/mine-fanren/internal/analyzer"
	"github.com/TheTinkerJ/mine-fanren/internal/store"
	"github.com/TheTinkerJ/mine-fanren/internal/vector"
)

const defaultValidateMax = 10

// chunkSummary is the listing view of a chunk: everything but the body.
type chunkSummary struct {
	ChunkID      string `json:"chunk_id"`
	ChapterID    int    `json:"chapter_id"`
	ChapterTitle string `json:"chapter_title"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
	CharCount    int    `json:"char_count"`
	TokenCount   int    `json:"token_count"`
}

// handleListNovels lists every stored novel.
func (s *Server) handleListNovels(w http.ResponseWriter, r *http.Request) {
	novels, err := s.orchestrator.Store().ListNovels(r.Context())
	if err != nil {
		jsonError(w, "failed to list novels: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if novels == nil {
		novels = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"novels": novels})
}

// handleDeleteNovel removes a novel's chunks, tasks and vector index entries.
func (s *Server) handleDeleteNovel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "novel")

	n, err := s.orchestrator.Store().DeleteNovel(r.Context(), name)
	if err != nil {
		jsonError(w, "failed to delete novel: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if n == 0 {
		jsonError(w, "novel not found", http.StatusNotFound)
		return
	}
	if s.index != nil {
		if err := s.index.DeleteNovel(name); err != nil {
			s.log.Warn("vector index delete failed", "novel", name, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"chunks_deleted": n})
}

// handleListChunks lists a novel's chunks without their bodies.
func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "novel")

	chunks, err := s.orchestrator.Store().ListChunks(r.Context(), name)
	if err != nil {
		jsonError(w, "failed to list chunks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(chunks) == 0 {
		jsonError(w, "novel not found", http.StatusNotFound)
		return
	}

	summaries := make([]chunkSummary, 0, len(chunks))
	for _, c := range chunks {
		summaries = append(summaries, chunkSummary{
			ChunkID:      c.ChunkID,
			ChapterID:    c.ChapterID,
			ChapterTitle: c.ChapterTitle,
			LineStart:    c.LineStart,
			LineEnd:      c.LineEnd,
			CharCount:    c.CharCount,
			TokenCount:   c.TokenCount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"novel": name, "chunks": summaries})
}

// handleGetChapter returns one chapter chunk with its body.
func (s *Server) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "novel")
	chapterID, err := strconv.Atoi(chi.URLParam(r, "chapterID"))
	if err != nil {
		jsonError(w, "invalid chapter id", http.StatusBadRequest)
		return
	}

	chunk, err := s.orchestrator.Store().GetChapter(r.Context(), name, chapterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "chapter not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load chapter: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chunk)
}

// handleNovelStats reports chunk aggregates and task counts for a novel.
func (s *Server) handleNovelStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "novel")
	ctx := r.Context()

	stats, err := s.orchestrator.Store().Stats(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "novel not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load stats: "+err.Error(), http.StatusInternalServerError)
		return
	}
	tasks, err := s.orchestrator.Store().TaskStats(ctx, name)
	if err != nil {
		jsonError(w, "failed to load task stats: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []store.TaskCount{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"stats": stats, "tasks": tasks})
}

// handleMissing reports suspected chapter gaps, optionally validated against
// the neighboring chapters by the LLM.
func (s *Server) handleMissing(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "novel")

	chunks, err := s.orchestrator.Store().ListChunks(r.Context(), name)
	if err != nil {
		jsonError(w, "failed to list chunks: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(chunks) == 0 {
		jsonError(w, "novel not found", http.StatusNotFound)
		return
	}

	gaps := analyzer.FindGaps(chunks)
	resp := map[string]any{
		"novel":    name,
		"chapters": len(chunks),
		"gaps":     gaps,
	}

	if r.URL.Query().Get("validate") == "true" && len(gaps) > 0 {
		if s.llm == nil {
			jsonError(w, "llm validation unavailable", http.StatusServiceUnavailable)
			return
		}
		max := defaultValidateMax
		if v := r.URL.Query().Get("max"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				max = n
			}
		}
		validator := analyzer.NewValidator(s.llm, s.log)
		verdicts, err := validator.ValidateAll(r.Context(), gaps, max)
		resp["verdicts"] = verdicts
		if err != nil {
			resp["validation_error"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleGenerateTasks queues enrichment tasks for a novel's chunks.
func (s *Server) handleGenerateTasks(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "novel")

	var req struct {
		Type  string `json:"type"`
		Clear bool   `json:"clear"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !store.ValidTaskType(req.Type) {
		jsonError(w, "unknown task type: "+req.Type, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.orchestrator.Store().Stats(ctx, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, "novel not found", http.StatusNotFound)
			return
		}
		jsonError(w, "failed to load novel: "+err.Error(), http.StatusInternalServerError)
		return
	}

	created, err := s.orchestrator.Store().GenerateTasks(ctx, name, req.Type, req.Clear)
	if err != nil {
		jsonError(w, "failed to generate tasks: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"type": req.Type, "created": created})
}

// handleSearch runs a similarity query over a novel's indexed chunks.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "novel")

	query := r.URL.Query().Get("q")
	if query == "" {
		jsonError(w, "q query parameter is required", http.StatusBadRequest)
		return
	}
	if s.index == nil {
		jsonError(w, "vector search unavailable", http.StatusServiceUnavailable)
		return
	}

	k := 0
	if v := r.URL.Query().Get("k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			k = n
		}
	}

	hits, err := s.index.Search(r.Context(), name, query, k)
	if err != nil {
		jsonError(w, "search failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if hits == nil {
		hits = []vector.SearchHit{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"novel": name, "query": query, "hits": hits})
}
