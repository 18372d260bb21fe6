package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TheTinkerJ/mine-fanren/internal/chunker"
	"github.com/TheTinkerJ/mine-fanren/internal/config"
	"github.com/TheTinkerJ/mine-fanren/internal/pipeline"
	"github.com/TheTinkerJ/mine-fanren/internal/store"
)

const testAPIKey = "test-secret"

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(":memory:", log)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Config{
		APIKey:         testAPIKey,
		MaxUploadBytes: 1 << 20,
		MaxQueueSize:   4,
		WorkerCount:    1,
		JobTTL:         time.Hour,
		// Unknown encoding keeps the token counter on the offline estimator.
		TokenEncoding: "estimate-only",
	}
	orch := pipeline.NewOrchestrator(cfg, st, log)
	return NewServer(orch, nil, nil, log, cfg), st
}

func authedRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	return req
}

func seedChapter(t *testing.T, st *store.Store, novel string, chapter int, content string) {
	t.Helper()
	lineEnd := chapter*10 + 1
	if content == "" {
		lineEnd = chapter*10 - 1
	}
	c := chunker.ChapterChunk{
		ChunkID:      chunker.NewChunkID(),
		Novel:        novel,
		ChapterID:    chapter,
		ChapterTitle: fmt.Sprintf("第%d章 风起", chapter),
		LineStart:    chapter * 10,
		LineEnd:      lineEnd,
		PosEnd:       len(content),
		CharCount:    len(content),
		TokenCount:   len(content) / 3,
		Content:      content,
	}
	if err := st.InsertChunk(context.Background(), &c); err != nil {
		t.Fatalf("InsertChunk: %v", err)
	}
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuth_RejectsMissingAndWrongKey(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/novels", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/novels", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}
}

func multipartUpload(t *testing.T, fields map[string]string, fileField, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile(fileField, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestIngest_QueuesJob(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t,
		map[string]string{"novel": "凡人修仙传", "tasks": "er_claim"},
		"file", "fanren.txt", "第一章 初入七玄门\n韩立出场。")
	req := authedRequest(http.MethodPost, "/api/novels", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		JobID string `json:"job_id"`
		Novel string `json:"novel"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.JobID == "" || resp.Novel != "凡人修仙传" {
		t.Errorf("resp = %+v", resp)
	}

	// Workers are not running, so the job stays queued.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/ingest/"+resp.JobID+"/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"queued"`) {
		t.Errorf("status body = %s", rec.Body.String())
	}
}

func TestIngest_RejectsUnsupportedType(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, nil, "file", "fanren.exe", "MZ")
	req := authedRequest(http.MethodPost, "/api/novels", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIngest_RejectsUnknownTaskType(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t,
		map[string]string{"tasks": "summarize"},
		"file", "fanren.txt", "第一章 开端\n正文。")
	req := authedRequest(http.MethodPost, "/api/novels", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "summarize") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListChunks_OmitsBodies(t *testing.T) {
	srv, st := newTestServer(t)
	seedChapter(t, st, "凡人修仙传", 1, "韩立走进了七玄门。")
	seedChapter(t, st, "凡人修仙传", 2, "墨大夫收徒。")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/novels/凡人修仙传/chunks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Chunks []map[string]any `json:"chunks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(resp.Chunks))
	}
	if _, ok := resp.Chunks[0]["content"]; ok {
		t.Error("chunk listing leaked content field")
	}
}

func TestGetChapter_ReturnsBody(t *testing.T) {
	srv, st := newTestServer(t)
	seedChapter(t, st, "凡人修仙传", 3, "韩立突破到了练气二层。")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/novels/凡人修仙传/chapters/3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "练气二层") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGetChapter_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/novels/凡人修仙传/chapters/42", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestNovelStats_ReportsAggregates(t *testing.T) {
	srv, st := newTestServer(t)
	seedChapter(t, st, "凡人修仙传", 1, "韩立走进了七玄门。")
	seedChapter(t, st, "凡人修仙传", 2, "")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/novels/凡人修仙传/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Stats store.NovelStats `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Stats.Chunks != 2 || resp.Stats.EmptyChunks != 1 {
		t.Errorf("stats = %+v", resp.Stats)
	}
}

func TestMissing_ReportsGaps(t *testing.T) {
	srv, st := newTestServer(t)
	seedChapter(t, st, "凡人修仙传", 1, "第一章正文。")
	seedChapter(t, st, "凡人修仙传", 2, "")
	seedChapter(t, st, "凡人修仙传", 5, "第五章正文。")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/novels/凡人修仙传/missing", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Gaps []struct {
			ChapterID int    `json:"chapter_id"`
			Kind      string `json:"kind"`
		} `json:"gaps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	// Chapter 2 is empty; chapters 3 and 4 never appear.
	if len(resp.Gaps) != 3 {
		t.Fatalf("got %d gaps (%+v), want 3", len(resp.Gaps), resp.Gaps)
	}
}

func TestGenerateTasks_CreatesPending(t *testing.T) {
	srv, st := newTestServer(t)
	seedChapter(t, st, "凡人修仙传", 1, "韩立走进了七玄门。")

	body := strings.NewReader(`{"type":"embedding"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/novels/凡人修仙传/tasks", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"created":1`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGenerateTasks_UnknownNovel(t *testing.T) {
	srv, _ := newTestServer(t)

	body := strings.NewReader(`{"type":"embedding"}`)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/novels/不存在/tasks", body))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSearch_RequiresQueryAndIndex(t *testing.T) {
	srv, st := newTestServer(t)
	seedChapter(t, st, "凡人修仙传", 1, "韩立走进了七玄门。")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/novels/凡人修仙传/search", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/novels/凡人修仙传/search?q=韩立", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no index: status = %d, want 503", rec.Code)
	}
}

func TestDeleteNovel_RemovesChunks(t *testing.T) {
	srv, st := newTestServer(t)
	seedChapter(t, st, "凡人修仙传", 1, "韩立走进了七玄门。")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/novels/凡人修仙传", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"chunks_deleted":1`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/novels/凡人修仙传", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rec.Code)
	}
}
