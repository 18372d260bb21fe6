package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/TheTinkerJ/mine-fanren/internal/chunker"
	"github.com/TheTinkerJ/mine-fanren/internal/extract"
	"github.com/TheTinkerJ/mine-fanren/internal/store"
)

type fakeExtractor struct {
	mu           sync.Mutex
	erCalls      int
	claimCalls   int
	lastEntities []extract.Entity

	// failERTimes fails that many entity calls with erErr; -1 fails forever.
	failERTimes int
	erErr       error

	entities  []extract.Entity
	relations []extract.Relation
	claims    []extract.Claim
}

func (f *fakeExtractor) ExtractEntities(_ context.Context, _ string) (*extract.ERResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.erCalls++
	if f.failERTimes != 0 {
		if f.failERTimes > 0 {
			f.failERTimes--
		}
		return nil, f.erErr
	}
	return &extract.ERResult{
		Entities:      append([]extract.Entity(nil), f.entities...),
		Relationships: append([]extract.Relation(nil), f.relations...),
	}, nil
}

func (f *fakeExtractor) ExtractClaims(_ context.Context, _ string, entities []extract.Entity) (*extract.ClaimResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimCalls++
	f.lastEntities = entities
	return &extract.ClaimResult{Claims: append([]extract.Claim(nil), f.claims...)}, nil
}

func seedTasks(t *testing.T, st *store.Store, novel string, chapters int, taskType string) {
	t.Helper()
	ctx := context.Background()
	for i := 1; i <= chapters; i++ {
		content := strings.Repeat("韩立又有了新的际遇。", i)
		c := chunker.ChapterChunk{
			ChunkID:      chunker.NewChunkID(),
			Novel:        novel,
			ChapterID:    i,
			ChapterTitle: fmt.Sprintf("第%d章 际遇", i),
			LineStart:    i * 10,
			LineEnd:      i*10 + 1,
			PosEnd:       len(content),
			CharCount:    len(content),
			TokenCount:   len(content) / 3,
			Content:      content,
		}
		if err := st.InsertChunk(ctx, &c); err != nil {
			t.Fatalf("InsertChunk: %v", err)
		}
	}
	if _, err := st.GenerateTasks(ctx, novel, taskType, false); err != nil {
		t.Fatalf("GenerateTasks: %v", err)
	}
}

func newTestSink(t *testing.T) (*Sink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.jsonl")
	sink, err := OpenSink(path)
	if err != nil {
		t.Fatalf("OpenSink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink, path
}

func taskCount(t *testing.T, st *store.Store, novel, taskType, status string) int {
	t.Helper()
	stats, err := st.TaskStats(context.Background(), novel)
	if err != nil {
		t.Fatalf("TaskStats: %v", err)
	}
	for _, s := range stats {
		if s.Type == taskType && s.Status == status {
			return s.Count
		}
	}
	return 0
}

func TestERClaimRunner_DrainsPendingTasks(t *testing.T) {
	_, st := newTestWorker(t)
	seedTasks(t, st, "凡人修仙传", 2, store.TaskERClaim)
	sink, path := newTestSink(t)

	fake := &fakeExtractor{
		entities:  []extract.Entity{{Name: "韩立", Category: extract.CategoryCharacter, Desc: "主角"}},
		relations: []extract.Relation{{Source: "韩立", Target: "墨大夫", Desc: "师徒"}},
		claims:    []extract.Claim{{Category: "action", Subject: "韩立", Content: "韩立服下了丹药"}},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewERClaimRunner(st, fake, sink, 2, log)

	summary, err := runner.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Done != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 done", summary)
	}
	if got := taskCount(t, st, "凡人修仙传", store.TaskERClaim, store.TaskDone); got != 2 {
		t.Errorf("done tasks = %d, want 2", got)
	}
	if len(fake.lastEntities) != 1 || fake.lastEntities[0].Name != "韩立" {
		t.Errorf("claims got entities %v, want the extracted ones", fake.lastEntities)
	}

	sink.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("sink has %d lines, want 2", len(lines))
	}
	var rec ExtractionRecord
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec.Novel != "凡人修仙传" || len(rec.Entities) != 1 || len(rec.Claims) != 1 {
		t.Errorf("record = %+v", rec)
	}
	if _, err := time.Parse(time.RFC3339, rec.ExtractedAt); err != nil {
		t.Errorf("extracted_at %q is not RFC3339", rec.ExtractedAt)
	}
}

func TestERClaimRunner_NoEntitiesSkipsClaims(t *testing.T) {
	_, st := newTestWorker(t)
	seedTasks(t, st, "凡人修仙传", 1, store.TaskERClaim)
	sink, path := newTestSink(t)

	fake := &fakeExtractor{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewERClaimRunner(st, fake, sink, 1, log)

	summary, err := runner.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Done != 1 {
		t.Fatalf("summary = %+v, want 1 done", summary)
	}
	if fake.claimCalls != 0 {
		t.Errorf("claim calls = %d, want 0 without entities", fake.claimCalls)
	}

	sink.Close()
	data, _ := os.ReadFile(path)
	line := strings.TrimSpace(string(data))
	// Empty results serialize as [], never null.
	if !strings.Contains(line, `"entities":[]`) || !strings.Contains(line, `"claims":[]`) {
		t.Errorf("record line = %s", line)
	}
}

func TestERClaimRunner_MarksFailedTasks(t *testing.T) {
	_, st := newTestWorker(t)
	seedTasks(t, st, "凡人修仙传", 1, store.TaskERClaim)
	sink, path := newTestSink(t)

	fake := &fakeExtractor{failERTimes: -1, erErr: errors.New("model exploded")}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewERClaimRunner(st, fake, sink, 1, log)

	summary, err := runner.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Failed != 1 || summary.Done != 0 {
		t.Errorf("summary = %+v, want 1 failed", summary)
	}
	if fake.erCalls != 1 {
		t.Errorf("er calls = %d, want 1 (no retry on permanent errors)", fake.erCalls)
	}
	if got := taskCount(t, st, "凡人修仙传", store.TaskERClaim, store.TaskFailed); got != 1 {
		t.Errorf("failed tasks = %d, want 1", got)
	}

	sink.Close()
	data, _ := os.ReadFile(path)
	if len(data) != 0 {
		t.Errorf("failed task wrote to sink: %s", data)
	}
}

func TestERClaimRunner_RetriesRetryableErrors(t *testing.T) {
	_, st := newTestWorker(t)
	seedTasks(t, st, "凡人修仙传", 1, store.TaskERClaim)
	sink, _ := newTestSink(t)

	fake := &fakeExtractor{
		failERTimes: 1,
		erErr:       &extract.RetryableError{StatusCode: 429, Message: "rate limited"},
		entities:    []extract.Entity{{Name: "韩立", Category: extract.CategoryCharacter}},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewERClaimRunner(st, fake, sink, 1, log)
	runner.backoff = func(int) time.Duration { return 0 }

	summary, err := runner.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Done != 1 {
		t.Errorf("summary = %+v, want 1 done", summary)
	}
	if fake.erCalls != 2 {
		t.Errorf("er calls = %d, want 2 (one retry)", fake.erCalls)
	}
}

func TestERClaimRunner_NoPendingTasks(t *testing.T) {
	_, st := newTestWorker(t)
	sink, _ := newTestSink(t)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := NewERClaimRunner(st, &fakeExtractor{}, sink, 1, log)

	summary, err := runner.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Done != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want empty", summary)
	}
}
