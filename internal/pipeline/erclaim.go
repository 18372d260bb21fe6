package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/TheTinkerJ/mine-fanren/internal/extract"
	"github.com/TheTinkerJ/mine-fanren/internal/store"
)

// ERExtractor is the extraction surface the runner drives.
type ERExtractor interface {
	ExtractEntities(ctx context.Context, text string) (*extract.ERResult, error)
	ExtractClaims(ctx context.Context, text string, entities []extract.Entity) (*extract.ClaimResult, error)
}

// RunSummary reports what a drain pass did.
type RunSummary struct {
	Done   int `json:"done"`
	Failed int `json:"failed"`
}

// ERClaimRunner drains pending er_claim tasks: entities and relationships
// first, then claims grounded on those entities, one JSONL record per chunk.
type ERClaimRunner struct {
	store       *store.Store
	llm         ERExtractor
	sink        *Sink
	log         *slog.Logger
	concurrency int
	backoff     func(int) time.Duration
}

func NewERClaimRunner(st *store.Store, llm ERExtractor, sink *Sink, concurrency int, log *slog.Logger) *ERClaimRunner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &ERClaimRunner{
		store:       st,
		llm:         llm,
		sink:        sink,
		log:         log,
		concurrency: concurrency,
		backoff:     Backoff,
	}
}

// Run processes up to limit pending tasks (all of them when limit <= 0)
// with bounded concurrency.
func (r *ERClaimRunner) Run(ctx context.Context, limit int) (RunSummary, error) {
	tasks, err := r.store.PendingTasks(ctx, store.TaskERClaim, limit)
	if err != nil {
		return RunSummary{}, err
	}
	if len(tasks) == 0 {
		return RunSummary{}, nil
	}

	sem := make(chan struct{}, r.concurrency)
	results := make(chan error, len(tasks))
	for _, task := range tasks {
		sem <- struct{}{}
		go func(task store.PendingTask) {
			defer func() { <-sem }()
			results <- r.process(ctx, task)
		}(task)
	}

	var summary RunSummary
	for range tasks {
		if err := <-results; err != nil {
			summary.Failed++
		} else {
			summary.Done++
		}
	}
	r.log.Info("extraction pass complete", "done", summary.Done, "failed", summary.Failed)
	return summary, nil
}

func (r *ERClaimRunner) process(ctx context.Context, task store.PendingTask) error {
	log := r.log.With("task_id", task.TaskID, "novel", task.Novel, "chapter", task.ChapterID)

	if err := r.store.MarkTask(ctx, task.TaskID, store.TaskRunning); err != nil {
		log.Error("mark running failed", "error", err)
		return err
	}

	rec, err := r.extract(ctx, task)
	if err != nil {
		log.Error("extraction failed", "error", err)
		r.fail(ctx, task.TaskID)
		return err
	}

	if err := r.sink.Write(rec); err != nil {
		log.Error("sink write failed", "error", err)
		r.fail(ctx, task.TaskID)
		return err
	}

	if err := r.store.MarkTask(ctx, task.TaskID, store.TaskDone); err != nil {
		log.Error("mark done failed", "error", err)
		return err
	}
	log.Info("chunk extracted",
		"entities", len(rec.Entities),
		"relationships", len(rec.Relationships),
		"claims", len(rec.Claims))
	return nil
}

// extract builds the record for one chunk. A claim failure fails the whole
// unit so a retry never writes duplicate entities.
func (r *ERClaimRunner) extract(ctx context.Context, task store.PendingTask) (*ExtractionRecord, error) {
	var er *extract.ERResult
	err := r.withRetry(ctx, task.TaskID, func() error {
		var err error
		er, err = r.llm.ExtractEntities(ctx, task.Content)
		return err
	})
	if err != nil {
		return nil, err
	}
	er.Sanitize()

	rec := &ExtractionRecord{
		ChunkID:       task.ChunkID,
		Novel:         task.Novel,
		ChapterID:     task.ChapterID,
		ChapterTitle:  task.ChapterTitle,
		Entities:      er.Entities,
		Relationships: er.Relationships,
		Claims:        []extract.Claim{},
		ExtractedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	if rec.Entities == nil {
		rec.Entities = []extract.Entity{}
	}
	if rec.Relationships == nil {
		rec.Relationships = []extract.Relation{}
	}

	// Claims need identified entities to anchor on.
	if len(er.Entities) == 0 {
		return rec, nil
	}

	var claims *extract.ClaimResult
	err = r.withRetry(ctx, task.TaskID, func() error {
		var err error
		claims, err = r.llm.ExtractClaims(ctx, task.Content, er.Entities)
		return err
	})
	if err != nil {
		return nil, err
	}
	claims.Sanitize()
	if claims.Claims != nil {
		rec.Claims = claims.Claims
	}
	return rec, nil
}

// withRetry runs fn until it succeeds or its error stops being retryable.
func (r *ERClaimRunner) withRetry(ctx context.Context, taskID string, fn func() error) error {
	var lastErr error
	for attempt := range MaxRetries {
		lastErr = fn()
		if lastErr == nil || !IsRetryable(lastErr) || attempt == MaxRetries-1 {
			break
		}
		r.log.Warn("retryable extraction error", "task_id", taskID, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(r.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (r *ERClaimRunner) fail(ctx context.Context, taskID string) {
	if err := r.store.MarkTask(ctx, taskID, store.TaskFailed); err != nil {
		r.log.Error("mark failed failed", "task_id", taskID, "error", err)
	}
}
