package pipeline

import (
	"context"
	"log/slog"

	"github.com/TheTinkerJ/mine-fanren/internal/chunker"
	"github.com/TheTinkerJ/mine-fanren/internal/store"
	"github.com/TheTinkerJ/mine-fanren/internal/vector"
)

// EmbedRunner drains pending embedding tasks into the vector index, one
// batch per novel.
type EmbedRunner struct {
	store *store.Store
	index *vector.Index
	log   *slog.Logger
}

func NewEmbedRunner(st *store.Store, ix *vector.Index, log *slog.Logger) *EmbedRunner {
	return &EmbedRunner{store: st, index: ix, log: log}
}

// Run processes up to limit pending tasks (all of them when limit <= 0).
// A batch fails or succeeds as a unit.
func (r *EmbedRunner) Run(ctx context.Context, limit int) (RunSummary, error) {
	tasks, err := r.store.PendingTasks(ctx, store.TaskEmbedding, limit)
	if err != nil {
		return RunSummary{}, err
	}
	if len(tasks) == 0 {
		return RunSummary{}, nil
	}

	var summary RunSummary
	for _, group := range groupByNovel(tasks) {
		r.runBatch(ctx, group, &summary)
	}
	r.log.Info("embedding pass complete", "done", summary.Done, "failed", summary.Failed)
	return summary, nil
}

func (r *EmbedRunner) runBatch(ctx context.Context, group novelGroup, summary *RunSummary) {
	log := r.log.With("novel", group.novel, "tasks", len(group.tasks))

	chunks := make([]chunker.ChapterChunk, 0, len(group.tasks))
	for _, t := range group.tasks {
		r.mark(ctx, t.TaskID, store.TaskRunning)
		chunks = append(chunks, chunker.ChapterChunk{
			ChunkID:      t.ChunkID,
			Novel:        t.Novel,
			ChapterID:    t.ChapterID,
			ChapterTitle: t.ChapterTitle,
			CharCount:    len(t.Content),
			Content:      t.Content,
		})
	}

	status := store.TaskDone
	if _, err := r.index.AddChunks(ctx, group.novel, chunks); err != nil {
		log.Error("indexing failed", "error", err)
		status = store.TaskFailed
	}
	for _, t := range group.tasks {
		r.mark(ctx, t.TaskID, status)
	}
	if status == store.TaskDone {
		summary.Done += len(group.tasks)
	} else {
		summary.Failed += len(group.tasks)
	}
}

func (r *EmbedRunner) mark(ctx context.Context, taskID, status string) {
	if err := r.store.MarkTask(ctx, taskID, status); err != nil {
		r.log.Error("mark task failed", "task_id", taskID, "status", status, "error", err)
	}
}

type novelGroup struct {
	novel string
	tasks []store.PendingTask
}

// groupByNovel splits tasks into per-novel runs. Pending tasks arrive
// ordered by novel, so contiguous grouping is enough.
func groupByNovel(tasks []store.PendingTask) []novelGroup {
	var groups []novelGroup
	for _, t := range tasks {
		if len(groups) == 0 || groups[len(groups)-1].novel != t.Novel {
			groups = append(groups, novelGroup{novel: t.Novel})
		}
		g := &groups[len(groups)-1]
		g.tasks = append(g.tasks, t)
	}
	return groups
}
