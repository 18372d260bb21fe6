package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/TheTinkerJ/mine-fanren/internal/chunker"
	"github.com/TheTinkerJ/mine-fanren/internal/novel"
	"github.com/TheTinkerJ/mine-fanren/internal/store"
)

// Worker processes a single novel ingestion job.
type Worker struct {
	store     *store.Store
	extractor *chunker.Extractor
	log       *slog.Logger
}

func NewWorker(st *store.Store, ex *chunker.Extractor, log *slog.Logger) *Worker {
	return &Worker{
		store:     st,
		extractor: ex,
		log:       log,
	}
}

// Process runs the full ingest pipeline for a job: decode the uploaded
// file, split it into chapter chunks, and upsert every chunk. Re-ingesting
// a novel replaces chapter bodies in place.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "novel", job.Novel)

	// Phase 1: Load
	job.SetStatus(StatusLoading, "loading")
	rd, err := novel.ForFile(job.Filename)
	if err != nil {
		log.Error("unsupported format", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "loading")
		return
	}

	text, err := rd.Read(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("decode failed", "error", err)
		job.AddError(fmt.Sprintf("decode: %s", err))
		job.SetStatus(StatusFailed, "loading")
		return
	}
	job.SetContentHash(ContentHashHex([]byte(text)))

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	chunks, err := w.extractor.Extract(job.Novel, text)
	if err != nil {
		// Offset map inconsistencies abort the whole document.
		log.Error("chunking failed", "error", err)
		job.AddError(fmt.Sprintf("chunk: %s", err))
		job.SetStatus(StatusFailed, "chunking")
		return
	}
	if len(chunks) == 0 {
		log.Warn("no chapter headings found")
		job.AddError("no chapter headings found")
		job.SetStatus(StatusFailed, "chunking")
		return
	}

	empty := 0
	for i := range chunks {
		if chunks[i].Empty() {
			empty++
		}
	}
	job.SetTotalChunks(len(chunks), empty)
	log.Info("chunked novel", "chunks", len(chunks), "empty", empty)

	// Phase 3: Store. SQLite serializes writers, so chunks go in one by one.
	job.SetStatus(StatusStoring, "storing")
	hadErrors := false
	for i := range chunks {
		if err := w.store.UpsertChunk(ctx, &chunks[i]); err != nil {
			log.Error("store failed", "chapter", chunks[i].ChapterID, "error", err)
			job.AddError(fmt.Sprintf("chapter %d: %s", chunks[i].ChapterID, err))
			hadErrors = true
			continue
		}
		job.IncrChunksStored()
	}
	stored := job.Snapshot().Progress.ChunksStored
	log.Info("storage complete", "stored", stored, "total", len(chunks))

	// Phase 4: Queue enrichment tasks.
	for _, taskType := range job.Tasks() {
		n, err := w.store.GenerateTasks(ctx, job.Novel, taskType, false)
		if err != nil {
			log.Error("task generation failed", "task_type", taskType, "error", err)
			job.AddError(fmt.Sprintf("tasks %s: %s", taskType, err))
			hadErrors = true
			continue
		}
		job.AddTasksCreated(n)
	}

	if hadErrors && stored > 0 {
		job.SetStatus(StatusPartial, "done")
	} else if hadErrors {
		job.SetStatus(StatusFailed, "storing")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
}
