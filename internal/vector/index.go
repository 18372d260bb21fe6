// Package vector maintains a persistent embedding index over chapter
// chunks, one collection per novel.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"github.com/TheTinkerJ/mine-fanren/internal/chunker"
)

const defaultSearchK = 5

// Config holds the index location and the embedding endpoint settings.
type Config struct {
	// Path is the directory the index persists into.
	Path     string
	Compress bool

	// OpenAI-compatible embeddings endpoint.
	BaseURL string
	APIKey  string
	Model   string

	// Embedding overrides the endpoint above with a local embedding
	// function when set.
	Embedding chromem.EmbeddingFunc
}

// Index wraps the vector database.
type Index struct {
	db        *chromem.DB
	embedding chromem.EmbeddingFunc
	log       *slog.Logger
}

// Open opens (creating if necessary) the persistent index at cfg.Path.
func Open(cfg Config, log *slog.Logger) (*Index, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("open vector db %s: %w", cfg.Path, err)
	}
	embedding := cfg.Embedding
	if embedding == nil {
		embedding = chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, nil)
	}
	return &Index{db: db, embedding: embedding, log: log}, nil
}

func collectionName(novel string) string {
	return "novel:" + novel
}

func (ix *Index) collection(novel string) (*chromem.Collection, error) {
	coll, err := ix.db.GetOrCreateCollection(collectionName(novel), map[string]string{"novel": novel}, ix.embedding)
	if err != nil {
		return nil, fmt.Errorf("open collection for %s: %w", novel, err)
	}
	return coll, nil
}

// AddChunks embeds the non-empty chunks and stores them in the novel's
// collection, replacing documents with the same chunk ID.
func (ix *Index) AddChunks(ctx context.Context, novel string, chunks []chunker.ChapterChunk) (int, error) {
	coll, err := ix.collection(novel)
	if err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		if c.Empty() {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:      c.ChunkID,
			Content: c.Content,
			Metadata: map[string]string{
				"novel":         c.Novel,
				"chapter_id":    strconv.Itoa(c.ChapterID),
				"chapter_title": c.ChapterTitle,
			},
		})
	}
	if len(docs) == 0 {
		return 0, nil
	}

	if err := coll.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("index %d chunks of %s: %w", len(docs), novel, err)
	}
	ix.log.Info("chunks indexed", "novel", novel, "count", len(docs))
	return len(docs), nil
}

// SearchHit is one retrieved chunk with its similarity to the query.
type SearchHit struct {
	ChunkID      string  `json:"chunk_id"`
	ChapterID    int     `json:"chapter_id"`
	ChapterTitle string  `json:"chapter_title"`
	Similarity   float32 `json:"similarity"`
	Content      string  `json:"content"`
}

// Search returns the k most similar chunks of a novel, best first.
func (ix *Index) Search(ctx context.Context, novel, query string, k int) ([]SearchHit, error) {
	coll, err := ix.collection(novel)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = defaultSearchK
	}
	if n := coll.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}

	results, err := coll.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", novel, err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		chapterID, _ := strconv.Atoi(r.Metadata["chapter_id"])
		hits = append(hits, SearchHit{
			ChunkID:      r.ID,
			ChapterID:    chapterID,
			ChapterTitle: r.Metadata["chapter_title"],
			Similarity:   r.Similarity,
			Content:      r.Content,
		})
	}
	return hits, nil
}

// Count reports how many chunks of a novel are indexed.
func (ix *Index) Count(novel string) (int, error) {
	coll, err := ix.collection(novel)
	if err != nil {
		return 0, err
	}
	return coll.Count(), nil
}

// DeleteNovel drops a novel's collection entirely.
func (ix *Index) DeleteNovel(novel string) error {
	if err := ix.db.DeleteCollection(collectionName(novel)); err != nil {
		return fmt.Errorf("delete collection for %s: %w", novel, err)
	}
	return nil
}
