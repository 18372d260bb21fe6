package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/TheTinkerJ/mine-fanren/internal/chunker"
)

const chunkColumns = `chunk_id, novel_name, chapter_id, chapter_title,
	line_start, line_end, pos_start, pos_end, char_count, token_count, content`

func scanChunk(stmt *sqlite.Stmt) chunker.ChapterChunk {
	return chunker.ChapterChunk{
		ChunkID:      stmt.ColumnText(0),
		Novel:        stmt.ColumnText(1),
		ChapterID:    stmt.ColumnInt(2),
		ChapterTitle: stmt.ColumnText(3),
		LineStart:    stmt.ColumnInt(4),
		LineEnd:      stmt.ColumnInt(5),
		PosStart:     stmt.ColumnInt(6),
		PosEnd:       stmt.ColumnInt(7),
		CharCount:    stmt.ColumnInt(8),
		TokenCount:   stmt.ColumnInt(9),
		Content:      stmt.ColumnText(10),
	}
}

// InsertChunk stores a new chunk. It fails with ErrDuplicate when the
// chunk ID or the (novel, chapter) pair is already present.
func (s *Store) InsertChunk(ctx context.Context, c *chunker.ChapterChunk) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	ts := now()
	err = sqlitex.Execute(conn, `INSERT INTO chapter_chunks (`+chunkColumns+`, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?12)`,
		&sqlitex.ExecOptions{Args: []any{
			c.ChunkID, c.Novel, c.ChapterID, c.ChapterTitle,
			c.LineStart, c.LineEnd, c.PosStart, c.PosEnd,
			c.CharCount, c.TokenCount, c.Content, ts,
		}})
	if isConstraintViolation(err) {
		return fmt.Errorf("chunk %s (%s #%d): %w", c.ChunkID, c.Novel, c.ChapterID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("insert chunk %s: %w", c.ChunkID, err)
	}
	return nil
}

// UpsertChunk stores a chunk, replacing the row for the same
// (novel, chapter) pair if one exists. The existing row keeps its
// chunk ID and creation time so generated tasks stay attached.
func (s *Store) UpsertChunk(ctx context.Context, c *chunker.ChapterChunk) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	ts := now()
	err = sqlitex.Execute(conn, `INSERT INTO chapter_chunks (`+chunkColumns+`, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?12)
		ON CONFLICT (novel_name, chapter_id) DO UPDATE SET
			chapter_title = excluded.chapter_title,
			line_start    = excluded.line_start,
			line_end      = excluded.line_end,
			pos_start     = excluded.pos_start,
			pos_end       = excluded.pos_end,
			char_count    = excluded.char_count,
			token_count   = excluded.token_count,
			content       = excluded.content,
			updated_at    = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{
			c.ChunkID, c.Novel, c.ChapterID, c.ChapterTitle,
			c.LineStart, c.LineEnd, c.PosStart, c.PosEnd,
			c.CharCount, c.TokenCount, c.Content, ts,
		}})
	if err != nil {
		return fmt.Errorf("upsert chunk %s #%d: %w", c.Novel, c.ChapterID, err)
	}
	return nil
}

// GetChunk returns the chunk with the given ID, or ErrNotFound.
func (s *Store) GetChunk(ctx context.Context, chunkID string) (*chunker.ChapterChunk, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var found *chunker.ChapterChunk
	err = sqlitex.Execute(conn, `SELECT `+chunkColumns+` FROM chapter_chunks WHERE chunk_id = ?1`,
		&sqlitex.ExecOptions{
			Args: []any{chunkID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c := scanChunk(stmt)
				found = &c
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("get chunk %s: %w", chunkID, err)
	}
	if found == nil {
		return nil, fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return found, nil
}

// GetChapter returns the chunk for one chapter of a novel, or ErrNotFound.
func (s *Store) GetChapter(ctx context.Context, novel string, chapterID int) (*chunker.ChapterChunk, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var found *chunker.ChapterChunk
	err = sqlitex.Execute(conn, `SELECT `+chunkColumns+` FROM chapter_chunks
		WHERE novel_name = ?1 AND chapter_id = ?2`,
		&sqlitex.ExecOptions{
			Args: []any{novel, chapterID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				c := scanChunk(stmt)
				found = &c
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("get chapter %s #%d: %w", novel, chapterID, err)
	}
	if found == nil {
		return nil, fmt.Errorf("chapter %s #%d: %w", novel, chapterID, ErrNotFound)
	}
	return found, nil
}

// ListChunks returns every chunk of a novel ordered by chapter number.
func (s *Store) ListChunks(ctx context.Context, novel string) ([]chunker.ChapterChunk, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var chunks []chunker.ChapterChunk
	err = sqlitex.Execute(conn, `SELECT `+chunkColumns+` FROM chapter_chunks
		WHERE novel_name = ?1 ORDER BY chapter_id`,
		&sqlitex.ExecOptions{
			Args: []any{novel},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				chunks = append(chunks, scanChunk(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("list chunks for %s: %w", novel, err)
	}
	return chunks, nil
}

// ListNovels returns the distinct novel names present in the store.
func (s *Store) ListNovels(ctx context.Context) ([]string, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var novels []string
	err = sqlitex.Execute(conn, `SELECT DISTINCT novel_name FROM chapter_chunks ORDER BY novel_name`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			novels = append(novels, stmt.ColumnText(0))
			return nil
		}})
	if err != nil {
		return nil, fmt.Errorf("list novels: %w", err)
	}
	return novels, nil
}

// DeleteChunk removes a single chunk and its tasks.
func (s *Store) DeleteChunk(ctx context.Context, chunkID string) (err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	err = sqlitex.Execute(conn, `DELETE FROM chunk_tasks WHERE chunk_id = ?1`,
		&sqlitex.ExecOptions{Args: []any{chunkID}})
	if err != nil {
		return fmt.Errorf("delete tasks for chunk %s: %w", chunkID, err)
	}
	err = sqlitex.Execute(conn, `DELETE FROM chapter_chunks WHERE chunk_id = ?1`,
		&sqlitex.ExecOptions{Args: []any{chunkID}})
	if err != nil {
		return fmt.Errorf("delete chunk %s: %w", chunkID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	return nil
}

// DeleteNovel removes every chunk of a novel together with their tasks.
// It returns the number of chunks removed.
func (s *Store) DeleteNovel(ctx context.Context, novel string) (n int, err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)

	err = sqlitex.Execute(conn, `DELETE FROM chunk_tasks WHERE chunk_id IN
		(SELECT chunk_id FROM chapter_chunks WHERE novel_name = ?1)`,
		&sqlitex.ExecOptions{Args: []any{novel}})
	if err != nil {
		return 0, fmt.Errorf("delete tasks for %s: %w", novel, err)
	}
	err = sqlitex.Execute(conn, `DELETE FROM chapter_chunks WHERE novel_name = ?1`,
		&sqlitex.ExecOptions{Args: []any{novel}})
	if err != nil {
		return 0, fmt.Errorf("delete chunks for %s: %w", novel, err)
	}
	return conn.Changes(), nil
}

// NovelStats summarizes the stored chunks of one novel.
type NovelStats struct {
	Novel       string `json:"novel_name"`
	Chunks      int    `json:"chunk_count"`
	EmptyChunks int    `json:"empty_chunks"`
	MinChapter  int    `json:"min_chapter"`
	MaxChapter  int    `json:"max_chapter"`
	TotalChars  int64  `json:"total_chars"`
	TotalTokens int64  `json:"total_tokens"`
}

// Stats aggregates chunk counts and sizes for a novel, or returns
// ErrNotFound when the novel has no chunks at all.
func (s *Store) Stats(ctx context.Context, novel string) (*NovelStats, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	stats := &NovelStats{Novel: novel}
	err = sqlitex.Execute(conn, `SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN char_count = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(MIN(chapter_id), 0),
			COALESCE(MAX(chapter_id), 0),
			COALESCE(SUM(char_count), 0),
			COALESCE(SUM(token_count), 0)
		FROM chapter_chunks WHERE novel_name = ?1`,
		&sqlitex.ExecOptions{
			Args: []any{novel},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				stats.Chunks = stmt.ColumnInt(0)
				stats.EmptyChunks = stmt.ColumnInt(1)
				stats.MinChapter = stmt.ColumnInt(2)
				stats.MaxChapter = stmt.ColumnInt(3)
				stats.TotalChars = stmt.ColumnInt64(4)
				stats.TotalTokens = stmt.ColumnInt64(5)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("stats for %s: %w", novel, err)
	}
	if stats.Chunks == 0 {
		return nil, fmt.Errorf("novel %s: %w", novel, ErrNotFound)
	}
	return stats, nil
}
