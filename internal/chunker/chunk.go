package chunker

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrOffsetMap reports a disagreement between the line offset index and the
// source text. It aborts the whole extraction and must never be downgraded
// to a skipped chunk.
var ErrOffsetMap = errors.New("offset map inconsistent with source text")

// ChapterChunk is one chapter of a novel plus its location in the source
// document. Offsets and counts are byte based: Content is exactly
// raw[PosStart:PosEnd] of the document string it was extracted from, and
// CharCount == PosEnd-PosStart. Line indexes are 0-based and inclusive;
// an empty body has LineEnd < LineStart and zero counts.
type ChapterChunk struct {
	ChunkID      string `json:"chunk_id"`
	Novel        string `json:"novel_name"`
	ChapterID    int    `json:"chapter_id"`
	ChapterTitle string `json:"chapter_title"`
	LineStart    int    `json:"line_start"`
	LineEnd      int    `json:"line_end"`
	PosStart     int    `json:"pos_start"`
	PosEnd       int    `json:"pos_end"`
	CharCount    int    `json:"char_count"`
	TokenCount   int    `json:"token_count"`
	Content      string `json:"content"`
}

// Validate checks the chunk's internal consistency.
func (c ChapterChunk) Validate() error {
	if c.ChunkID == "" {
		return fmt.Errorf("empty chunk id")
	}
	if c.Novel == "" {
		return fmt.Errorf("empty novel name")
	}
	if c.ChapterID < 0 {
		return fmt.Errorf("negative chapter id %d", c.ChapterID)
	}
	if c.ChapterTitle == "" {
		return fmt.Errorf("empty chapter title")
	}
	if c.LineStart < 0 || c.PosStart < 0 {
		return fmt.Errorf("negative body position (line %d, pos %d)", c.LineStart, c.PosStart)
	}
	if c.PosEnd-c.PosStart != len(c.Content) {
		return fmt.Errorf("pos span %d != content length %d", c.PosEnd-c.PosStart, len(c.Content))
	}
	if c.CharCount != len(c.Content) {
		return fmt.Errorf("char count %d != content length %d", c.CharCount, len(c.Content))
	}
	if c.Content != "" && c.LineEnd < c.LineStart {
		return fmt.Errorf("non-empty body with inverted line range [%d,%d]", c.LineStart, c.LineEnd)
	}
	return nil
}

// Empty reports whether the chunk has no body text (adjacent headings, or a
// heading on the document's last line).
func (c ChapterChunk) Empty() bool {
	return c.Content == ""
}

// NewChunkID returns a 32-character lowercase hex UUID.
func NewChunkID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
