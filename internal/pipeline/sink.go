package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/TheTinkerJ/mine-fanren/internal/extract"
)

// ExtractionRecord is one chunk's extraction output, written as a JSON line.
type ExtractionRecord struct {
	ChunkID       string             `json:"chunk_id"`
	Novel         string             `json:"novel"`
	ChapterID     int                `json:"chapter_id"`
	ChapterTitle  string             `json:"chapter_title"`
	Entities      []extract.Entity   `json:"entities"`
	Relationships []extract.Relation `json:"relationships"`
	Claims        []extract.Claim    `json:"claims"`
	ExtractedAt   string             `json:"extracted_at"`
}

// Sink appends extraction records to a JSONL file. Safe for concurrent use.
type Sink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// OpenSink opens path for appending, creating it if needed.
func OpenSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results sink: %w", err)
	}
	return &Sink{f: f, enc: json.NewEncoder(f)}, nil
}

// Write appends one record.
func (s *Sink) Write(rec *ExtractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write extraction record: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.f.Close()
}
