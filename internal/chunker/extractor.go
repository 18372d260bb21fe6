package chunker

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultMinTitleLen is the minimum trimmed length (in runes) for a line to
// be considered a heading candidate. Real headings carry a name after the
// numeral; anything shorter is body text.
const DefaultMinTitleLen = 5

// Extractor splits raw novel text into per-chapter chunks. Extraction is
// deterministic for a given rule set except for chunk IDs, and an Extractor
// is safe for concurrent use as long as its injected collaborators are.
type Extractor struct {
	patterns    []TitlePattern
	excludes    []ExcludeRule
	minTitleLen int
	countTokens func(string) int
	newID       func() string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithPatterns replaces the heading rule set. Order matters: patterns are
// tried most specific first and the first match wins.
func WithPatterns(ps []TitlePattern) Option {
	return func(e *Extractor) { e.patterns = ps }
}

// WithExcludeRules sets the ordered exclusion rule set.
func WithExcludeRules(rs []ExcludeRule) Option {
	return func(e *Extractor) { e.excludes = rs }
}

// WithMinTitleLen overrides the minimum heading candidate length.
func WithMinTitleLen(n int) Option {
	return func(e *Extractor) { e.minTitleLen = n }
}

// WithTokenCounter injects the token counter applied to each chunk body.
// Without one every chunk reports zero tokens.
func WithTokenCounter(f func(string) int) Option {
	return func(e *Extractor) { e.countTokens = f }
}

// WithIDGenerator injects the chunk ID source.
func WithIDGenerator(f func() string) Option {
	return func(e *Extractor) { e.newID = f }
}

// New builds an Extractor with the default heading patterns, no exclusion
// rules, and UUID-hex chunk IDs.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		patterns:    DefaultTitlePatterns(),
		minTitleLen: DefaultMinTitleLen,
		countTokens: func(string) int { return 0 },
		newID:       NewChunkID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract scans raw and returns one chunk per accepted chapter heading, in
// document order. Bodies never overlap and reconstruct exactly from
// raw[PosStart:PosEnd]. An empty document or a document without headings
// returns an empty slice and no error; the only error condition is an
// inconsistent offset map, which aborts the whole document.
func (e *Extractor) Extract(novel, raw string) ([]ChapterChunk, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	lines := strings.Split(raw, "\n")
	offsets, err := lineOffsets(lines, len(raw))
	if err != nil {
		return nil, err
	}

	marks := slices.Collect(e.Titles(lines))
	if len(marks) == 0 {
		return nil, nil
	}

	chunks := make([]ChapterChunk, 0, len(marks))
	for k, m := range marks {
		nextLine := len(lines)
		if k+1 < len(marks) {
			nextLine = marks[k+1].Line
		}
		c, err := e.buildChunk(novel, raw, lines, offsets, m, nextLine)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// buildChunk assembles the chunk for mark m, whose body runs up to (not
// including) nextLine.
func (e *Extractor) buildChunk(novel, raw string, lines []string, offsets []int, m TitleMark, nextLine int) (ChapterChunk, error) {
	bodyStart := m.Line + 1
	bodyEnd := nextLine - 1

	var content string
	if bodyStart <= bodyEnd {
		content = strings.Join(lines[bodyStart:bodyEnd+1], "\n")
	}

	// An empty body that starts past the last line pins to end of document.
	posStart := len(raw)
	if bodyStart < len(offsets) {
		posStart = offsets[bodyStart]
	}
	posEnd := posStart + len(content)

	c := ChapterChunk{
		ChunkID:      e.newID(),
		Novel:        novel,
		ChapterID:    m.Chapter,
		ChapterTitle: m.Title,
		LineStart:    bodyStart,
		LineEnd:      bodyEnd,
		PosStart:     posStart,
		PosEnd:       posEnd,
		CharCount:    len(content),
		Content:      content,
	}
	if content != "" {
		c.TokenCount = e.countTokens(content)
	}

	if err := c.Validate(); err != nil {
		return ChapterChunk{}, fmt.Errorf("chapter %d at line %d: %w", m.Chapter, m.Line, err)
	}
	if posEnd > len(raw) || raw[posStart:posEnd] != content {
		return ChapterChunk{}, fmt.Errorf("chapter %d at line %d: %w", m.Chapter, m.Line, ErrOffsetMap)
	}
	return c, nil
}

// lineOffsets returns the byte offset of each line's start in the original
// string, computed in one linear pass. Lines are assumed to be terminated by
// a single '\n'; the closing check fails with ErrOffsetMap if the index does
// not cover the source exactly.
func lineOffsets(lines []string, rawLen int) ([]int, error) {
	offsets := make([]int, len(lines))
	pos := 0
	for i, line := range lines {
		offsets[i] = pos
		pos += len(line) + 1
	}
	if pos-1 != rawLen {
		return nil, fmt.Errorf("line index covers %d bytes, source has %d: %w", pos-1, rawLen, ErrOffsetMap)
	}
	return offsets, nil
}
