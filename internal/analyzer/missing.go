// Package analyzer finds chapters a novel's chunk list is missing and,
// with a language model's help, judges whether each hole is a real gap
// in the source text or a heading the scanner failed to recognize.
package analyzer

import (
	"github.com/TheTinkerJ/mine-fanren/internal/chunker"
)

// Gap kinds.
const (
	// GapEmpty marks a chapter whose heading matched but whose body is empty.
	GapEmpty = "empty"
	// GapAbsent marks a chapter number that never appears between its neighbors.
	GapAbsent = "absent"
)

// Gap is one suspected missing chapter together with the nearest
// non-empty chunks around it. Prev is nil at the start of the novel,
// Next at the end.
type Gap struct {
	ChapterID int                   `json:"chapter_id"`
	Kind      string                `json:"kind"`
	Prev      *chunker.ChapterChunk `json:"-"`
	Next      *chunker.ChapterChunk `json:"-"`

	PrevChapter int `json:"prev_chapter,omitempty"`
	NextChapter int `json:"next_chapter,omitempty"`
}

// Absent chapter runs are capped so runaway numbering from a single
// misread heading cannot flood the report.
const maxGapRun = 200

// FindGaps scans chunks in their given order (ascending chapter number
// for stored novels) and reports empty chunks plus chapter numbers that
// are skipped entirely.
func FindGaps(chunks []chunker.ChapterChunk) []Gap {
	n := len(chunks)
	if n == 0 {
		return nil
	}

	// Nearest non-empty chunk strictly before/after each index.
	prevIdx := make([]int, n)
	nextIdx := make([]int, n)
	last := -1
	for i := range chunks {
		prevIdx[i] = last
		if !chunks[i].Empty() {
			last = i
		}
	}
	last = -1
	for i := n - 1; i >= 0; i-- {
		nextIdx[i] = last
		if !chunks[i].Empty() {
			last = i
		}
	}
	at := func(idx int) *chunker.ChapterChunk {
		if idx < 0 {
			return nil
		}
		return &chunks[idx]
	}

	var gaps []Gap
	for i := range chunks {
		if chunks[i].Empty() {
			gaps = append(gaps, newGap(chunks[i].ChapterID, GapEmpty, at(prevIdx[i]), at(nextIdx[i])))
		}
		if i+1 >= n {
			continue
		}
		lo, hi := chunks[i].ChapterID, chunks[i+1].ChapterID
		if hi-lo <= 1 {
			continue
		}
		pi := i
		if chunks[i].Empty() {
			pi = prevIdx[i]
		}
		ni := i + 1
		if chunks[i+1].Empty() {
			ni = nextIdx[i+1]
		}
		run := hi - lo - 1
		if run > maxGapRun {
			run = maxGapRun
		}
		for k := 1; k <= run; k++ {
			gaps = append(gaps, newGap(lo+k, GapAbsent, at(pi), at(ni)))
		}
	}
	return gaps
}

func newGap(chapterID int, kind string, prev, next *chunker.ChapterChunk) Gap {
	g := Gap{ChapterID: chapterID, Kind: kind, Prev: prev, Next: next}
	if prev != nil {
		g.PrevChapter = prev.ChapterID
	}
	if next != nil {
		g.NextChapter = next.ChapterID
	}
	return g
}
