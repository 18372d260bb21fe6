package chunker

import (
	"iter"
	"strings"
	"unicode/utf8"
)

// TitleMark is one accepted chapter heading.
type TitleMark struct {
	Line    int    // 0-based line index in the document
	Title   string // trimmed heading text
	Chapter int    // parsed chapter numeral
	Pattern string // name of the TitlePattern that matched
}

// Titles returns a lazy scan over lines; restarting the loop rescans from
// the first line. Lines shorter than the minimum title length, lines hit by
// an exclusion rule, and candidates whose numeral fails to parse are all
// skipped without error.
func (e *Extractor) Titles(lines []string) iter.Seq[TitleMark] {
	return func(yield func(TitleMark) bool) {
		for i, line := range lines {
			mark, ok := e.matchTitle(i, line)
			if !ok {
				continue
			}
			if !yield(mark) {
				return
			}
		}
	}
}

func (e *Extractor) matchTitle(i int, line string) (TitleMark, bool) {
	trimmed := strings.TrimSpace(line)
	if utf8.RuneCountInString(trimmed) < e.minTitleLen {
		return TitleMark{}, false
	}
	for _, ex := range e.excludes {
		if ex.Expr.MatchString(trimmed) {
			return TitleMark{}, false
		}
	}
	for _, p := range e.patterns {
		m := p.Expr.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		// First matching pattern wins; a bad numeral rejects the whole
		// line rather than falling through to a looser pattern.
		if p.Numeral <= 0 || p.Numeral >= len(m) {
			return TitleMark{}, false
		}
		n, err := ParseNumeral(m[p.Numeral])
		if err != nil {
			return TitleMark{}, false
		}
		return TitleMark{Line: i, Title: trimmed, Chapter: n, Pattern: p.Name}, true
	}
	return TitleMark{}, false
}
