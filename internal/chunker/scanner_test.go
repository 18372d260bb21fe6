package chunker

import (
	"regexp"
	"strings"
	"testing"
)

func scanAll(e *Extractor, text string) []TitleMark {
	var marks []TitleMark
	for m := range e.Titles(strings.Split(text, "\n")) {
		marks = append(marks, m)
	}
	return marks
}

func TestTitles_BareChapterHeading(t *testing.T) {
	e := New()
	marks := scanAll(e, "第一章 初入青牛镇\n少年韩立走在路上。\n第二章 七玄门试炼\n入门第一关。")

	if len(marks) != 2 {
		t.Fatalf("expected 2 marks, got %d", len(marks))
	}
	if marks[0].Chapter != 1 || marks[0].Line != 0 {
		t.Errorf("mark 0: got chapter %d line %d", marks[0].Chapter, marks[0].Line)
	}
	if marks[0].Title != "第一章 初入青牛镇" {
		t.Errorf("mark 0 title: got %q", marks[0].Title)
	}
	if marks[0].Pattern != "chapter" {
		t.Errorf("mark 0 pattern: got %q, want chapter", marks[0].Pattern)
	}
	if marks[1].Chapter != 2 || marks[1].Line != 2 {
		t.Errorf("mark 1: got chapter %d line %d", marks[1].Chapter, marks[1].Line)
	}
}

func TestTitles_VolumeChapterWinsAndKeepsChapterNumeral(t *testing.T) {
	e := New()
	marks := scanAll(e, "第七卷 纵横人界 第一千一百三十章 灵界来客\n韩立眉头一皱。")

	if len(marks) != 1 {
		t.Fatalf("expected 1 mark, got %d", len(marks))
	}
	if marks[0].Pattern != "volume_chapter" {
		t.Errorf("pattern: got %q, want volume_chapter", marks[0].Pattern)
	}
	if marks[0].Chapter != 1130 {
		t.Errorf("chapter: got %d, want 1130 (volume numeral must be discarded)", marks[0].Chapter)
	}
}

func TestTitles_PatternOrderIsFirstMatchWins(t *testing.T) {
	// Two overlapping rules: the line satisfies both, the first listed must
	// claim it.
	overlapping := []TitlePattern{
		{Name: "spaced", Expr: regexp.MustCompile(`^第(` + numeralClass + `)章\s`), Numeral: 1},
		{Name: "bare", Expr: regexp.MustCompile(`^第(` + numeralClass + `)章`), Numeral: 1},
	}
	e := New(WithPatterns(overlapping))
	marks := scanAll(e, "第三章 雷霆手段\n正文。")

	if len(marks) != 1 {
		t.Fatalf("expected 1 mark, got %d", len(marks))
	}
	if marks[0].Pattern != "spaced" {
		t.Errorf("pattern: got %q, want spaced (listed first)", marks[0].Pattern)
	}
	if marks[0].Chapter != 3 {
		t.Errorf("chapter: got %d, want 3", marks[0].Chapter)
	}
}

func TestTitles_ShortLinesSkipped(t *testing.T) {
	e := New()
	marks := scanAll(e, "第五章\n正文不是标题，这里是叙述。\n第六章 再战群雄")

	if len(marks) != 1 {
		t.Fatalf("expected 1 mark (短标题 skipped), got %d", len(marks))
	}
	if marks[0].Chapter != 6 {
		t.Errorf("chapter: got %d, want 6", marks[0].Chapter)
	}

	lenient := New(WithMinTitleLen(3))
	marks = scanAll(lenient, "第五章\n正文。")
	if len(marks) != 1 || marks[0].Chapter != 5 {
		t.Fatalf("with min length 3 expected chapter 5, got %+v", marks)
	}
}

func TestTitles_DialogueExclusionRejectsQuotedLine(t *testing.T) {
	line := "第五章里他笑着说道：\"好的\""

	plain := New()
	if marks := scanAll(plain, line); len(marks) != 1 {
		t.Fatalf("without exclusions expected the quoted line to match, got %d marks", len(marks))
	}

	e := New(WithExcludeRules([]ExcludeRule{DialogueRule()}))
	if marks := scanAll(e, line); len(marks) != 0 {
		t.Fatalf("with dialogue rule expected 0 marks, got %d", len(marks))
	}
}

func TestTitles_NarrationExclusionRejectsSpeechLine(t *testing.T) {
	e := New(WithExcludeRules([]ExcludeRule{NarrationRule()}))
	text := "第五章说道这里还有很长的一段叙述文字\n第六章 正经标题"
	marks := scanAll(e, text)

	if len(marks) != 1 {
		t.Fatalf("expected 1 mark, got %d", len(marks))
	}
	if marks[0].Chapter != 6 {
		t.Errorf("chapter: got %d, want 6", marks[0].Chapter)
	}
}

func TestTitles_LongLineExclusion(t *testing.T) {
	e := New(WithExcludeRules([]ExcludeRule{LongLineRule(20)}))
	long := "第九章" + strings.Repeat("很长", 20)
	marks := scanAll(e, long+"\n第十章 短标题在此")

	if len(marks) != 1 {
		t.Fatalf("expected 1 mark, got %d", len(marks))
	}
	if marks[0].Chapter != 10 {
		t.Errorf("chapter: got %d, want 10", marks[0].Chapter)
	}
}

func TestTitles_MalformedNumeralSkipsLine(t *testing.T) {
	// 一1 is inside the numeral class but parses as neither Arabic nor
	// Chinese; the line must be skipped, not abort the scan.
	e := New()
	marks := scanAll(e, "第一1章 混合数字\n第二章 正常标题")

	if len(marks) != 1 {
		t.Fatalf("expected 1 mark, got %d", len(marks))
	}
	if marks[0].Chapter != 2 {
		t.Errorf("chapter: got %d, want 2", marks[0].Chapter)
	}
}

func TestTitles_SequenceIsRestartable(t *testing.T) {
	e := New()
	lines := strings.Split("第一章 开端之卷\n正文。\n第二章 承接之卷\n正文。", "\n")
	seq := e.Titles(lines)

	var first []TitleMark
	for m := range seq {
		first = append(first, m)
	}
	var second []TitleMark
	for m := range seq {
		second = append(second, m)
	}

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 marks on both passes, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("pass mismatch at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestTitles_EarlyBreakStopsScan(t *testing.T) {
	e := New()
	lines := strings.Split("第一章 开端之卷\n第二章 承接之卷\n第三章 收束之卷", "\n")

	var got []TitleMark
	for m := range e.Titles(lines) {
		got = append(got, m)
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected early break after 2 marks, got %d", len(got))
	}
}
