package chunker

import (
	"fmt"
	"regexp"
)

// numeralClass matches one chapter or volume numeral, Chinese or Arabic.
const numeralClass = `[零一二三四五六七八九十百千万两\d]+`

// TitlePattern is one recognizer in the ordered heading rule set. Patterns
// are plain data: callers may supply their own list to match a different
// corpus. Expr must be anchored at line start; Numeral is the index of the
// capture group holding the chapter numeral.
type TitlePattern struct {
	Name    string
	Expr    *regexp.Regexp
	Numeral int
}

// DefaultTitlePatterns returns the built-in rule set, most specific first:
// a combined volume+chapter heading (the volume numeral is discarded), then
// a bare chapter heading. The first pattern that matches a line wins.
func DefaultTitlePatterns() []TitlePattern {
	return []TitlePattern{
		{
			Name:    "volume_chapter",
			Expr:    regexp.MustCompile(`^第(` + numeralClass + `)卷.*第(` + numeralClass + `)章`),
			Numeral: 2,
		},
		{
			Name:    "chapter",
			Expr:    regexp.MustCompile(`^第(` + numeralClass + `)章`),
			Numeral: 1,
		},
	}
}

// ExcludeRule rejects a line as a heading candidate before the title
// patterns are consulted. Rules run in order; any match rejects the line.
type ExcludeRule struct {
	Name string
	Expr *regexp.Regexp
}

// No exclusion rules are active by default. The constructors below cover the
// false-positive shapes that show up in practice; deployments opt in per
// corpus.

// DialogueRule rejects lines carrying a quoted utterance, such as a heading
// numeral quoted inside speech.
func DialogueRule() ExcludeRule {
	return ExcludeRule{
		Name: "dialogue",
		Expr: regexp.MustCompile(`.*["“”「『].*["“”」』].*`),
	}
}

// NarrationRule rejects lines where a speech verb is followed by running
// prose, a strong signal the line is body text and not a heading.
func NarrationRule() ExcludeRule {
	return ExcludeRule{
		Name: "narration",
		Expr: regexp.MustCompile(`.*(说道|回答道|喊道|想到).{5,}.*`),
	}
}

// LongLineRule rejects trimmed lines of n or more runes; real headings are
// short.
func LongLineRule(n int) ExcludeRule {
	return ExcludeRule{
		Name: "long-line",
		Expr: regexp.MustCompile(fmt.Sprintf(`.{%d,}`, n)),
	}
}
