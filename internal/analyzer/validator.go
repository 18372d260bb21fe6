package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Validation verdicts.
const (
	VerdictMissing    = "MISSING"
	VerdictFoundTitle = "FOUND_TITLE"
	VerdictNotMissing = "NOT_MISSING"
	VerdictUnclear    = "UNCLEAR"
)

// Verdict is the model's judgement of one gap.
type Verdict struct {
	ChapterID  int    `json:"chapter_id"`
	Result     string `json:"result"`
	Confidence int    `json:"confidence"`
	Analysis   string `json:"analysis"`
	// FoundTitle is a ready-made pattern override line, set only for
	// FOUND_TITLE results: "标题文本": (N, "volume_chapter").
	FoundTitle string `json:"found_title,omitempty"`
}

// Completer is the slice of the extraction client the validator needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const validationPrompt = `-Goal-
给定前后章节的文本内容，判断目标章节是否真的缺失内容，或者章节标题是否被错误识别。

-Steps-
1. 仔细分析前一章和后一章的内容：
   - 前一章：第{prev_chapter}章 {prev_title}
   - 目标章节：第{target_chapter}章（需要验证）
   - 后一章：第{next_chapter}章 {next_title}

2. 评估以下几个方面：
   - 前一章结尾是否正常，是否暗示了下一章的内容
   - 后一章开头是否与前一章节内容连贯
   - 前后章节之间是否存在明显的内容跳跃
   - 是否存在章节标题但内容为空的情况

3. 检查前一章内容中是否可能包含目标章节的标题：
   - 搜索包含"{target_chapter}"的文本
   - 识别可能的章节标题变体（如"第{target_chapter}章"的错别字或格式变化）
   - 检查是否有被误认为正文内容的章节标题

4. 判断结果分类：
   - MISSING: 章节确实缺失，前一章标题正确，需要为第{target_chapter}章找到正确的标题
   - FOUND_TITLE: 找到了第{target_chapter}章的标题，但内容被错误识别为空
   - NOT_MISSING: 章节没有缺失，前后章节内容连贯
   - UNCLEAR: 信息不足，无法确定

-Output Format-
输出格式如下：

判断结果: [MISSING/FOUND_TITLE/NOT_MISSING/UNCLEAR]

置信度: [1-10分]

详细分析:
[详细说明判断依据]

如果为FOUND_TITLE，请输出：
找到的标题: "标题文本" ({target_chapter}, "volume_chapter")

-Examples-
Example 1:
前一章: 第15章 激战之后
目标章节: 第16章
后一章: 第17章 新的开始
Output:
判断结果: MISSING
置信度: 9
详细分析: 前一章结尾正常结束，后一章明显是新开始的内容，中间缺少了第16章的内容。

Example 2:
前一章: 第20章 决战准备
目标章节: 第21章
后一章: 第22章 胜利归来
Output:
判断结果: FOUND_TITLE
置信度: 8
详细分析: 在前一章内容中发现了"第21章最终决战"的标题，但被错误识别为正文内容。
找到的标题: "第21章最终决战" (21, "volume_chapter")

-Real Data-
前一章标题: 第{prev_chapter}章 {prev_title}
前一章内容:
{prev_content}

目标章节: 第{target_chapter}章

后一章标题: 第{next_chapter}章 {next_title}
后一章内容:
{next_content}

Output:`

// Neighbor content beyond this many runes is shortened around the middle;
// the ends are what the model reasons about.
const defaultNeighborRunes = 6000

// Validator asks a model whether suspected gaps are real.
type Validator struct {
	llm           Completer
	log           *slog.Logger
	neighborRunes int
}

func NewValidator(llm Completer, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{llm: llm, log: log, neighborRunes: defaultNeighborRunes}
}

// Validate judges a single gap. Gaps without both neighbors come back
// UNCLEAR with confidence 0 and no model call.
func (v *Validator) Validate(ctx context.Context, gap Gap) (*Verdict, error) {
	if gap.Prev == nil || gap.Next == nil {
		return &Verdict{
			ChapterID: gap.ChapterID,
			Result:    VerdictUnclear,
			Analysis:  "无法找到前后章节进行验证",
		}, nil
	}

	system := strings.NewReplacer(
		"{target_chapter}", strconv.Itoa(gap.ChapterID),
		"{prev_chapter}", strconv.Itoa(gap.Prev.ChapterID),
		"{prev_title}", gap.Prev.ChapterTitle,
		"{prev_content}", truncateMiddle(gap.Prev.Content, v.neighborRunes),
		"{next_chapter}", strconv.Itoa(gap.Next.ChapterID),
		"{next_title}", gap.Next.ChapterTitle,
		"{next_content}", truncateMiddle(gap.Next.Content, v.neighborRunes),
	).Replace(validationPrompt)

	user := fmt.Sprintf(`请仔细分析前后章节内容，判断第%d章是否真的缺失。

前一章：第%d章 %s
后一章：第%d章 %s

请根据前后内容的连贯性和完整性进行判断。`,
		gap.ChapterID, gap.Prev.ChapterID, gap.Prev.ChapterTitle, gap.Next.ChapterID, gap.Next.ChapterTitle)

	out, err := v.llm.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("validate chapter %d: %w", gap.ChapterID, err)
	}
	return parseVerdict(out, gap.ChapterID), nil
}

// ValidateAll judges up to max gaps (all of them when max <= 0) and
// returns the verdicts collected so far if a model call fails.
func (v *Validator) ValidateAll(ctx context.Context, gaps []Gap, max int) ([]Verdict, error) {
	if max > 0 && len(gaps) > max {
		gaps = gaps[:max]
	}
	verdicts := make([]Verdict, 0, len(gaps))
	for _, gap := range gaps {
		verdict, err := v.Validate(ctx, gap)
		if err != nil {
			return verdicts, err
		}
		v.log.Info("gap validated",
			"chapter_id", gap.ChapterID,
			"result", verdict.Result,
			"confidence", verdict.Confidence)
		verdicts = append(verdicts, *verdict)
	}
	return verdicts, nil
}

func parseVerdict(text string, chapterID int) *Verdict {
	v := &Verdict{ChapterID: chapterID, Result: VerdictUnclear}
	inAnalysis := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "判断结果:"):
			v.Result = normalizeResult(strings.TrimPrefix(line, "判断结果:"))
			inAnalysis = false
		case strings.HasPrefix(line, "置信度:"):
			v.Confidence = parseConfidence(strings.TrimPrefix(line, "置信度:"))
			inAnalysis = false
		case strings.HasPrefix(line, "详细分析:"):
			v.Analysis = strings.TrimSpace(strings.TrimPrefix(line, "详细分析:"))
			inAnalysis = true
		case strings.HasPrefix(line, "找到的标题:"):
			if title := quotedTitle(strings.TrimPrefix(line, "找到的标题:")); title != "" {
				v.FoundTitle = fmt.Sprintf("%q: (%d, \"volume_chapter\")", title, chapterID)
			}
			inAnalysis = false
		case inAnalysis && line != "":
			v.Analysis += "\n" + line
		}
	}
	return v
}

func normalizeResult(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "[]")
	switch s {
	case VerdictMissing, VerdictFoundTitle, VerdictNotMissing, VerdictUnclear:
		return s
	}
	return VerdictUnclear
}

func parseConfidence(s string) int {
	digits := strings.Builder{}
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 5
	}
	return min(10, max(1, n))
}

func quotedTitle(s string) string {
	parts := strings.Split(s, `"`)
	if len(parts) >= 3 {
		return parts[1]
	}
	return ""
}

func truncateMiddle(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	head := maxRunes / 3
	tail := maxRunes - head
	return string(runes[:head]) + "\n……（中间省略）……\n" + string(runes[len(runes)-tail:])
}
