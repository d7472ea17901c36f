package compression

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

const (
	fullSkillCutoff    = 0.7
	chartCutoff        = 0.6
	chartCodeCutoff    = 0.4
	mixedSignalCutoff  = 0.3
	minMetadataLines   = 2
	multipleFenceCount = 2
)

var (
	callingStructureHeadings = []string{"调用结构", "调用方式", "调用格式", "calling structure", "call structure", "invocation", "usage"}
	outputSpecHeadings       = []string{"输出规范", "输出格式", "返回格式", "output spec", "output format", "returns", "response format"}
	parameterHeadings        = []string{"参数", "parameters", "arguments", "args"}
	chartProseWords          = []string{"图表", "折线图", "饼图", "柱状图", "散点图", "直方图", "可视化", "chart", "plot", "visualiz", "graph"}

	metadataLine  = regexp.MustCompile(`(?m)^\s*[-*]?\s*\**(tool[_ ]name|name|version|category|author|tags|工具名称|名称|版本|类别|作者|标签)\**\s*[:：]`)
	jsonCallKeys  = regexp.MustCompile(`"(name|tool_name|parameters|arguments|args)"\s*:`)
	jsonSchemaKey = regexp.MustCompile(`"type"\s*:\s*"(object|string|integer|number|boolean|array)"`)
)

// Classify assigns a content type from structural probes. It is a pure
// function of content.
func Classify(content string) Analysis {
	ds := parseStructure(content)
	lower := strings.ToLower(content)

	var allCode strings.Builder
	jsonExamples := 0
	tagged := 0
	for _, b := range ds.Blocks {
		allCode.WriteString(strings.ToLower(b.Code))
		allCode.WriteByte('\n')
		if b.Lang == "json" || b.Lang == "jsonc" {
			jsonExamples++
		}
		if b.Lang != "" {
			tagged++
		}
	}
	code := allCode.String()

	headingHas := func(terms []string) bool {
		for _, s := range ds.Sections {
			if textutil.ContainsAny(strings.ToLower(s.Title), terms) {
				return true
			}
		}
		return false
	}

	scores := ProbeScores{
		FullSkill: ratio(
			headingHas(callingStructureHeadings),
			headingHas(outputSpecHeadings),
			len(metadataLine.FindAllStringIndex(content, -1)) >= minMetadataLines,
			headingHas(parameterHeadings),
		),
		Chart: ratio(
			containsAnyLower(code, plotLibraries),
			containsAnyLower(code, renderCalls),
			containsAnyLower(code, chartCalls),
			textutil.ContainsAny(prose(lower, ds), chartProseWords),
		),
		CoreStructure: ratio(
			jsonExamples > 0,
			jsonCallKeys.MatchString(content),
			jsonSchemaKey.MatchString(content),
		),
		CodeExamples: ratio(
			len(ds.Blocks) > 0,
			tagged > 0,
			len(ds.Blocks) >= multipleFenceCount,
		),
	}

	a := Analysis{
		CodeBlocks:   len(ds.Blocks),
		JSONExamples: jsonExamples,
		Sections:     len(ds.Sections),
		Length:       textutil.RuneLen(content),
		Scores:       scores,
	}
	switch {
	case scores.FullSkill > fullSkillCutoff:
		a.Type, a.Confidence = FullSkill, scores.FullSkill
	case scores.Chart > chartCutoff && scores.CodeExamples > chartCodeCutoff:
		a.Type, a.Confidence = ChartContent, scores.Chart
	case scores.CoreStructure > mixedSignalCutoff || scores.CodeExamples > mixedSignalCutoff:
		a.Type, a.Confidence = MixedContent, max(scores.CoreStructure, scores.CodeExamples)
	default:
		a.Type = GenericContent
		a.Confidence = 1 - max(scores.FullSkill, scores.Chart, scores.CoreStructure, scores.CodeExamples)
	}
	return a
}

// prose returns the lowercased content with code block bodies removed.
func prose(lower string, ds docStructure) string {
	for _, b := range ds.Blocks {
		if b.Code != "" {
			lower = strings.Replace(lower, strings.ToLower(b.Code), "", 1)
		}
	}
	return lower
}

func ratio(probes ...bool) float64 {
	if len(probes) == 0 {
		return 0
	}
	hit := 0
	for _, p := range probes {
		if p {
			hit++
		}
	}
	return float64(hit) / float64(len(probes))
}
