package quality

import (
	"strings"

	"github.com/fyrsmithlabs/skillctx/internal/compression"
	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

// Check is one rubric item and whether it passed.
type Check struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Passed bool    `json:"passed"`
}

type checkInput struct {
	content  string
	query    string
	target   int
	anchors  []string
	original int
}

type criterion struct {
	name   string
	weight float64
	pass   func(in checkInput) bool
}

const lengthBandLow = 0.5

var (
	hasCodeBlock = criterion{"code_block", 0, func(in checkInput) bool {
		return len(compression.ExtractCodeBlocks(in.content)) > 0
	}}
	hasPlotCall = criterion{"plot_call", 0, func(in checkInput) bool {
		return compression.HasPlotCall(in.content)
	}}
	hasAnchor = criterion{"anchor_section", 0, func(in checkInput) bool {
		return textutil.ContainsAny(in.content, in.anchors)
	}}
	hasCodeOrJSON = criterion{"code_or_json", 0, func(in checkInput) bool {
		return len(compression.ExtractCodeBlocks(in.content)) > 0 || strings.Contains(in.content, "{\"")
	}}
	hasJSONOrAnchor = criterion{"json_or_anchor", 0, func(in checkInput) bool {
		for _, b := range compression.ExtractCodeBlocks(in.content) {
			if b.Lang == "json" {
				return true
			}
		}
		return textutil.ContainsAny(in.content, in.anchors)
	}}
	nonEmpty = criterion{"non_empty", 0, func(in checkInput) bool {
		return strings.TrimSpace(in.content) != ""
	}}
	inLengthBand = criterion{"length_band", 0, func(in checkInput) bool {
		n := textutil.RuneLen(in.content)
		low := int(float64(in.target) * lengthBandLow)
		if in.original > 0 && in.original < low {
			low = in.original
		}
		return n >= low && n <= in.target
	}}
	matchesQuery = criterion{"query_overlap", 0, func(in checkInput) bool {
		terms := textutil.Tokenize(in.query)
		return len(terms) == 0 || textutil.Overlap(terms, in.content) > 0
	}}
)

func weighted(c criterion, w float64) criterion {
	c.weight = w
	return c
}

var rubrics = map[compression.ContentType][]criterion{
	compression.ChartContent: {
		weighted(hasCodeBlock, 0.35),
		weighted(hasPlotCall, 0.25),
		weighted(inLengthBand, 0.2),
		weighted(matchesQuery, 0.2),
	},
	compression.FullSkill: {
		weighted(hasAnchor, 0.3),
		weighted(hasCodeOrJSON, 0.25),
		weighted(inLengthBand, 0.25),
		weighted(matchesQuery, 0.2),
	},
	compression.MixedContent: {
		weighted(hasCodeBlock, 0.3),
		weighted(hasJSONOrAnchor, 0.25),
		weighted(inLengthBand, 0.25),
		weighted(matchesQuery, 0.2),
	},
	compression.GenericContent: {
		weighted(nonEmpty, 0.3),
		weighted(inLengthBand, 0.4),
		weighted(matchesQuery, 0.3),
	},
}

func rubricFor(ct compression.ContentType) []criterion {
	if r, ok := rubrics[ct]; ok {
		return r
	}
	return rubrics[compression.GenericContent]
}

func evaluateRubric(rubric []criterion, in checkInput) (float64, []Check) {
	var score float64
	checks := make([]Check, 0, len(rubric))
	for _, c := range rubric {
		passed := c.pass(in)
		if passed {
			score += c.weight
		}
		checks = append(checks, Check{Name: c.name, Weight: c.weight, Passed: passed})
	}
	if score > 1 {
		score = 1
	}
	return score, checks
}
