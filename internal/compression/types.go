package compression

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownContentType indicates an unrecognized content type name.
	ErrUnknownContentType = errors.New("unknown content type")

	// ErrUnknownStrategy indicates an unrecognized strategy name.
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrEmptyResult indicates a strategy produced no output.
	ErrEmptyResult = errors.New("strategy produced empty result")
)

// ContentType is the structural classification of a skill document.
type ContentType string

const (
	FullSkill      ContentType = "full_skill"
	ChartContent   ContentType = "chart_content"
	MixedContent   ContentType = "mixed_content"
	GenericContent ContentType = "generic_content"
)

// ContentTypes lists every content type.
var ContentTypes = []ContentType{FullSkill, ChartContent, MixedContent, GenericContent}

// ParseContentType converts a name into a ContentType.
func ParseContentType(s string) (ContentType, error) {
	for _, ct := range ContentTypes {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContentType, s)
}

// Strategy names a compression routine.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyExtractCore Strategy = "extract_core"
	StrategyFormatOnly  Strategy = "format_only"
	StrategySmartMix    Strategy = "smart_mix"
	StrategyMinimal     Strategy = "minimal_compress"
	StrategyFallback    Strategy = "fallback"
)

// ParseStrategy converts a name into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyExtractCore, StrategyFormatOnly, StrategySmartMix, StrategyMinimal, StrategyFallback:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// ProbeScores holds the confidence of each probe family.
type ProbeScores struct {
	FullSkill     float64 `json:"full_skill"`
	Chart         float64 `json:"chart"`
	CoreStructure float64 `json:"core_structure"`
	CodeExamples  float64 `json:"code_examples"`
}

// Analysis describes a document's structure.
type Analysis struct {
	Type         ContentType `json:"type"`
	Confidence   float64     `json:"confidence"`
	CodeBlocks   int         `json:"code_blocks"`
	JSONExamples int         `json:"json_examples"`
	Sections     int         `json:"sections"`
	Length       int         `json:"length"`
	Scores       ProbeScores `json:"scores"`
}

// Decision is the outcome of DecideStrategy.
type Decision struct {
	ShouldCompress bool     `json:"should_compress"`
	Strategy       Strategy `json:"strategy"`
	TargetSize     int      `json:"target_size"`
}

// TypeConfig parameterizes compression for one content type.
type TypeConfig struct {
	Threshold    int
	MaxRate      float64
	MinPreserved int
	Anchors      []string
	Strategy     Strategy
}

// Request asks for one document to be compressed.
type Request struct {
	ToolName string
	Content  string
	Query    string

	// Budget is the tool's character budget; zero means unbounded.
	Budget int

	// Analysis may carry a precomputed classification.
	Analysis *Analysis

	// References are markdown snippets shipped beside the guide, keyed by
	// name. They feed the relevant excerpt and stand in for templates when
	// the guide itself has no code.
	References map[string]string
}

// Result is a compressed document.
type Result struct {
	ToolName        string        `json:"tool_name"`
	Content         string        `json:"content"`
	ContentType     ContentType   `json:"content_type"`
	Strategy        Strategy      `json:"strategy"`
	Decision        Decision      `json:"decision"`
	Analysis        Analysis      `json:"analysis"`
	OriginalSize    int           `json:"original_size"`
	CompressedSize  int           `json:"compressed_size"`
	CompressionRate float64       `json:"compression_rate"`
	Truncated       bool          `json:"truncated"`
	FellBack        bool          `json:"fell_back"`
	Duration        time.Duration `json:"duration"`
}

// compressionRate is the fraction of the original removed.
func compressionRate(original, compressed int) float64 {
	if original <= 0 || compressed >= original {
		return 0
	}
	return 1 - float64(compressed)/float64(original)
}
