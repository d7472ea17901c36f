package compression

import (
	"fmt"
	"maps"
	"math"

	"github.com/fyrsmithlabs/skillctx/internal/config"
)

// DefaultTypeConfigs returns the built-in parameters for every content type.
func DefaultTypeConfigs() map[ContentType]TypeConfig {
	return map[ContentType]TypeConfig{
		FullSkill: {
			Threshold:    5000,
			MaxRate:      0.75,
			MinPreserved: 3000,
			Anchors: []string{
				"调用结构", "calling structure", "参数", "parameters",
				"输出规范", "output", "示例", "example", "注意", "important",
			},
			Strategy: StrategyExtractCore,
		},
		ChartContent: {
			Threshold:    3000,
			MaxRate:      0.85,
			MinPreserved: 1500,
			Anchors:      []string{"示例", "example", "模板", "template", "输出", "output"},
			Strategy:     StrategyFormatOnly,
		},
		MixedContent: {
			Threshold:    4000,
			MaxRate:      0.7,
			MinPreserved: 2000,
			Anchors:      []string{"调用结构", "calling structure", "参数", "parameters", "示例", "example"},
			Strategy:     StrategySmartMix,
		},
		GenericContent: {
			Threshold:    3000,
			MaxRate:      0.6,
			MinPreserved: 1200,
			Anchors:      []string{"概述", "overview", "用法", "usage", "注意", "note"},
			Strategy:     StrategyMinimal,
		},
	}
}

// TypeConfigsFrom merges configured overrides onto DefaultTypeConfigs. Zero
// override fields keep the default.
func TypeConfigsFrom(cfg config.CompressionConfig) (map[ContentType]TypeConfig, error) {
	out := DefaultTypeConfigs()
	for name, o := range cfg.Types {
		ct, err := ParseContentType(name)
		if err != nil {
			return nil, fmt.Errorf("compression.types: %w", err)
		}
		tc := out[ct]
		if o.Threshold > 0 {
			tc.Threshold = o.Threshold
		}
		if o.MaxRate > 0 {
			tc.MaxRate = o.MaxRate
		}
		if o.MinPreserved > 0 {
			tc.MinPreserved = o.MinPreserved
		}
		if len(o.Anchors) > 0 {
			tc.Anchors = append([]string(nil), o.Anchors...)
		}
		if o.Strategy != "" {
			st, err := ParseStrategy(o.Strategy)
			if err != nil {
				return nil, fmt.Errorf("compression.types.%s: %w", name, err)
			}
			tc.Strategy = st
		}
		out[ct] = tc
	}
	return out, nil
}

func cloneTypeConfigs(in map[ContentType]TypeConfig) map[ContentType]TypeConfig {
	out := DefaultTypeConfigs()
	maps.Copy(out, in)
	return out
}

// DecideStrategy computes whether and how far to compress. Budget zero means
// the tool has no budget of its own.
func DecideStrategy(a Analysis, tc TypeConfig, budget int) Decision {
	if a.Length <= tc.Threshold {
		return Decision{Strategy: StrategyNone, TargetSize: a.Length}
	}

	target := int(math.Floor(float64(a.Length) * (1 - tc.MaxRate)))
	if budget > 0 && budget < target {
		target = budget
	}
	if target < tc.MinPreserved {
		target = tc.MinPreserved
	}
	if target > a.Length {
		target = a.Length
	}

	strategy := tc.Strategy
	if strategy == "" || strategy == StrategyNone {
		strategy = StrategyMinimal
	}
	return Decision{ShouldCompress: true, Strategy: strategy, TargetSize: target}
}
