package quality

import "github.com/fyrsmithlabs/skillctx/internal/compression"

// Aggregate summarizes logged evaluations for one tool or content type.
type Aggregate struct {
	Count              int     `json:"count"`
	AvgQuality         float64 `json:"avg_quality"`
	AvgCompressionRate float64 `json:"avg_compression_rate"`
	Fallbacks          int     `json:"fallbacks"`
}

// Report aggregates the rolling log.
type Report struct {
	Total   int                                   `json:"total"`
	Overall Aggregate                             `json:"overall"`
	ByTool  map[string]Aggregate                  `json:"by_tool"`
	ByType  map[compression.ContentType]Aggregate `json:"by_content_type"`
}

// Report summarizes the logged evaluations.
func (m *Monitor) Report() Report {
	entries := m.Recent()
	rep := Report{
		Total:  len(entries),
		ByTool: make(map[string]Aggregate),
		ByType: make(map[compression.ContentType]Aggregate),
	}

	type acc struct {
		n         int
		quality   float64
		rate      float64
		fallbacks int
	}
	add := func(a *acc, e Metric) {
		a.n++
		a.quality += e.QualityScore
		a.rate += e.CompressionRate
		if e.FellBack {
			a.fallbacks++
		}
	}
	finish := func(a *acc) Aggregate {
		if a.n == 0 {
			return Aggregate{}
		}
		return Aggregate{
			Count:              a.n,
			AvgQuality:         a.quality / float64(a.n),
			AvgCompressionRate: a.rate / float64(a.n),
			Fallbacks:          a.fallbacks,
		}
	}

	var overall acc
	byTool := make(map[string]*acc)
	byType := make(map[compression.ContentType]*acc)
	for _, e := range entries {
		add(&overall, e)
		if byTool[e.ToolName] == nil {
			byTool[e.ToolName] = &acc{}
		}
		add(byTool[e.ToolName], e)
		if byType[e.ContentType] == nil {
			byType[e.ContentType] = &acc{}
		}
		add(byType[e.ContentType], e)
	}

	rep.Overall = finish(&overall)
	for k, a := range byTool {
		rep.ByTool[k] = finish(a)
	}
	for k, a := range byType {
		rep.ByType[k] = finish(a)
	}
	return rep
}
