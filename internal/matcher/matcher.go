// Package matcher ranks skill documents against a user query.
//
// Scoring is additive over lexical and curated signals, then scaled by the
// exclusivity guard and clamped to [0,1]:
//
//	name mention        +0.50
//	intent keywords     +rule bonus (per triggered rule)
//	keyword overlap     name 0.15 / tags 0.12 / description 0.08 / content 0.02
//	                    per query term, core verbs x1.5, capped at 0.40
//	synonym overlap     +0.05 per expanded term in the description, capped at 0.20
//	category match      +0.10
//	priority            +0.01 per priority point
//
// Category and priority only count when some lexical or intent signal is
// present. Matching is a pure function of (query, snapshot, context).
package matcher

import (
	"math"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/skillctx/internal/registry"
	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

const (
	nameMentionBonus = 0.5

	nameTermWeight        = 0.15
	tagTermWeight         = 0.12
	descriptionTermWeight = 0.08
	contentTermWeight     = 0.02
	coreVerbMultiplier    = 1.5
	keywordCap            = 0.4

	synonymTermWeight = 0.05
	synonymCap        = 0.2

	categoryBonus      = 0.1
	priorityBonusPerPt = 0.01
)

// Config holds the tunable thresholds.
type Config struct {
	Threshold        float64
	TopK             int
	PrimaryGap       float64
	ExclusivePenalty float64
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:        0.15,
		TopK:             3,
		PrimaryGap:       0.15,
		ExclusivePenalty: 0.1,
	}
}

// Context carries request hints.
type Context struct {
	Category       string
	SessionID      string
	AvailableTools []string
}

// Breakdown records each score component for diagnostics.
type Breakdown struct {
	NameBonus     float64 `json:"name_bonus"`
	IntentBonus   float64 `json:"intent_bonus"`
	Keyword       float64 `json:"keyword"`
	Synonym       float64 `json:"synonym"`
	CategoryBonus float64 `json:"category_bonus"`
	PriorityBonus float64 `json:"priority_bonus"`
	Penalized     bool    `json:"penalized"`
}

// Match is one ranked document.
type Match struct {
	Skill     *registry.Document `json:"-"`
	ToolName  string             `json:"tool_name"`
	Score     float64            `json:"score"`
	IsPrimary bool               `json:"is_primary"`
	Breakdown Breakdown          `json:"breakdown"`
}

// Matcher scores documents. It holds no mutable state and is safe for
// concurrent use.
type Matcher struct {
	cfg     Config
	lexicon *Lexicon
}

// New creates a matcher. A nil lexicon selects the embedded default.
func New(cfg Config, lexicon *Lexicon) *Matcher {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.ExclusivePenalty <= 0 {
		cfg.ExclusivePenalty = def.ExclusivePenalty
	}
	if lexicon == nil {
		lexicon = DefaultLexicon()
	}
	return &Matcher{cfg: cfg, lexicon: lexicon}
}

// Match ranks the snapshot's documents against query. It returns at most
// TopK matches scoring at least Threshold, best first.
func (m *Matcher) Match(query string, snap *registry.Snapshot, mctx Context) []Match {
	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	if lowerQuery == "" {
		return nil
	}
	q := queryTerms{
		lower:    lowerQuery,
		terms:    textutil.Tokenize(lowerQuery),
		expanded: m.lexicon.Expand(lowerQuery),
	}

	var matches []Match
	for _, doc := range snap.Restrict(mctx.AvailableTools) {
		score, bd := m.score(q, doc, mctx)
		if score < m.cfg.Threshold || score <= 0 {
			continue
		}
		matches = append(matches, Match{Skill: doc, ToolName: doc.ToolName, Score: score, Breakdown: bd})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ToolName < matches[j].ToolName
	})
	if len(matches) > m.cfg.TopK {
		matches = matches[:m.cfg.TopK]
	}

	if len(matches) > 0 {
		runnerUp := 0.0
		if len(matches) > 1 {
			runnerUp = matches[1].Score
		}
		matches[0].IsPrimary = matches[0].Score-runnerUp > m.cfg.PrimaryGap
	}
	return matches
}

// Score returns one document's score and breakdown without thresholding.
func (m *Matcher) Score(query string, doc *registry.Document, mctx Context) (float64, Breakdown) {
	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	return m.score(queryTerms{
		lower:    lowerQuery,
		terms:    textutil.Tokenize(lowerQuery),
		expanded: m.lexicon.Expand(lowerQuery),
	}, doc, mctx)
}

type queryTerms struct {
	lower    string
	terms    []string
	expanded []string
}

type docFields struct {
	name        string
	tags        string
	description string
	content     string
}

func fieldsOf(doc *registry.Document) docFields {
	name := strings.ToLower(doc.ToolName + " " + strings.ReplaceAll(doc.ToolName, "_", " ") + " " + doc.DisplayName)
	return docFields{
		name:        name,
		tags:        strings.ToLower(strings.Join(doc.Tags, " ")),
		description: strings.ToLower(doc.Description),
		content:     strings.ToLower(doc.Content),
	}
}

func (m *Matcher) score(q queryTerms, doc *registry.Document, mctx Context) (float64, Breakdown) {
	var bd Breakdown
	if q.lower == "" || doc == nil {
		return 0, bd
	}
	f := fieldsOf(doc)

	if mentionsName(q.lower, doc) {
		bd.NameBonus = nameMentionBonus
	}
	bd.IntentBonus = m.lexicon.IntentBonus(doc.ToolName, q.lower)
	bd.Keyword = m.keywordOverlap(q.terms, f)
	bd.Synonym = synonymOverlap(q.expanded, f.description)

	signal := bd.NameBonus + bd.IntentBonus + bd.Keyword + bd.Synonym
	if signal <= 0 {
		return 0, bd
	}

	if mctx.Category != "" && strings.EqualFold(mctx.Category, doc.Category) {
		bd.CategoryBonus = categoryBonus
	}
	priority := doc.Priority
	if priority < 0 {
		priority = 0
	}
	if priority > registry.MaxPriority {
		priority = registry.MaxPriority
	}
	bd.PriorityBonus = float64(priority) * priorityBonusPerPt

	score := signal + bd.CategoryBonus + bd.PriorityBonus

	if triggers, exclusive := m.lexicon.ExclusiveTriggers(doc.ToolName); exclusive && !containsAny(q.lower, triggers) {
		score *= m.cfg.ExclusivePenalty
		bd.Penalized = true
	}
	return clamp01(score), bd
}

func mentionsName(lowerQuery string, doc *registry.Document) bool {
	candidates := []string{
		doc.ToolName,
		strings.ReplaceAll(doc.ToolName, "_", " "),
		doc.DisplayName,
	}
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if textutil.RuneLen(c) >= 2 && strings.Contains(lowerQuery, c) {
			return true
		}
	}
	return false
}

// keywordOverlap credits each query term with the weight of the strongest
// field it appears in.
func (m *Matcher) keywordOverlap(terms []string, f docFields) float64 {
	var total float64
	for _, term := range terms {
		var w float64
		switch {
		case strings.Contains(f.name, term):
			w = nameTermWeight
		case strings.Contains(f.tags, term):
			w = tagTermWeight
		case strings.Contains(f.description, term):
			w = descriptionTermWeight
		case strings.Contains(f.content, term):
			w = contentTermWeight
		}
		if w > 0 && m.lexicon.IsCoreVerb(term) {
			w *= coreVerbMultiplier
		}
		total += w
	}
	return math.Min(total, keywordCap)
}

func synonymOverlap(expanded []string, description string) float64 {
	var total float64
	for _, term := range expanded {
		if strings.Contains(description, term) {
			total += synonymTermWeight
		}
	}
	return math.Min(total, synonymCap)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
