package matcher

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

// ErrInvalidLexicon indicates a lexicon file failed to parse or validate.
var ErrInvalidLexicon = errors.New("invalid lexicon")

//go:embed lexicon.toml
var defaultLexicon string

// Lexicon holds the curated tables used by the matcher.
type Lexicon struct {
	CoreVerbs []string            `toml:"core_verbs"`
	Synonyms  map[string][]string `toml:"synonyms"`
	Intents   []IntentRule        `toml:"intents"`
	Exclusive map[string][]string `toml:"exclusive"`

	synonymKeys []string
	coreLatin   map[string]struct{}
	coreCJK     []string
}

// IntentRule grants Bonus to Tool when the query contains any keyword.
type IntentRule struct {
	Tool     string   `toml:"tool"`
	Keywords []string `toml:"keywords"`
	Bonus    float64  `toml:"bonus"`
}

// DefaultLexicon returns the embedded lexicon.
func DefaultLexicon() *Lexicon {
	lex, err := ParseLexicon(defaultLexicon)
	if err != nil {
		panic(fmt.Sprintf("matcher: embedded lexicon: %v", err))
	}
	return lex
}

// LoadLexicon reads a TOML lexicon file.
func LoadLexicon(path string) (*Lexicon, error) {
	var lex Lexicon
	if _, err := toml.DecodeFile(path, &lex); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidLexicon, path, err)
	}
	if err := lex.prepare(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &lex, nil
}

// ParseLexicon decodes TOML lexicon text.
func ParseLexicon(data string) (*Lexicon, error) {
	var lex Lexicon
	if _, err := toml.Decode(data, &lex); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLexicon, err)
	}
	if err := lex.prepare(); err != nil {
		return nil, err
	}
	return &lex, nil
}

// prepare lowercases every table and builds lookup indexes.
func (l *Lexicon) prepare() error {
	for i, rule := range l.Intents {
		if rule.Tool == "" {
			return fmt.Errorf("%w: intent %d has no tool", ErrInvalidLexicon, i)
		}
		if rule.Bonus < 0 || rule.Bonus > 1 {
			return fmt.Errorf("%w: intent for %s has bonus %v outside [0,1]", ErrInvalidLexicon, rule.Tool, rule.Bonus)
		}
		l.Intents[i].Keywords = lowerAll(rule.Keywords)
	}

	synonyms := make(map[string][]string, len(l.Synonyms))
	for k, v := range l.Synonyms {
		synonyms[strings.ToLower(k)] = lowerAll(v)
	}
	l.Synonyms = synonyms
	l.synonymKeys = make([]string, 0, len(synonyms))
	for k := range synonyms {
		l.synonymKeys = append(l.synonymKeys, k)
	}
	sort.Strings(l.synonymKeys)

	exclusive := make(map[string][]string, len(l.Exclusive))
	for tool, triggers := range l.Exclusive {
		if len(triggers) == 0 {
			return fmt.Errorf("%w: exclusive tool %s has no trigger terms", ErrInvalidLexicon, tool)
		}
		exclusive[tool] = lowerAll(triggers)
	}
	l.Exclusive = exclusive

	l.coreLatin = make(map[string]struct{})
	l.coreCJK = l.coreCJK[:0]
	for _, v := range lowerAll(l.CoreVerbs) {
		if r := []rune(v); len(r) > 0 && textutil.IsCJK(r[0]) {
			l.coreCJK = append(l.coreCJK, v)
		} else {
			l.coreLatin[v] = struct{}{}
		}
	}
	return nil
}

// Expand returns related terms for every synonym keyword found in the
// lowercased query, excluding terms the query already contains. The result
// is deterministic.
func (l *Lexicon) Expand(lowerQuery string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, key := range l.synonymKeys {
		if !strings.Contains(lowerQuery, key) {
			continue
		}
		for _, related := range l.Synonyms[key] {
			if strings.Contains(lowerQuery, related) {
				continue
			}
			if _, ok := seen[related]; ok {
				continue
			}
			seen[related] = struct{}{}
			out = append(out, related)
		}
	}
	return out
}

// IsCoreVerb reports whether a query term is, or for CJK contains, a core verb.
func (l *Lexicon) IsCoreVerb(term string) bool {
	if _, ok := l.coreLatin[term]; ok {
		return true
	}
	for _, v := range l.coreCJK {
		if strings.Contains(term, v) {
			return true
		}
	}
	return false
}

// IntentBonus sums the bonuses of toolName's rules that the query triggers.
func (l *Lexicon) IntentBonus(toolName, lowerQuery string) float64 {
	var bonus float64
	for _, rule := range l.Intents {
		if rule.Tool == toolName && containsAny(lowerQuery, rule.Keywords) {
			bonus += rule.Bonus
		}
	}
	return bonus
}

// ExclusiveTriggers returns the trigger terms of a specialist tool.
func (l *Lexicon) ExclusiveTriggers(toolName string) ([]string, bool) {
	t, ok := l.Exclusive[toolName]
	return t, ok
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(lowerText string, lowerTerms []string) bool {
	for _, t := range lowerTerms {
		if strings.Contains(lowerText, t) {
			return true
		}
	}
	return false
}
