// Package textutil provides rune-safe helpers shared by the matcher,
// compression and quality packages.
//
// All lengths are counted in runes. Skill documents are frequently
// written in Chinese, so byte offsets are never exposed to callers.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// RuneLen returns the number of characters in s.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if RuneLen(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// TruncateAtBoundary cuts s to at most n characters, preferring to end on
// a blank-line paragraph boundary, then a line boundary. A boundary is only
// used when it keeps at least 60% of n.
func TruncateAtBoundary(s string, n int) string {
	cut := Truncate(s, n)
	if len(cut) == len(s) {
		return s
	}
	minKeep := n * 6 / 10
	if idx := strings.LastIndex(cut, "\n\n"); idx >= 0 && RuneLen(cut[:idx]) >= minKeep {
		return strings.TrimRight(cut[:idx], " \t\n")
	}
	if idx := strings.LastIndexByte(cut, '\n'); idx >= 0 && RuneLen(cut[:idx]) >= minKeep {
		return strings.TrimRight(cut[:idx], " \t\n")
	}
	return cut
}

// Paragraphs splits s on blank lines, dropping empty paragraphs.
// Fenced code blocks are kept intact even when they contain blank lines.
func Paragraphs(s string) []string {
	var (
		out     []string
		current []string
		inFence bool
	)
	flush := func() {
		p := strings.TrimSpace(strings.Join(current, "\n"))
		if p != "" {
			out = append(out, p)
		}
		current = current[:0]
	}
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if trimmed == "" && !inFence {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return out
}

// ContainsFold reports whether substr is within s, ignoring case.
func ContainsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// ContainsAny reports whether s contains any of the terms, ignoring case.
func ContainsAny(s string, terms []string) bool {
	lower := strings.ToLower(s)
	for _, t := range terms {
		if t != "" && strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// IsCJK reports whether r belongs to a script written without spaces.
func IsCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Tokenize lowercases s and splits it into search terms.
//
// Latin text yields words of two or more characters. CJK runs yield
// overlapping bigrams, and a lone CJK character yields itself. Stopwords
// are removed and the result is deduplicated in first-seen order.
func Tokenize(s string) []string {
	var (
		terms []string
		seen  = make(map[string]struct{})
		word  []rune
		run   []rune
	)
	add := func(t string) {
		if _, stop := stopWords[t]; stop {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	flushWord := func() {
		if len(word) >= 2 {
			add(string(word))
		}
		word = word[:0]
	}
	flushRun := func() {
		switch {
		case len(run) == 1:
			add(string(run))
		case len(run) > 1:
			for i := 0; i+1 < len(run); i++ {
				add(string(run[i : i+2]))
			}
		}
		run = run[:0]
	}

	for _, r := range strings.ToLower(s) {
		switch {
		case IsCJK(r):
			flushWord()
			run = append(run, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			flushRun()
			word = append(word, r)
		default:
			flushWord()
			flushRun()
		}
	}
	flushWord()
	flushRun()
	return terms
}

// Overlap returns the fraction of query terms found in text.
func Overlap(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, t := range queryTerms {
		if strings.Contains(lower, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

var stopWords = map[string]struct{}{
	"the": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {}, "on": {},
	"at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {}, "from": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "have": {},
	"has": {}, "had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"should": {}, "could": {}, "may": {}, "might": {}, "can": {}, "this": {},
	"that": {}, "these": {}, "those": {}, "it": {}, "its": {}, "as": {},
	"me": {}, "my": {}, "please": {}, "help": {},
	"帮我": {}, "我们": {}, "一个": {}, "一下": {}, "请问": {}, "可以": {},
	"你好": {}, "的": {}, "了": {}, "吗": {}, "呢": {}, "我": {},
}
