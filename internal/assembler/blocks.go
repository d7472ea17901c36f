package assembler

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/skillctx/internal/matcher"
	"github.com/fyrsmithlabs/skillctx/internal/registry"
	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

const (
	guideHeader     = "[Tool guide: %s (%s)]\n"
	referenceHeader = "[Tool reference: %s (%s)]\n"
	blurbHeader     = "[Tool: %s (%s)]\n"
	referenceNote   = "The full guide for this tool was provided earlier in this session. Follow it; key reminders:"

	blockSeparator   = "\n\n---\n\n"
	userRequestLabel = "User request: "

	maxReminders    = 2
	reminderLen     = 160
	minReminderLen  = 8
	defaultHintText = "Call %s when the request needs it."
)

func (a *Assembler) referenceBlock(sessionID string, doc *registry.Document) string {
	var reminders []string
	if entry, ok := a.cache.LatestForTool(sessionID, doc.ToolName); ok {
		reminders = extractReminders(entry.Content, maxReminders)
	}
	if len(reminders) == 0 {
		reminders = []string{textutil.Truncate(flatten(doc.Description), reminderLen)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, referenceHeader, doc.Name(), doc.ToolName)
	b.WriteString(referenceNote)
	for _, r := range reminders {
		b.WriteString("\n- ")
		b.WriteString(r)
	}
	return b.String()
}

// extractReminders picks up to limit short prose lines from a guide, skipping
// headings, code and markers.
func extractReminders(content string, limit int) []string {
	var (
		out  []string
		seen = make(map[string]struct{})
	)
	for _, p := range textutil.Paragraphs(content) {
		if len(out) == limit {
			break
		}
		line, ok := proseLine(p)
		if !ok {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, textutil.Truncate(line, reminderLen))
	}
	return out
}

// proseLine returns the first line of a prose paragraph.
func proseLine(paragraph string) (string, bool) {
	if strings.HasPrefix(paragraph, "```") {
		return "", false
	}
	line, _, _ := strings.Cut(paragraph, "\n")
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return "", false
	case strings.HasPrefix(line, "#"), strings.HasPrefix(line, "["), strings.HasPrefix(line, "|"):
		return "", false
	}
	line = strings.TrimSpace(strings.TrimLeft(line, "-*> "))
	if textutil.RuneLen(line) < minReminderLen {
		return "", false
	}
	return line, true
}

func standardBlock(m matcher.Match, query string) (string, Injection) {
	doc := m.Skill
	var b strings.Builder
	fmt.Fprintf(&b, blurbHeader, doc.Name(), doc.ToolName)
	b.WriteString(flatten(doc.Description))
	b.WriteString("\nHint: ")
	b.WriteString(contextualHint(doc, query))

	block := b.String()
	return block, Injection{
		ToolName:  doc.ToolName,
		Mode:      ModeBlurb,
		Score:     m.Score,
		IsPrimary: m.IsPrimary,
		Size:      textutil.RuneLen(block),
	}
}

// contextualHint returns the prose paragraph of doc sharing the most terms
// with query.
func contextualHint(doc *registry.Document, query string) string {
	terms := textutil.Tokenize(strings.ToLower(query))
	var (
		best      string
		bestScore float64
	)
	for _, p := range textutil.Paragraphs(doc.Content) {
		if _, ok := proseLine(p); !ok {
			continue
		}
		if s := textutil.Overlap(terms, p); s > bestScore {
			best, bestScore = flatten(p), s
		}
	}
	if best == "" {
		return fmt.Sprintf(defaultHintText, doc.ToolName)
	}
	return textutil.Truncate(best, reminderLen)
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
