package compression

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

const (
	coreShare          = 0.8
	openingShareFloor  = 0.5
	extractCorePadding = 3000
	minSectionChars    = 200

	maxTemplates      = 3
	renderCallBonus   = 0.5
	chartKindBonus    = 0.3
	substantiveLength = 20

	mixCoreShare     = 0.4
	mixRelevantShare = 0.35

	paragraphSep = "\n\n"
)

// strategyInput is everything a strategy arm may read. Arms are pure.
type strategyInput struct {
	content    string
	structure  docStructure
	queryTerms []string
	query      string
	references []string
	config     TypeConfig
	target     int
}

// referenceTexts returns the non-empty reference snippets ordered by name.
func referenceTexts(refs map[string]string) []string {
	names := make([]string, 0, len(refs))
	for name, text := range refs {
		if strings.TrimSpace(text) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	texts := make([]string, 0, len(names))
	for _, name := range names {
		texts = append(texts, strings.TrimSpace(refs[name]))
	}
	return texts
}

// referenceBlocks returns the code blocks found in the reference snippets.
func referenceBlocks(refs []string) []CodeBlock {
	if len(refs) == 0 {
		return nil
	}
	return parseStructure(strings.Join(refs, paragraphSep)).Blocks
}

type strategyFunc func(in strategyInput) (string, error)

type dispatchKey struct {
	contentType ContentType
	strategy    Strategy
}

// strategyTable maps (content type, strategy) to its arm. format_only only
// applies to chart content; other combinations fall back.
var strategyTable = buildStrategyTable()

func buildStrategyTable() map[dispatchKey]strategyFunc {
	table := make(map[dispatchKey]strategyFunc)
	for _, ct := range ContentTypes {
		table[dispatchKey{ct, StrategyExtractCore}] = extractCore
		table[dispatchKey{ct, StrategySmartMix}] = smartMix
		table[dispatchKey{ct, StrategyMinimal}] = minimalCompress
		table[dispatchKey{ct, StrategyFallback}] = fallbackTruncate
	}
	table[dispatchKey{ChartContent, StrategyFormatOnly}] = formatOnly
	return table
}

func lookupStrategy(ct ContentType, st Strategy) (strategyFunc, error) {
	fn, ok := strategyTable[dispatchKey{ct, st}]
	if !ok {
		return nil, fmt.Errorf("%w: %s for %s", ErrUnknownStrategy, st, ct)
	}
	return fn, nil
}

// extractCore keeps anchor sections in anchor priority order, backfills
// with the opening section, then pads with raw content.
func extractCore(in strategyInput) (string, error) {
	limit := int(float64(in.target) * coreShare)
	var (
		picked []section
		used   int
	)
	take := func(s section, room int) bool {
		for _, p := range picked {
			if p.contains(s) || s.contains(p) {
				return false
			}
		}
		n := textutil.RuneLen(s.Text)
		if n > room {
			if room < minSectionChars {
				return false
			}
			s.Text = capTo(s.Text, room, 0)
			n = textutil.RuneLen(s.Text)
		}
		picked = append(picked, s)
		used += n
		return true
	}

	for _, anchor := range in.config.Anchors {
		for _, s := range in.structure.Sections {
			if used >= limit {
				break
			}
			if textutil.ContainsFold(s.Title, anchor) {
				take(s, limit-used)
			}
		}
	}

	if float64(used) < float64(in.target)*openingShareFloor {
		if opening, ok := openingSection(in); ok {
			take(opening, in.target-used-len(picked)*textutil.RuneLen(paragraphSep))
		}
	}

	sort.Slice(picked, func(i, j int) bool { return picked[i].Start < picked[j].Start })
	parts := make([]string, 0, len(picked))
	for _, p := range picked {
		parts = append(parts, p.Text)
	}
	out := strings.Join(parts, paragraphSep)

	floor := min(extractCorePadding, in.target)
	if textutil.RuneLen(out) < floor {
		out = padFrom(out, in.content, floor)
	}
	return out, nil
}

// openingSection is the preamble, or the first section when there is none.
func openingSection(in strategyInput) (section, bool) {
	if in.structure.Preamble != "" {
		end := len(in.content)
		if len(in.structure.Sections) > 0 {
			end = in.structure.Sections[0].Start
		}
		return section{Start: 0, End: end, Text: in.structure.Preamble}, true
	}
	if len(in.structure.Sections) > 0 {
		first := in.structure.Sections[0]
		// Only the heading's own body, not its subsections.
		for _, s := range in.structure.Sections[1:] {
			if s.Start > first.Start && s.Start < first.End {
				first.End = s.Start
				first.Text = strings.TrimSpace(in.content[first.Start:first.End])
				break
			}
		}
		return first, true
	}
	return section{}, false
}

type rankedBlock struct {
	block CodeBlock
	score float64
	index int
}

// formatOnly emits the best code templates for the query.
func formatOnly(in strategyInput) (string, error) {
	kind, hasKind := detectChartKind(in.query)

	blocks := in.structure.Blocks
	if !hasCode(blocks) {
		blocks = referenceBlocks(in.references)
	}

	var ranked []rankedBlock
	for i, b := range blocks {
		if strings.TrimSpace(b.Code) == "" {
			continue
		}
		score := textutil.Overlap(in.queryTerms, b.Lang+"\n"+b.Code)
		if blockHasRenderCall(b) {
			score += renderCallBonus
		}
		if hasKind && containsAnyLower(b.Code, kind.calls) {
			score += chartKindBonus
		}
		ranked = append(ranked, rankedBlock{block: b, score: score, index: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var sb strings.Builder
	if title := documentTitle(in.structure); title != "" {
		sb.WriteString("# " + title + "\n\n")
	}

	if len(ranked) == 0 {
		if !hasKind {
			kind, _ = detectChartKind(in.content)
		}
		sb.WriteString("### Template 1\n\n")
		sb.WriteString(synthesizeExample(kind).Fenced())
		sb.WriteString("\n\n" + usageNote)
		return sb.String(), nil
	}

	for i, r := range ranked {
		if i == maxTemplates {
			break
		}
		piece := fmt.Sprintf("### Template %d\n\n%s\n\n", i+1, r.block.Fenced())
		if i > 0 && textutil.RuneLen(sb.String())+textutil.RuneLen(piece) > in.target {
			break
		}
		sb.WriteString(piece)
	}
	sb.WriteString(usageNote)
	return sb.String(), nil
}

const usageNote = "Usage: start from the template closest to the request and replace the sample data. " +
	"Keep the imports and finish with plt.show() or plt.savefig() so the chart is rendered."

type chartKind struct {
	name     string
	keywords []string
	calls    []string
	snippet  string
}

var chartKinds = []chartKind{
	{
		name:     "line",
		keywords: []string{"折线", "趋势", "line chart", "line plot", "trend"},
		calls:    []string{".plot(", "px.line(", "lineplot(", "line()"},
		snippet:  "plt.plot(x, y, marker=\"o\")",
	},
	{
		name:     "pie",
		keywords: []string{"饼图", "饼状", "占比", "pie"},
		calls:    []string{".pie(", "px.pie(", "pie()"},
		snippet:  "plt.pie(y, labels=x, autopct=\"%1.1f%%\")",
	},
	{
		name:     "bar",
		keywords: []string{"柱状", "条形", "bar"},
		calls:    []string{".bar(", ".barh(", "px.bar(", "barplot(", "bar()"},
		snippet:  "plt.bar(x, y)",
	},
	{
		name:     "scatter",
		keywords: []string{"散点", "scatter"},
		calls:    []string{".scatter(", "px.scatter(", "scatterplot(", "scatter()"},
		snippet:  "plt.scatter(x, y)",
	},
	{
		name:     "hist",
		keywords: []string{"直方", "分布", "histogram", "hist"},
		calls:    []string{".hist(", "px.histogram(", "histplot("},
		snippet:  "plt.hist(y, bins=10)",
	},
}

// detectChartKind returns the first chart kind named in text. The line
// chart is returned when nothing matches.
func detectChartKind(text string) (chartKind, bool) {
	for _, k := range chartKinds {
		if textutil.ContainsAny(text, k.keywords) {
			return k, true
		}
	}
	return chartKinds[0], false
}

func synthesizeExample(kind chartKind) CodeBlock {
	return CodeBlock{
		Lang: "python",
		Code: "import matplotlib.pyplot as plt\n\n" +
			"x = [\"A\", \"B\", \"C\", \"D\"]\n" +
			"y = [3, 7, 5, 9]\n\n" +
			kind.snippet + "\n" +
			"plt.title(\"" + kind.name + " chart\")\n" +
			"plt.show()\n",
	}
}

// smartMix concatenates a core excerpt, query-relevant paragraphs and code
// examples, in that order, within the target.
func smartMix(in strategyInput) (string, error) {
	var parts []string
	used := 0
	sepLen := textutil.RuneLen(paragraphSep)
	add := func(s string, room int) {
		s = strings.TrimSpace(s)
		sep := 0
		if len(parts) > 0 {
			sep = sepLen
		}
		room -= sep
		if s == "" || room <= 0 {
			return
		}
		if textutil.RuneLen(s) > room {
			s = capTo(s, room, 0)
		}
		parts = append(parts, s)
		used += sep + textutil.RuneLen(s)
	}

	add(coreExcerpt(in, int(float64(in.target)*mixCoreShare)), int(float64(in.target)*mixCoreShare))
	joined := strings.Join(parts, paragraphSep)

	relevantRoom := int(float64(in.target) * mixRelevantShare)
	add(relevantExcerpt(in, joined, relevantRoom), relevantRoom)
	joined = strings.Join(parts, paragraphSep)

	for _, r := range rankBlocks(in) {
		fenced := r.block.Fenced()
		if strings.Contains(joined, strings.TrimSpace(r.block.Code)) {
			continue
		}
		room := in.target - used
		if textutil.RuneLen(fenced)+sepLen > room {
			continue
		}
		add(fenced, room)
	}

	if len(parts) == 0 {
		return "", ErrEmptyResult
	}
	return strings.Join(parts, paragraphSep), nil
}

// coreExcerpt prefers anchor sections, then the first JSON example.
func coreExcerpt(in strategyInput, room int) string {
	for _, anchor := range in.config.Anchors {
		for _, s := range in.structure.Sections {
			if textutil.ContainsFold(s.Title, anchor) {
				return capTo(s.Text, room, 0)
			}
		}
	}
	for _, b := range in.structure.Blocks {
		if b.Lang == "json" {
			return b.Fenced()
		}
	}
	if p, ok := openingSection(in); ok {
		return p.Text
	}
	return ""
}

func hasCode(blocks []CodeBlock) bool {
	for _, b := range blocks {
		if strings.TrimSpace(b.Code) != "" {
			return true
		}
	}
	return false
}

// relevantExcerpt picks paragraphs by query-term overlap, best first, and
// returns them in document order, with reference paragraphs after the guide's.
func relevantExcerpt(in strategyInput, already string, room int) string {
	type scored struct {
		text  string
		score float64
		index int
	}
	paras := textutil.Paragraphs(in.content)
	for _, ref := range in.references {
		paras = append(paras, textutil.Paragraphs(ref)...)
	}
	var candidates []scored
	for i, p := range paras {
		if strings.HasPrefix(p, "```") || strings.Contains(already, p) {
			continue
		}
		score := textutil.Overlap(in.queryTerms, p)
		if score > 0 {
			candidates = append(candidates, scored{p, score, i})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	var picked []scored
	used := 0
	for _, c := range candidates {
		n := textutil.RuneLen(c.text)
		if used+n > room {
			continue
		}
		picked = append(picked, c)
		used += n
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].index < picked[j].index })
	texts := make([]string, 0, len(picked))
	for _, p := range picked {
		texts = append(texts, p.text)
	}
	return strings.Join(texts, "\n\n")
}

func rankBlocks(in strategyInput) []rankedBlock {
	var ranked []rankedBlock
	for i, b := range in.structure.Blocks {
		if strings.TrimSpace(b.Code) == "" {
			continue
		}
		ranked = append(ranked, rankedBlock{
			block: b,
			score: textutil.Overlap(in.queryTerms, b.Lang+"\n"+b.Code),
			index: i,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

// minimalCompress keeps the title, the first substantive paragraph and one
// code example, then pads toward the target.
func minimalCompress(in strategyInput) (string, error) {
	var parts []string
	if title := documentTitle(in.structure); title != "" {
		parts = append(parts, "# "+title)
	}
	for _, p := range textutil.Paragraphs(in.content) {
		if strings.HasPrefix(p, "#") || strings.HasPrefix(p, "```") {
			continue
		}
		if textutil.RuneLen(p) >= substantiveLength {
			parts = append(parts, p)
			break
		}
	}
	if ranked := rankBlocks(in); len(ranked) > 0 {
		parts = append(parts, ranked[0].block.Fenced())
	}
	if len(parts) == 0 {
		return "", ErrEmptyResult
	}
	return padFrom(strings.Join(parts, paragraphSep), in.content, in.target), nil
}

// fallbackTruncate is plain head truncation. finalize adds the marker.
func fallbackTruncate(in strategyInput) (string, error) {
	return textutil.Truncate(in.content, in.target), nil
}

func documentTitle(ds docStructure) string {
	for _, s := range ds.Sections {
		if s.Level == 1 {
			return s.Title
		}
	}
	if len(ds.Sections) > 0 {
		return ds.Sections[0].Title
	}
	return ""
}

// padFrom appends unused paragraphs of content until out reaches floor
// characters. The last paragraph is cut to fit; a cut code block is closed.
func padFrom(out, content string, floor int) string {
	size := textutil.RuneLen(out)
	if size >= floor {
		return out
	}
	var sb strings.Builder
	sb.WriteString(out)
	for _, p := range textutil.Paragraphs(content) {
		if size >= floor {
			break
		}
		if strings.Contains(out, p) {
			continue
		}
		sep := paragraphSep
		if sb.Len() == 0 {
			sep = ""
		}
		room := floor - size - textutil.RuneLen(sep)
		if room <= 0 {
			break
		}
		if textutil.RuneLen(p) > room {
			p = capTo(p, room, room)
		}
		sb.WriteString(sep + p)
		size += textutil.RuneLen(sep + p)
	}
	return sb.String()
}
