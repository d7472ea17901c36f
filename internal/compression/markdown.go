package compression

import (
	"bytes"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var (
	markdownOnce   sync.Once
	markdownParser goldmark.Markdown
)

func getMarkdownParser() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParser
}

// CodeBlock is one fenced code block.
type CodeBlock struct {
	Lang string
	Code string
}

// Fenced renders the block back to markdown.
func (b CodeBlock) Fenced() string {
	code := b.Code
	if !strings.HasSuffix(code, "\n") {
		code += "\n"
	}
	return "```" + b.Lang + "\n" + code + "```"
}

// section is a heading plus everything up to the next heading of the same
// or higher level. Offsets are byte positions in the source.
type section struct {
	Title string
	Level int
	Start int
	End   int
	Text  string
}

func (s section) contains(o section) bool {
	return s.Start <= o.Start && o.End <= s.End
}

type docStructure struct {
	Preamble string
	Sections []section
	Blocks   []CodeBlock
}

// parseStructure walks the goldmark AST for headings and fenced code.
// Headings nested in lists or quotes are ignored.
func parseStructure(content string) docStructure {
	source := []byte(content)
	doc := getMarkdownParser().Parser().Parse(text.NewReader(source))

	type heading struct {
		title string
		level int
		start int
	}
	var headings []heading
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			continue
		}
		start := h.Lines().At(0).Start
		if i := bytes.LastIndexByte(source[:start], '\n'); i >= 0 {
			start = i + 1
		} else {
			start = 0
		}
		headings = append(headings, heading{
			title: strings.TrimSpace(string(linesValue(h, source))),
			level: h.Level,
			start: start,
		})
	}

	var ds docStructure
	for i, h := range headings {
		end := len(source)
		for _, next := range headings[i+1:] {
			if next.level <= h.level {
				end = next.start
				break
			}
		}
		ds.Sections = append(ds.Sections, section{
			Title: h.title,
			Level: h.level,
			Start: h.start,
			End:   end,
			Text:  strings.TrimSpace(content[h.start:end]),
		})
	}
	if len(headings) > 0 {
		ds.Preamble = strings.TrimSpace(content[:headings[0].start])
	} else {
		ds.Preamble = strings.TrimSpace(content)
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if fcb, ok := n.(*ast.FencedCodeBlock); ok {
			ds.Blocks = append(ds.Blocks, CodeBlock{
				Lang: strings.ToLower(string(fcb.Language(source))),
				Code: string(linesValue(fcb, source)),
			})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return ds
}

func linesValue(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.Bytes()
}

// ExtractCodeBlocks returns every fenced code block in document order.
func ExtractCodeBlocks(content string) []CodeBlock {
	return parseStructure(content).Blocks
}

var (
	plotLibraries = []string{
		"matplotlib", "pyplot", "seaborn", "plotly", "pyecharts", "bokeh", "altair", "echarts", "chart.js",
	}
	renderCalls = []string{
		"plt.show(", "plt.savefig(", "fig.show(", "fig.savefig(", ".render(", "st.pyplot(",
		".write_html(", ".write_image(", "display(",
	}
	chartCalls = []string{
		".plot(", ".pie(", ".bar(", ".barh(", ".scatter(", ".hist(", ".boxplot(", ".heatmap(",
		".lineplot(", ".barplot(", ".scatterplot(", ".histplot(",
		"px.line(", "px.pie(", "px.bar(", "px.scatter(", "px.histogram(",
		"line()", "pie()", "bar()", "scatter()",
	}
	plotCalls = []string{"plt.", "ax.", "sns.", "px.", "go.figure", ".plot(", "pyecharts"}
)

// HasRenderCall reports whether any code block renders or saves a figure.
func HasRenderCall(content string) bool {
	for _, b := range ExtractCodeBlocks(content) {
		if blockHasRenderCall(b) {
			return true
		}
	}
	return false
}

// HasPlotCall reports whether any code block calls a plotting API.
func HasPlotCall(content string) bool {
	for _, b := range ExtractCodeBlocks(content) {
		if containsAnyLower(b.Code, plotCalls) {
			return true
		}
	}
	return false
}

func blockHasRenderCall(b CodeBlock) bool {
	return containsAnyLower(b.Code, renderCalls)
}

func containsAnyLower(s string, lowerTerms []string) bool {
	lower := strings.ToLower(s)
	for _, t := range lowerTerms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}
