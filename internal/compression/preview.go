package compression

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
	colorCyan  = "\x1b[36m"
	colorBold  = "\x1b[1m"
)

// PreviewOptions configures Preview output.
type PreviewOptions struct {
	// ShowMetrics writes a summary of the result before the diff.
	ShowMetrics bool

	// ColorOutput enables ANSI colors.
	ColorOutput bool

	// Context is the number of unchanged lines kept around each change.
	// Negative keeps every line.
	Context int
}

// DiffStats counts lines in a line diff.
type DiffStats struct {
	Kept    int
	Removed int
	Added   int
}

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

// Preview writes a line diff of original against the compressed result.
func Preview(w io.Writer, original string, result *Result, opts PreviewOptions) error {
	if w == nil {
		return errors.New("writer cannot be nil")
	}
	if result == nil {
		return errors.New("result cannot be nil")
	}

	lines := lineDiff(original, result.Content)
	var b strings.Builder
	writePreviewHeader(&b, opts)
	if opts.ShowMetrics {
		writePreviewMetrics(&b, result, countLines(lines), opts)
	}
	writeUnified(&b, lines, opts)

	_, err := io.WriteString(w, b.String())
	return err
}

// LineDiffStats returns line counts for the diff between two texts.
func LineDiffStats(before, after string) DiffStats {
	return countLines(lineDiff(before, after))
}

func lineDiff(before, after string) []diffLine {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var out []diffLine
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if len(chunk) > 0 && chunk[len(chunk)-1] == "" {
			chunk = chunk[:len(chunk)-1]
		}
		for _, line := range chunk {
			out = append(out, diffLine{op: d.Type, text: line})
		}
	}
	return out
}

func countLines(lines []diffLine) DiffStats {
	var s DiffStats
	for _, l := range lines {
		switch l.op {
		case diffmatchpatch.DiffEqual:
			s.Kept++
		case diffmatchpatch.DiffDelete:
			s.Removed++
		case diffmatchpatch.DiffInsert:
			s.Added++
		}
	}
	return s
}

func writePreviewHeader(b *strings.Builder, opts PreviewOptions) {
	title := "=== Compression Preview ==="
	if opts.ColorOutput {
		title = colorBold + colorCyan + title + colorReset
	}
	b.WriteString(title + "\n\n")
}

func writePreviewMetrics(b *strings.Builder, r *Result, stats DiffStats, opts PreviewOptions) {
	label := func(s string) string {
		if opts.ColorOutput {
			return colorBold + s + colorReset
		}
		return s
	}
	fmt.Fprintf(b, "%s %s (%s, confidence %.2f)\n", label("Content type:"), r.ContentType, r.Strategy, r.Analysis.Confidence)
	fmt.Fprintf(b, "%s %d -> %d chars (target %d)\n", label("Size:"), r.OriginalSize, r.CompressedSize, r.Decision.TargetSize)
	fmt.Fprintf(b, "%s %.1f%%\n", label("Compression rate:"), r.CompressionRate*100)
	fmt.Fprintf(b, "%s %d kept, %d removed, %d added\n", label("Lines:"), stats.Kept, stats.Removed, stats.Added)
	if r.FellBack {
		b.WriteString(label("Fallback:") + " strategy failed, head truncation used\n")
	}
	b.WriteString("\n")
}

func writeUnified(b *strings.Builder, lines []diffLine, opts PreviewOptions) {
	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.op != diffmatchpatch.DiffEqual || opts.Context < 0 {
			keep[i] = true
			continue
		}
		for j := max(0, i-opts.Context); j <= min(len(lines)-1, i+opts.Context); j++ {
			if lines[j].op != diffmatchpatch.DiffEqual {
				keep[i] = true
				break
			}
		}
	}

	skipped := false
	for i, l := range lines {
		if !keep[i] {
			if !skipped {
				b.WriteString("@@\n")
				skipped = true
			}
			continue
		}
		skipped = false
		switch l.op {
		case diffmatchpatch.DiffDelete:
			writeDiffLine(b, "-", l.text, colorRed, opts.ColorOutput)
		case diffmatchpatch.DiffInsert:
			writeDiffLine(b, "+", l.text, colorGreen, opts.ColorOutput)
		default:
			writeDiffLine(b, " ", l.text, "", false)
		}
	}
}

func writeDiffLine(b *strings.Builder, prefix, text, color string, colored bool) {
	if colored {
		b.WriteString(color + prefix + text + colorReset + "\n")
		return
	}
	b.WriteString(prefix + text + "\n")
}
