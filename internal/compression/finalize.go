package compression

import (
	"strings"

	"github.com/fyrsmithlabs/skillctx/internal/textutil"
)

const (
	// ContinuationMarker ends every truncated result.
	ContinuationMarker = "\n\n[…truncated; see the full tool guide for more]"

	// RenderReminder is appended to chart output with no render call.
	RenderReminder = "\n\nReminder: end chart code with plt.show() or plt.savefig() so the figure is rendered."

	fenceClose = "\n```"
)

type finalizeInput struct {
	body        string
	content     string
	contentType ContentType
	config      TypeConfig
	target      int
	forceMarker bool
}

// finalize enforces the size bounds on a strategy's output. The result is
// never longer than target characters and, when the original allows it,
// never shorter than MinPreserved.
func finalize(in finalizeInput) (string, bool) {
	body := strings.TrimSpace(in.body)

	floor := min(in.config.MinPreserved, in.target, textutil.RuneLen(in.content))
	if textutil.RuneLen(body) < floor {
		body = padFrom(body, in.content, floor)
	}

	chart := in.contentType == ChartContent
	needsReminder := func(s string) bool { return chart && !HasRenderCall(s) }

	if !in.forceMarker {
		if fenceOpen(body) {
			body = strings.TrimRight(body, "\n") + fenceClose
		}
		extra := 0
		if needsReminder(body) {
			extra = textutil.RuneLen(RenderReminder)
		}
		if textutil.RuneLen(body)+extra <= in.target {
			if extra > 0 {
				body += RenderReminder
			}
			return body, false
		}
	}

	markerLen := textutil.RuneLen(ContinuationMarker)
	room := in.target - markerLen
	cut := capTo(body, room, floor-markerLen)
	reminder := ""
	if needsReminder(cut) {
		reminderLen := textutil.RuneLen(RenderReminder)
		cut = capTo(body, room-reminderLen, floor-markerLen-reminderLen)
		reminder = RenderReminder
	}
	out := cut + ContinuationMarker + reminder

	if textutil.RuneLen(out) > in.target {
		out = textutil.Truncate(out, in.target)
	}
	return out, true
}

// capTo cuts s to room characters, preferring a paragraph boundary unless
// that would leave fewer than floor characters, and closes a dangling code
// fence inside the same room. The result is never shorter than
// min(floor, room, len(s)).
func capTo(s string, room, floor int) string {
	if room <= 0 {
		return ""
	}
	cut := textutil.TruncateAtBoundary(s, room)
	if textutil.RuneLen(cut) < floor {
		cut = textutil.Truncate(s, room)
	}
	if !fenceOpen(cut) {
		return cut
	}
	size := textutil.RuneLen(cut)
	shorter := textutil.Truncate(cut, size-textutil.RuneLen(fenceClose))
	if fenceOpen(shorter) {
		return shorter + fenceClose
	}
	// The cut ends inside an opening fence line. Drop that partial line and
	// keep the length with blank lines.
	if i := strings.LastIndexByte(shorter, '\n'); i >= 0 && strings.HasPrefix(strings.TrimSpace(shorter[i+1:]), "`") {
		shorter = shorter[:i]
	}
	return shorter + strings.Repeat("\n", size-textutil.RuneLen(shorter))
}

// fenceOpen reports whether s ends inside a code block.
func fenceOpen(s string) bool {
	open := false
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			open = !open
		}
	}
	return open
}
