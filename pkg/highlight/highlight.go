// Package highlight renders submission text with penalized passages wrapped
// in <b> tags.
package highlight

import (
	"html"
	"sort"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b")
	return p
}()

type span struct {
	start int
	end   int
}

// Render escapes text and wraps every literal occurrence of each highlight in
// <b>. Longer highlights win over shorter ones that overlap them.
func Render(text string, highlights []string) string {
	if text == "" {
		return ""
	}

	needles := uniqueNeedles(highlights)
	if len(needles) == 0 {
		return policy.Sanitize(html.EscapeString(text))
	}

	var spans []span
	for _, needle := range needles {
		offset := 0
		for {
			idx := strings.Index(text[offset:], needle)
			if idx < 0 {
				break
			}
			candidate := span{start: offset + idx, end: offset + idx + len(needle)}
			if !overlaps(spans, candidate) {
				spans = append(spans, candidate)
			}
			offset = candidate.end
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var out strings.Builder
	cursor := 0
	for _, s := range spans {
		out.WriteString(html.EscapeString(text[cursor:s.start]))
		out.WriteString("<b>")
		out.WriteString(html.EscapeString(text[s.start:s.end]))
		out.WriteString("</b>")
		cursor = s.end
	}
	out.WriteString(html.EscapeString(text[cursor:]))

	return policy.Sanitize(out.String())
}

func uniqueNeedles(highlights []string) []string {
	seen := make(map[string]struct{}, len(highlights))
	needles := make([]string, 0, len(highlights))
	for _, h := range highlights {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		needles = append(needles, h)
	}
	sort.SliceStable(needles, func(i, j int) bool { return len(needles[i]) > len(needles[j]) })
	return needles
}

func overlaps(spans []span, candidate span) bool {
	for _, s := range spans {
		if candidate.start < s.end && s.start < candidate.end {
			return true
		}
	}
	return false
}
