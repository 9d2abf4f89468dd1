package engine

import (
	"html"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2/search"

	"github.com/arclbx/tgindex/types"
)

const (
	// Character context kept on each side of a matched term.
	highlightSurround = 80
	// Upper bound on a single emitted fragment.
	maxFragmentLength = 250
	// Fragments beyond this are dropped rather than joined.
	maxFragments = 3

	fragmentSeparator = " ... "
	fallbackLength    = 150
)

// highlightHit produces the HTML-safe excerpt for one hit: matched terms
// wrapped in <b>, fragments joined with an ellipsis separator. When no
// match locations are available (match-all queries, highlighting errors)
// it falls back to a plain truncated excerpt.
func highlightHit(doc types.Document, locations search.FieldTermLocationMap) string {
	if locs, ok := locations[types.FieldContent]; ok && doc.Content != "" {
		if excerpt := highlightField(doc.Content, locs); excerpt != "" {
			return excerpt
		}
	}
	if locs, ok := locations[types.FieldAttachmentName]; ok && doc.AttachmentName != "" {
		if excerpt := highlightField(doc.AttachmentName, locs); excerpt != "" {
			return excerpt
		}
	}
	if doc.Content != "" {
		return html.EscapeString(truncate(doc.Content, fallbackLength))
	}
	return html.EscapeString(truncate(doc.AttachmentName, fallbackLength))
}

type span struct {
	start int
	end   int
}

func highlightField(text string, locs search.TermLocationMap) string {
	spans := collectSpans(text, locs)
	if len(spans) == 0 {
		return ""
	}

	fragments := make([]string, 0, maxFragments)
	for i := 0; i < len(spans) && len(fragments) < maxFragments; {
		// Group every span that fits in one fragment window.
		first := spans[i]
		j := i + 1
		for j < len(spans) && spans[j].end-first.start+2*highlightSurround <= maxFragmentLength {
			j++
		}
		fragments = append(fragments, renderFragment(text, spans[i:j]))
		i = j
	}
	return strings.Join(fragments, fragmentSeparator)
}

// collectSpans flattens the term location map into sorted, merged,
// boundary-checked byte ranges.
func collectSpans(text string, locs search.TermLocationMap) []span {
	var spans []span
	for _, positions := range locs {
		for _, loc := range positions {
			if loc == nil {
				continue
			}
			s, e := int(loc.Start), int(loc.End)
			if s < 0 || e > len(text) || s >= e {
				continue
			}
			spans = append(spans, span{start: s, end: e})
		}
	}
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func renderFragment(text string, spans []span) string {
	start := spans[0].start - highlightSurround
	if start < 0 {
		start = 0
	} else {
		start = utf8Boundary(text, start, true)
	}
	end := spans[len(spans)-1].end + highlightSurround
	if end > len(text) {
		end = len(text)
	} else {
		end = utf8Boundary(text, end, false)
	}

	var sb strings.Builder
	if start > 0 {
		sb.WriteString("...")
	}
	cursor := start
	for _, s := range spans {
		sb.WriteString(html.EscapeString(text[cursor:s.start]))
		sb.WriteString("<b>")
		sb.WriteString(html.EscapeString(text[s.start:s.end]))
		sb.WriteString("</b>")
		cursor = s.end
	}
	sb.WriteString(html.EscapeString(text[cursor:end]))
	if end < len(text) {
		sb.WriteString("...")
	}
	return sb.String()
}

// utf8Boundary nudges pos onto a rune boundary so fragments never cut a
// multi-byte character in half.
func utf8Boundary(s string, pos int, backward bool) int {
	if pos <= 0 {
		return 0
	}
	if pos >= len(s) {
		return len(s)
	}
	for i := 0; i < 4 && pos > 0 && pos < len(s); i++ {
		if (s[pos] & 0xC0) != 0x80 {
			return pos
		}
		if backward {
			pos--
		} else {
			pos++
		}
	}
	return pos
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	cut := utf8Boundary(s, maxLen, true)
	truncated := s[:cut]
	if lastSpace := strings.LastIndexAny(truncated, " \t\n.,;!?"); lastSpace > maxLen/2 {
		truncated = truncated[:lastSpace]
	}
	return truncated + "..."
}
