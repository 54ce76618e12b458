// Package filter strips reasoning markup from conversation text before it is
// persisted as memory.
package filter

import (
	"regexp"
	"strings"
)

// ReasoningTags are the XML-style tag names whose spans are removed.
var ReasoningTags = []string{
	"think",
	"thinking",
	"thought",
	"reasoning",
	"reflection",
	"inner_monologue",
	"scratchpad",
}

var (
	closedPatterns, openPatterns = buildPatterns()
	excessNewlines               = regexp.MustCompile(`\n{3,}`)
)

func buildPatterns() (closed, open []*regexp.Regexp) {
	for _, tag := range ReasoningTags {
		closed = append(closed, regexp.MustCompile(`(?is)<`+tag+`(?:\s[^>]*)?>.*?</`+tag+`\s*>`))
		// Only a reasoning block that opens the message and is never closed
		// is dropped; a tag mentioned mid-text is ordinary content.
		open = append(open, regexp.MustCompile(`(?is)\A\s*<`+tag+`(?:\s[^>]*)?>.*\z`))
	}

	closed = append(closed,
		regexp.MustCompile(`(?s)【(?:思考|思考过程|推理)】.*?【/(?:思考|思考过程|推理)】`),
		regexp.MustCompile(`(?is)\[(?:思考|推理|thinking|reasoning)\].*?\[/(?:思考|推理|thinking|reasoning)\]`),
		regexp.MustCompile(`(?s)（(?:思考|推理)[：:][^）]*）`),
		regexp.MustCompile(`(?i)\((?:思考|推理|thinking|reasoning)[：:][^)]*\)`),
		regexp.MustCompile("(?is)```(?:thinking|think|reasoning)[^\\n]*\\n.*?```"),
	)
	return closed, open
}

// Clean removes every reasoning span from text, collapses runs of three or
// more newlines to two and trims surrounding whitespace.
//
// Passes repeat until the text stops changing, so Clean(Clean(x)) == Clean(x)
// even when a removal splices together the halves of another marker.
func Clean(text string) string {
	for {
		next := stripAll(closedPatterns, text)
		// An opening tag still leading the text here has no closing tag.
		next = stripAll(openPatterns, next)
		next = excessNewlines.ReplaceAllString(next, "\n\n")
		next = strings.TrimSpace(next)
		if next == text {
			return next
		}
		text = next
	}
}

func stripAll(ps []*regexp.Regexp, text string) string {
	for {
		next := text
		for _, p := range ps {
			next = p.ReplaceAllString(next, "")
		}
		if next == text {
			return next
		}
		text = next
	}
}

// IsBlank reports whether cleaned text has nothing left worth persisting.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}
