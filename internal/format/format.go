// Package format turns normalized items into Telegram-HTML message bodies.
package format

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"

	"github.com/nandu-collab/marketpulse-bot/internal/domain"
)

// Ellipsis marks a hard cut.
const Ellipsis = "…"

// DefaultSummaryCap is the body budget in characters.
const DefaultSummaryCap = 350

var strict = bluemonday.StrictPolicy()

// blockTag matches tags that separate words when rendered.
var blockTag = regexp.MustCompile(`(?i)<(/?(?:p|div|li|ul|ol|br|tr|td|th|h[1-6]|blockquote)\b[^>]*)>`)

// Clean strips markup from source text and decodes entities. Block elements
// become line breaks; whitespace inside a line collapses to single spaces and
// blank lines are dropped.
func Clean(raw string) string {
	if raw == "" {
		return ""
	}
	broken := blockTag.ReplaceAllString(raw, "\n<$1>\n")
	text := html.UnescapeString(strict.Sanitize(broken))

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// CleanLine is Clean flattened onto a single line.
func CleanLine(raw string) string {
	return strings.ReplaceAll(Clean(raw), "\n", " ")
}

// Truncate limits body to limit runes. It cuts after the last sentence end
// inside the budget, or hard-cuts and appends Ellipsis when there is none.
// A non-positive limit disables truncation.
func Truncate(body string, limit int) string {
	runes := []rune(body)
	if limit <= 0 || len(runes) <= limit {
		return body
	}

	for i := limit - 1; i > 0; i-- {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		return string(runes[:i+1])
	}

	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace) + Ellipsis
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Formatter renders items within a body budget.
type Formatter struct {
	SummaryCap int
}

// New returns a formatter; a non-positive cap uses DefaultSummaryCap.
func New(summaryCap int) Formatter {
	if summaryCap <= 0 {
		summaryCap = DefaultSummaryCap
	}
	return Formatter{SummaryCap: summaryCap}
}

// Format returns the message text and the optional action link. All text
// originating from sources is escaped.
func (f Formatter) Format(item domain.Item) (string, string) {
	var b strings.Builder

	if title := strings.TrimSpace(item.Title); title != "" {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(title))
		b.WriteString("</b>")
	}

	if body := Truncate(strings.TrimSpace(item.Body), f.SummaryCap); body != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(html.EscapeString(body))
	}

	if tag := hashtag(item.Category); tag != "" {
		b.WriteString("\n\n")
		b.WriteString(tag)
	}

	return b.String(), strings.TrimSpace(item.Link)
}

// Digest renders a titled bullet list; lines are escaped.
func Digest(title string, lines []string) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>\n")
	for _, line := range lines {
		b.WriteString("\n• ")
		b.WriteString(html.EscapeString(line))
	}
	return b.String()
}

// DigestFormatter renders items whose body holds one bullet per line.
type DigestFormatter struct{}

// Format renders item as a Digest.
func (DigestFormatter) Format(item domain.Item) (string, string) {
	var lines []string
	for _, line := range strings.Split(item.Body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return Digest(item.Title, lines), strings.TrimSpace(item.Link)
}

func hashtag(c domain.Category) string {
	switch c {
	case domain.CategoryIPO:
		return "#IPO"
	case domain.CategoryFlows:
		return "#FIIDII"
	case domain.CategoryMarket:
		return "#Markets"
	default:
		return ""
	}
}
