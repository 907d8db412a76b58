package textproc

import (
	"html"
	"regexp"
	"strings"

	"live-interview-chat/backend/pkg/errors"
)

// Metadata describes the structure extracted while rendering a message.
type Metadata struct {
	HasFormatting bool     `json:"has_formatting"`
	Bold          bool     `json:"bold,omitempty"`
	Italic        bool     `json:"italic,omitempty"`
	Code          bool     `json:"code,omitempty"`
	Quote         bool     `json:"quote,omitempty"`
	Mentions      []string `json:"mentions,omitempty"`
	Links         []string `json:"links,omitempty"`
	WordCount     int      `json:"word_count"`
	CharCount     int      `json:"char_count"`
}

var (
	boldPattern    = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicPattern  = regexp.MustCompile(`\*([^*]+)\*`)
	codePattern    = regexp.MustCompile("`([^`]+)`")
	mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)
	urlPattern     = regexp.MustCompile(`https?://[^\s<]+`)
)

// Formatter validates chat markup and renders it to a display form.
// Supported markup: **bold**, *italic*, `code`, "> " quoted lines,
// @mentions and bare links.
type Formatter struct {
	maxLength int
}

// NewFormatter creates a formatter. maxLength bounds raw input size;
// zero disables the bound.
func NewFormatter(maxLength int) *Formatter {
	return &Formatter{maxLength: maxLength}
}

// Render validates the markup and produces the display form plus the
// structured metadata. Malformed markup is a validation error.
func (f *Formatter) Render(content string) (string, Metadata, error) {
	meta := Metadata{}

	if strings.TrimSpace(content) == "" {
		return "", meta, errors.NewValidationError("EMPTY_MESSAGE", "Message must not be empty")
	}
	if f.maxLength > 0 && len(content) > f.maxLength {
		return "", meta, errors.NewValidationError("MESSAGE_TOO_LONG", "Message exceeds the maximum length")
	}
	if err := validateMarkup(content); err != nil {
		return "", meta, err
	}

	meta.WordCount = len(strings.Fields(content))
	meta.CharCount = len([]rune(content))

	rendered := html.EscapeString(content)

	// Quoted lines first so inline markup still applies inside them
	lines := strings.Split(rendered, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, "&gt; ") {
			lines[i] = "<blockquote>" + strings.TrimPrefix(line, "&gt; ") + "</blockquote>"
			meta.Quote = true
		}
	}
	rendered = strings.Join(lines, "\n")

	if codePattern.MatchString(rendered) {
		rendered = codePattern.ReplaceAllString(rendered, "<code>$1</code>")
		meta.Code = true
	}
	if boldPattern.MatchString(rendered) {
		rendered = boldPattern.ReplaceAllString(rendered, "<strong>$1</strong>")
		meta.Bold = true
	}
	if italicPattern.MatchString(rendered) {
		rendered = italicPattern.ReplaceAllString(rendered, "<em>$1</em>")
		meta.Italic = true
	}

	// An @ inside a link is part of the URL, not a mention.
	linkSpans := urlPattern.FindAllStringIndex(rendered, -1)
	for _, m := range mentionPattern.FindAllStringSubmatchIndex(rendered, -1) {
		if insideSpan(linkSpans, m[0]) {
			continue
		}
		meta.Mentions = append(meta.Mentions, rendered[m[2]:m[3]])
	}

	if len(linkSpans) > 0 {
		for _, span := range linkSpans {
			meta.Links = append(meta.Links, rendered[span[0]:span[1]])
		}
		rendered = urlPattern.ReplaceAllStringFunc(rendered, func(url string) string {
			return `<a href="` + url + `">` + url + `</a>`
		})
	}

	meta.HasFormatting = meta.Bold || meta.Italic || meta.Code || meta.Quote || len(meta.Mentions) > 0
	return rendered, meta, nil
}

func insideSpan(spans [][]int, pos int) bool {
	for _, s := range spans {
		if pos >= s[0] && pos < s[1] {
			return true
		}
	}
	return false
}

// validateMarkup rejects unbalanced markers before any rendering happens.
func validateMarkup(content string) error {
	if strings.Count(content, "`")%2 != 0 {
		return errors.NewValidationError("MALFORMED_MARKUP", "Unbalanced code markers")
	}

	doubles := strings.Count(content, "**")
	if doubles%2 != 0 {
		return errors.NewValidationError("MALFORMED_MARKUP", "Unbalanced bold markers")
	}

	singles := strings.Count(strings.ReplaceAll(content, "**", ""), "*")
	if singles%2 != 0 {
		return errors.NewValidationError("MALFORMED_MARKUP", "Unbalanced italic markers")
	}

	return nil
}
