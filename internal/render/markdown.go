// Package render turns summarizer Markdown into HTML that is safe to place in
// a sandboxed frame. Only a small subset of Markdown is understood; anything
// else is emitted as escaped text.
package render

import (
	"regexp"
	"strings"
)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeHTML replaces the five HTML-significant characters with entities.
func EscapeHTML(text string) string {
	return htmlEscaper.Replace(text)
}

var allowedSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"mailto": true,
}

// SanitizeHref returns href unchanged when its scheme is http, https or
// mailto, and "#" otherwise. Relative and scheme-less addresses become "#".
func SanitizeHref(href string) string {
	trimmed := strings.TrimSpace(href)
	scheme, _, ok := strings.Cut(trimmed, ":")
	if !ok {
		return "#"
	}
	if !allowedSchemes[strings.ToLower(strings.TrimSpace(scheme))] {
		return "#"
	}
	return href
}

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	orderedRe = regexp.MustCompile(`^(\d+)\.\s+(.*)$`)
	// inlineRe matches, in priority order, a link, a bold run or a code span.
	inlineRe = regexp.MustCompile("\\[([^\\]]*)\\]\\(([^)\\s]*)\\)|\\*\\*([^*]+)\\*\\*|`([^`]+)`")
)

type listKind int

const (
	listNone listKind = iota
	listUnordered
	listOrdered
)

// MarkdownToHTML renders headings, unordered and ordered list items,
// paragraphs, links, bold and code spans. Every text run is escaped and every
// link opens in a new browsing context without referrer or opener access.
func MarkdownToHTML(text string) string {
	var (
		b         strings.Builder
		paragraph []string
		list      = listNone
	)

	flushParagraph := func() {
		if len(paragraph) == 0 {
			return
		}
		b.WriteString("<p>")
		b.WriteString(renderInline(strings.Join(paragraph, " ")))
		b.WriteString("</p>\n")
		paragraph = paragraph[:0]
	}
	closeList := func() {
		switch list {
		case listUnordered:
			b.WriteString("</ul>\n")
		case listOrdered:
			b.WriteString("</ol>\n")
		}
		list = listNone
	}
	openList := func(kind listKind) {
		if list == kind {
			return
		}
		closeList()
		if kind == listUnordered {
			b.WriteString("<ul>\n")
		} else {
			b.WriteString("<ol>\n")
		}
		list = kind
	}

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)

		if line == "" {
			flushParagraph()
			closeList()
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flushParagraph()
			closeList()
			level := string(rune('0' + len(m[1])))
			b.WriteString("<h" + level + ">")
			b.WriteString(renderInline(strings.TrimSpace(m[2])))
			b.WriteString("</h" + level + ">\n")
			continue
		}

		if item, ok := unorderedItem(line); ok {
			flushParagraph()
			openList(listUnordered)
			b.WriteString("<li>" + renderInline(item) + "</li>\n")
			continue
		}

		if m := orderedRe.FindStringSubmatch(line); m != nil {
			flushParagraph()
			openList(listOrdered)
			b.WriteString("<li>" + renderInline(m[2]) + "</li>\n")
			continue
		}

		closeList()
		paragraph = append(paragraph, line)
	}

	flushParagraph()
	closeList()
	return b.String()
}

func unorderedItem(line string) (string, bool) {
	for _, marker := range []string{"- ", "* "} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(line[len(marker):]), true
		}
	}
	return "", false
}

// renderInline escapes text between inline constructs and renders the
// constructs themselves. Labels are escaped too, so markup can never leak
// through a link or bold run.
func renderInline(s string) string {
	var b strings.Builder
	last := 0
	for _, m := range inlineRe.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(EscapeHTML(s[last:m[0]]))
		switch {
		case m[2] >= 0:
			label := s[m[2]:m[3]]
			href := s[m[4]:m[5]]
			b.WriteString(`<a href="`)
			b.WriteString(EscapeHTML(SanitizeHref(href)))
			b.WriteString(`" target="_blank" rel="noopener noreferrer">`)
			b.WriteString(EscapeHTML(label))
			b.WriteString("</a>")
		case m[6] >= 0:
			b.WriteString("<strong>" + EscapeHTML(s[m[6]:m[7]]) + "</strong>")
		case m[8] >= 0:
			b.WriteString("<code>" + EscapeHTML(s[m[8]:m[9]]) + "</code>")
		}
		last = m[1]
	}
	b.WriteString(EscapeHTML(s[last:]))
	return b.String()
}
