package render

import (
	"strings"
)

// MarkdownToText strips the supported Markdown constructs for terminal
// output. Links keep their address in parentheses so nothing is lost.
func MarkdownToText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, raw := range lines {
		line := strings.TrimRight(raw, " \t")
		trimmed := strings.TrimSpace(line)

		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			heading := plainInline(strings.TrimSpace(m[2]))
			out = append(out, heading)
			if len(m[1]) <= 2 {
				out = append(out, strings.Repeat("=", len([]rune(heading))))
			}
			continue
		}
		if item, ok := unorderedItem(trimmed); ok {
			out = append(out, "  * "+plainInline(item))
			continue
		}
		if m := orderedRe.FindStringSubmatch(trimmed); m != nil {
			out = append(out, "  "+m[1]+". "+plainInline(m[2]))
			continue
		}
		out = append(out, plainInline(trimmed))
	}
	return strings.TrimSpace(strings.Join(out, "\n")) + "\n"
}

func plainInline(s string) string {
	return inlineRe.ReplaceAllStringFunc(s, func(match string) string {
		m := inlineRe.FindStringSubmatch(match)
		switch {
		case strings.HasPrefix(match, "["):
			if m[1] == m[2] || m[2] == "" {
				return m[1]
			}
			return m[1] + " (" + m[2] + ")"
		case strings.HasPrefix(match, "**"):
			return m[3]
		default:
			return m[4]
		}
	})
}
