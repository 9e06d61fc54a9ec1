package doc

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

var beginEndRe = regexp.MustCompile(`\\(begin|end)\{([^}]*)\}`)

// RenderLatex renders a LaTeX payload to display markup. It is a pure
// function of its inputs: malformed input produces a visible inline error
// marker instead of an error return, and rendering never panics, so a bad
// formula degrades one node without touching the rest of the document.
func RenderLatex(src string, display bool) string {
	trimmed := strings.TrimSpace(src)
	if reason := validateLatex(trimmed); reason != "" {
		return fmt.Sprintf(`<span class="latex latex-error" title=%s>%s</span>`,
			attrQuote(reason), html.EscapeString(trimmed))
	}
	escaped := html.EscapeString(trimmed)
	if display {
		return fmt.Sprintf(`<div class="latex latex-display">\[%s\]</div>`, escaped)
	}
	return fmt.Sprintf(`<span class="latex latex-inline">\(%s\)</span>`, escaped)
}

// validateLatex returns a reason string for input we refuse to render:
// empty source, unbalanced groups, or mismatched environments. It is a
// structural check, not a grammar; anything structurally sound renders.
func validateLatex(src string) string {
	if src == "" {
		return "empty formula"
	}

	depth := 0
	escaped := false
	for _, r := range src {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return "unbalanced braces"
			}
		}
	}
	if depth != 0 {
		return "unbalanced braces"
	}

	var envs []string
	for _, match := range beginEndRe.FindAllStringSubmatch(src, -1) {
		if match[1] == "begin" {
			envs = append(envs, match[2])
			continue
		}
		if len(envs) == 0 || envs[len(envs)-1] != match[2] {
			return "mismatched environment \\end{" + match[2] + "}"
		}
		envs = envs[:len(envs)-1]
	}
	if len(envs) > 0 {
		return "unclosed environment \\begin{" + envs[len(envs)-1] + "}"
	}
	return ""
}
