package cite

import (
	"fmt"
	"strings"

	"marginalia/api/internal/doc"
	"marginalia/api/internal/store"
)

// Footnote is one rendered entry in the reference list.
type Footnote struct {
	Number   int
	Citation store.Citation
	Text     string
}

// Footnotes renders one formatted entry per registry item in numbering
// order. Ids referenced by the tree but missing from the registry are
// skipped here; the caller decides how to surface them.
func Footnotes(root *doc.Node, registry []store.Citation) []Footnote {
	byID := make(map[string]store.Citation, len(registry))
	for _, citation := range registry {
		byID[citation.ID] = citation
	}
	var notes []Footnote
	for i, id := range Number(root) {
		citation, ok := byID[id]
		if !ok {
			continue
		}
		notes = append(notes, Footnote{Number: i + 1, Citation: citation, Text: FormatFootnote(citation)})
	}
	return notes
}

// FormatFootnote renders citation metadata in the single supported style.
// Absent fields are omitted, never rendered as blank placeholders.
func FormatFootnote(c store.Citation) string {
	var parts []string

	if authors := strings.TrimSpace(c.AuthorNames); authors != "" {
		parts = append(parts, ensurePeriod(authors))
	}
	if title := strings.TrimSpace(c.Title); title != "" {
		parts = append(parts, `"`+ensurePeriod(title)+`"`)
	}
	if publication := strings.TrimSpace(c.TitlePublication); publication != "" {
		segment := publication
		if c.Volume != "" {
			segment += ", vol. " + c.Volume
		}
		if c.Issue != "" {
			segment += ", no. " + c.Issue
		}
		if pages := formatPages(c.PageStart, c.PageEnd); pages != "" {
			segment += ", " + pages
		}
		parts = append(parts, segment+".")
	} else if pages := formatPages(c.PageStart, c.PageEnd); pages != "" {
		parts = append(parts, pages+".")
	}
	if publisher := strings.TrimSpace(c.Publisher); publisher != "" {
		parts = append(parts, ensurePeriod(publisher))
	}
	if date := formatDate(c.Year, c.Month, c.Day); date != "" {
		parts = append(parts, date+".")
	}
	if url := strings.TrimSpace(c.URL); url != "" {
		parts = append(parts, url)
	}

	return strings.Join(parts, " ")
}

func formatPages(start, end int) string {
	switch {
	case start > 0 && end > start:
		return fmt.Sprintf("pp. %d–%d", start, end)
	case start > 0:
		return fmt.Sprintf("p. %d", start)
	default:
		return ""
	}
}

func formatDate(year, month, day int) string {
	if year <= 0 {
		return ""
	}
	if month >= 1 && month <= 12 {
		if day > 0 {
			return fmt.Sprintf("%s %d, %d", monthNames[month-1], day, year)
		}
		return fmt.Sprintf("%s %d", monthNames[month-1], year)
	}
	return fmt.Sprintf("%d", year)
}

var monthNames = [...]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

func ensurePeriod(s string) string {
	if strings.HasSuffix(s, ".") || strings.HasSuffix(s, "?") || strings.HasSuffix(s, "!") {
		return s
	}
	return s + "."
}
