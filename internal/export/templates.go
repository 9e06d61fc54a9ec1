package export

import (
	"bytes"
	"html/template"
	"time"
)

// TemplateData drives the export page template.
type TemplateData struct {
	Title       string
	Subtitle    string
	Author      string
	Version     int
	PublishedAt *time.Time
	ContentHTML template.HTML
	Footnotes   []TemplateFootnote
	Comments    []TemplateComment
}

// TemplateFootnote is one numbered reference list entry.
type TemplateFootnote struct {
	Number int
	Text   string
}

// TemplateComment is an annotation discussion flattened for print, with
// replies indented under their excerpt.
type TemplateComment struct {
	Excerpt string
	Author  string
	Body    string
	Replies []TemplateReply
}

// TemplateReply is a nested reply under a comment.
type TemplateReply struct {
	Author string
	Body   string
}

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"formatDate": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Format("January 2, 2006")
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 760px; margin: 2rem auto; color: #1a1a1a; }
    h1 { margin-bottom: 0.25rem; }
    .subtitle { color: #555; font-size: 1.1em; margin-top: 0; }
    .meta { color: #777; font-size: 0.85em; margin-bottom: 2rem; }
    sup.citation a { text-decoration: none; }
    .annotation { background: #fff3c4; }
    .latex-error { color: #b00020; border-bottom: 1px dotted #b00020; }
    .footnotes { margin-top: 3rem; border-top: 1px solid #ccc; padding-top: 1rem; font-size: 0.9em; }
    .comment { background: #f6f6f6; padding: 0.75rem 1rem; margin: 0.75rem 0; border-left: 3px solid #888; }
    .comment .excerpt { font-style: italic; color: #555; }
    .reply { margin-left: 1.5rem; padding-top: 0.5rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{if .Subtitle}}<p class="subtitle">{{.Subtitle}}</p>{{end}}
  <div class="meta">
    {{.Author}} &middot; Version {{.Version}}{{if .PublishedAt}} &middot; Published {{formatDate .PublishedAt}}{{end}}
  </div>
  <div class="content">{{.ContentHTML}}</div>
  {{if .Footnotes}}
  <div class="footnotes">
    <h2>References</h2>
    <ol>
    {{range .Footnotes}}<li id="fn-{{.Number}}">{{.Text}}</li>
    {{end}}</ol>
  </div>
  {{end}}
  {{if .Comments}}
  <h2>Annotations</h2>
  {{range .Comments}}
  <div class="comment">
    {{if .Excerpt}}<div class="excerpt">&ldquo;{{.Excerpt}}&rdquo;</div>{{end}}
    <div><strong>{{.Author}}</strong> {{.Body}}</div>
    {{range .Replies}}<div class="reply"><strong>{{.Author}}</strong> {{.Body}}</div>{{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`))

// RenderPage renders the full export page.
func RenderPage(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
