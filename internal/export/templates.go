package export

import (
	"bytes"
	"embed"
	"html/template"
	"sort"
	"strings"

	"atelier/api/internal/collab"
)

//go:embed templates/*.html
var templateFS embed.FS

var sessionTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower":      strings.ToLower,
		"fieldTitle": fieldTitle,
	}

	content, err := templateFS.ReadFile("templates/session.html")
	if err != nil {
		// Fallback to built-in template if the embedded file is missing
		sessionTemplate = template.Must(template.New("session").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	sessionTemplate = template.Must(template.New("session").Funcs(funcMap).Parse(string(content)))
}

// templateField is a named artifact field in rendering order.
type templateField struct {
	Name    string
	Content string
}

type templateData struct {
	Name         string
	Description  string
	ArtifactType string
	Status       collab.Status
	VersionCount int
	Fields       []templateField
	OpenComments []collab.Comment
}

// RenderSessionHTML renders the session artifact as a standalone HTML page.
func RenderSessionHTML(session collab.Session) (string, error) {
	fields := make([]templateField, 0, len(session.Fields))
	for _, name := range sortedFieldNames(session.Fields) {
		fields = append(fields, templateField{Name: name, Content: session.Fields[name]})
	}
	sort.SliceStable(session.Comments, func(i, j int) bool {
		return session.Comments[i].CreatedAt.Before(session.Comments[j].CreatedAt)
	})

	data := templateData{
		Name:         session.Name,
		Description:  session.Description,
		ArtifactType: session.ArtifactType,
		Status:       session.Status,
		VersionCount: len(session.Versions),
		Fields:       fields,
		OpenComments: openComments(session.Comments),
	}

	var buf bytes.Buffer
	if err := sessionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .field { margin-bottom: 2rem; white-space: pre-wrap; }
    .comment { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">{{.ArtifactType | lower}} | {{.Status}} | {{.VersionCount}} versions</div>
  {{range .Fields}}
  <h2>{{fieldTitle .Name}}</h2>
  <div class="field">{{.Content}}</div>
  {{end}}
  {{if .OpenComments}}
  <h2>Open Comments</h2>
  {{range .OpenComments}}<div class="comment"><strong>{{.AuthorName}}</strong> ({{.Type}}): {{.Content}}</div>{{end}}
  {{end}}
</body>
</html>`
