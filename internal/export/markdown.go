package export

import (
	"fmt"
	"sort"
	"strings"

	"atelier/api/internal/collab"
)

func exportMarkdown(session collab.Session) (*Result, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", session.Name)
	if session.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", session.Description)
	}
	fmt.Fprintf(&b, "**Type:** %s  \n", session.ArtifactType)
	fmt.Fprintf(&b, "**Status:** %s  \n", session.Status)
	fmt.Fprintf(&b, "**Versions:** %d\n\n", len(session.Versions))

	for _, name := range sortedFieldNames(session.Fields) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", fieldTitle(name), session.Fields[name])
	}

	if open := openComments(session.Comments); len(open) > 0 {
		b.WriteString("---\n\n## Open Comments\n\n")
		for _, c := range open {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", c.AuthorName, c.Type, c.Content)
		}
		b.WriteString("\n")
	}

	return &Result{
		Data:     []byte(b.String()),
		Filename: sanitizeFilename(session.Name) + ".md",
		MimeType: "text/markdown; charset=utf-8",
	}, nil
}

func sortedFieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fieldTitle(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func openComments(comments []collab.Comment) []collab.Comment {
	var open []collab.Comment
	for _, c := range comments {
		if !c.Resolved {
			open = append(open, c)
		}
	}
	return open
}
