package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"atelier/api/internal/collab"
)

func sampleSession() collab.Session {
	return collab.Session{
		ID:           "sess_1",
		Name:         "Midnight Garden",
		Description:  "a short story about a garden",
		ArtifactType: "STORY",
		Status:       collab.StatusActive,
		Fields: map[string]string{
			"title":   "The Midnight Garden",
			"content": "Once upon a time...",
		},
		Comments: []collab.Comment{
			{ID: "cmt_1", AuthorName: "ana", Type: "suggestion", Content: "tighten the opening", CreatedAt: time.Now()},
			{ID: "cmt_2", AuthorName: "bob", Type: "general", Content: "done already", Resolved: true, CreatedAt: time.Now()},
		},
		Versions: []collab.Version{{VersionNumber: 1}},
	}
}

func TestExportMarkdown(t *testing.T) {
	svc := NewService()
	res, err := svc.Export(sampleSession(), FormatMarkdown)
	if err != nil {
		t.Fatalf("export markdown: %v", err)
	}
	got := string(res.Data)

	for _, want := range []string{
		"# Midnight Garden",
		"## Content",
		"Once upon a time...",
		"## Open Comments",
		"tighten the opening",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("markdown missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "done already") {
		t.Error("resolved comment should not appear in export")
	}
	if res.Filename != "Midnight-Garden.md" {
		t.Errorf("filename = %q", res.Filename)
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService()
	res, err := svc.Export(sampleSession(), FormatHTML)
	if err != nil {
		t.Fatalf("export html: %v", err)
	}
	got := string(res.Data)

	if !strings.Contains(got, "<h1>Midnight Garden</h1>") {
		t.Errorf("html missing title:\n%s", got)
	}
	if !strings.Contains(got, "Once upon a time...") {
		t.Error("html missing field content")
	}
	if !strings.Contains(got, "tighten the opening") {
		t.Error("html missing open comment")
	}
}

func TestExportHTMLEscapes(t *testing.T) {
	sess := sampleSession()
	sess.Fields["content"] = `<script>alert("x")</script>`

	res, err := NewService().Export(sess, FormatHTML)
	if err != nil {
		t.Fatalf("export html: %v", err)
	}
	if strings.Contains(string(res.Data), "<script>alert") {
		t.Error("field content was not escaped")
	}
}

func TestExportJSON(t *testing.T) {
	res, err := NewService().Export(sampleSession(), FormatJSON)
	if err != nil {
		t.Fatalf("export json: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(res.Data, &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["name"] != "Midnight Garden" {
		t.Errorf("name = %v", decoded["name"])
	}
	if decoded["versions"] != float64(1) {
		t.Errorf("versions = %v", decoded["versions"])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	if _, err := NewService().Export(sampleSession(), Format("docx")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Midnight Garden", "Midnight-Garden"},
		{"a/b\\c:d", "abcd"},
		{"", "artifact"},
		{strings.Repeat("x", 80), strings.Repeat("x", 50)},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
