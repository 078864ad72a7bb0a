// Package export renders a session's artifact into downloadable formats.
package export

import (
	"encoding/json"
	"errors"
	"fmt"

	"atelier/api/internal/collab"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
)

var (
	ErrUnknownFormat        = errors.New("unknown export format")
	ErrPDFDependencyMissing = errors.New("pdf export unavailable")
)

// Result is a rendered download.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Export(session collab.Session, format Format) (*Result, error) {
	switch format {
	case FormatJSON:
		return exportJSON(session)
	case FormatMarkdown:
		return exportMarkdown(session)
	case FormatHTML:
		html, err := RenderSessionHTML(session)
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(session.Name) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		html, err := RenderSessionHTML(session)
		if err != nil {
			return nil, err
		}
		return exportPDF(html, session.Name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

func exportJSON(session collab.Session) (*Result, error) {
	payload := struct {
		ID           string            `json:"id"`
		Name         string            `json:"name"`
		Description  string            `json:"description"`
		ArtifactType string            `json:"artifactType"`
		Status       collab.Status     `json:"status"`
		Fields       map[string]string `json:"fields"`
		Versions     int               `json:"versions"`
	}{
		ID:           session.ID,
		Name:         session.Name,
		Description:  session.Description,
		ArtifactType: session.ArtifactType,
		Status:       session.Status,
		Fields:       session.Fields,
		Versions:     len(session.Versions),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return &Result{
		Data:     append(data, '\n'),
		Filename: sanitizeFilename(session.Name) + ".json",
		MimeType: "application/json",
	}, nil
}

// sanitizeFilename creates a safe filename from a session name.
func sanitizeFilename(name string) string {
	result := ""
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "artifact"
	}
	return result
}
