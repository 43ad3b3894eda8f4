package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"

	"github.com/bryanwahyu/sans-pilot/internal/application/analyses"
	"github.com/bryanwahyu/sans-pilot/internal/domain/fitting"
	"github.com/bryanwahyu/sans-pilot/internal/domain/sentinel"
)

type toolCallResult struct {
	Content           []toolContentItem `json:"content"`
	StructuredContent any               `json:"structuredContent,omitempty"`
	IsError           bool              `json:"isError,omitempty"`
}

type toolContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	Name     string `json:"name,omitempty"`
}

func newToolErrorResult(code, message string) toolCallResult {
	return toolCallResult{
		IsError: true,
		Content: []toolContentItem{
			{Type: "text", Text: fmt.Sprintf("ERROR: %s: %s", code, message)},
		},
		StructuredContent: map[string]any{
			"error": map[string]any{
				"code":    code,
				"message": message,
			},
		},
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "TIMEOUT"
	}
	return sentinel.Code(err)
}

// textResult renders v as indented JSON text and, when v is an object, as
// structured content too.
func textResult(v any, structured any) (toolCallResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolCallResult{}, fmt.Errorf("encode result: %w", err)
	}
	return toolCallResult{
		Content:           []toolContentItem{{Type: "text", Text: string(data)}},
		StructuredContent: structured,
	}, nil
}

func plainText(text string) toolCallResult {
	return toolCallResult{Content: []toolContentItem{{Type: "text", Text: text}}}
}

// responseContent turns an assembled run response into MCP content items,
// keeping its order. Images are inlined; other files become resource links.
func responseContent(resp analyses.Response) ([]toolContentItem, error) {
	items := make([]toolContentItem, 0, len(resp))
	for _, item := range resp {
		switch item.Kind {
		case analyses.ItemText:
			items = append(items, toolContentItem{Type: "text", Text: item.Text})
		case analyses.ItemImage:
			data, err := os.ReadFile(item.Artifact.Path)
			if err != nil {
				return nil, fmt.Errorf("read artifact '%s': %v: %w", item.Artifact.Label, err, sentinel.ErrIO)
			}
			items = append(items, toolContentItem{
				Type:     "image",
				Data:     base64.StdEncoding.EncodeToString(data),
				MIMEType: item.Artifact.MIMEType,
				Name:     item.Artifact.Label,
			})
		case analyses.ItemFile:
			uri := item.Artifact.URL
			if uri == "" {
				uri = fileURI(item.Artifact.Path)
			}
			items = append(items, toolContentItem{
				Type:     "resource_link",
				URI:      uri,
				Name:     item.Artifact.Name,
				MIMEType: item.Artifact.MIMEType,
			})
		}
	}
	return items, nil
}

func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// specView renders a parameter spec with non-finite bounds as the strings
// the fitting engine prints, since JSON has no infinity.
func specView(p fitting.ParameterSpec) map[string]any {
	return map[string]any{
		"value": jsonNumber(p.Value),
		"min":   jsonNumber(p.Min),
		"max":   jsonNumber(p.Max),
		"vary":  p.Vary,
	}
}

func jsonNumber(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fitting.FormatNumber(v)
	}
	return v
}
