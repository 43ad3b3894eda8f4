package analysis

import (
	"context"
	"path/filepath"
	"strings"
)

// Parameters is the raw parameter bag of one invocation.
type Parameters map[string]any

// Reserved parameter keys filled in by the orchestration layer.
const (
	ParamInputCSV  = "input_csv"
	ParamOutputDir = "output_dir"
)

// Clone returns a shallow copy so callers can rewrite reserved keys.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// RunFunc is the entry point of an analysis unit.
type RunFunc func(ctx context.Context, params Parameters) (Result, error)

// Unit is a loaded analysis procedure.
type Unit struct {
	Name        string
	Description string
	Run         RunFunc
}

// Loader builds a Unit. It is called once at registry construction to cache
// the description and again for every invocation.
type Loader func() (Unit, error)

// Entry is one line of the analysis manifest.
type Entry struct {
	Name string
	Load Loader
}

// IsPrivate reports whether name is hidden from listings.
func IsPrivate(name string) bool {
	return strings.HasPrefix(name, "_")
}

// Result is what a unit returns. Artifacts maps a label to a path; values that
// are not strings are tolerated and ignored downstream.
type Result struct {
	Fit       string         `json:"fit"`
	Artifacts map[string]any `json:"artifacts"`
	Details   map[string]any `json:"details,omitempty"`
}

// ArtifactKind classifies an output file.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactFile  ArtifactKind = "file"
)

// ImageExtensions are the extensions rendered inline as images.
var ImageExtensions = map[string]string{
	".png": "image/png",
}

// ArtifactDescriptor is a classified output file.
type ArtifactDescriptor struct {
	Label    string       `json:"label"`
	Kind     ArtifactKind `json:"kind"`
	Path     string       `json:"path"`
	Name     string       `json:"name"`
	MIMEType string       `json:"mime_type"`
	// URL is set when the artifact was mirrored to object storage.
	URL string `json:"url,omitempty"`
}

// Classify builds the descriptor for path based on its extension.
func Classify(label, path string) ArtifactDescriptor {
	ext := strings.ToLower(filepath.Ext(path))
	d := ArtifactDescriptor{
		Label:    label,
		Kind:     ArtifactFile,
		Path:     path,
		Name:     filepath.Base(path),
		MIMEType: mimeForExt(ext),
	}
	if mt, ok := ImageExtensions[ext]; ok {
		d.Kind = ArtifactImage
		d.MIMEType = mt
	}
	return d
}

func mimeForExt(ext string) string {
	switch ext {
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
