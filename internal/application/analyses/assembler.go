package analyses

import (
	"sort"
	"strings"

	"github.com/bryanwahyu/sans-pilot/internal/domain/analysis"
)

// ItemKind tags one element of a run response.
type ItemKind string

const (
	ItemText  ItemKind = "text"
	ItemImage ItemKind = "image"
	ItemFile  ItemKind = "file"
)

// ResponseItem is text or an artifact.
type ResponseItem struct {
	Kind     ItemKind                     `json:"kind"`
	Text     string                       `json:"text,omitempty"`
	Artifact *analysis.ArtifactDescriptor `json:"artifact,omitempty"`
}

// Response is the ordered answer to run-analysis: the fit summary first,
// then artifacts ordered by label.
type Response []ResponseItem

// Assemble classifies the result's artifacts and orders the response.
// Artifact values that are not non-empty strings are skipped.
func Assemble(res analysis.Result) Response {
	out := make(Response, 0, len(res.Artifacts)+1)
	if strings.TrimSpace(res.Fit) != "" {
		out = append(out, ResponseItem{Kind: ItemText, Text: res.Fit})
	}

	labels := make([]string, 0, len(res.Artifacts))
	for label := range res.Artifacts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		path, ok := res.Artifacts[label].(string)
		if !ok || strings.TrimSpace(path) == "" {
			continue
		}
		d := analysis.Classify(label, path)
		kind := ItemFile
		if d.Kind == analysis.ArtifactImage {
			kind = ItemImage
		}
		out = append(out, ResponseItem{Kind: kind, Artifact: &d})
	}
	return out
}

// Artifacts returns the descriptors in response order.
func (r Response) Artifacts() []*analysis.ArtifactDescriptor {
	var out []*analysis.ArtifactDescriptor
	for _, item := range r {
		if item.Artifact != nil {
			out = append(out, item.Artifact)
		}
	}
	return out
}
