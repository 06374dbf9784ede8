package providers

import (
	"context"
	"errors"
	"strings"
)

// ErrProviderFailure marks errors returned by an external recognition service.
var ErrProviderFailure = errors.New("provider failure")

// Hints carries optional, provider specific input for a detection.
type Hints struct {
	// Models overrides the provider's default model selection.
	Models []string
	// AssetPath is the asset's folder path in the DAM; some providers map
	// folders to model sets.
	AssetPath string
}

// Response represents the output of one provider for one image
type Response struct {
	Tags     []string
	Metadata map[string]any
}

// NewResponse returns an empty response with initialised metadata.
func NewResponse() *Response {
	return &Response{Metadata: map[string]any{}}
}

// Provider defines the interface for an image recognition provider
type Provider interface {
	Name() string
	Detect(ctx context.Context, file string, hints Hints) (*Response, error)
}

// Translator translates text into metadata fields, one field per language.
type Translator interface {
	Translate(ctx context.Context, text string) (map[string]any, error)
}

// Merge combines provider responses in order. Metadata is merged last writer
// wins per key. Tags are de-duplicated keeping the first occurrence.
func Merge(responses ...*Response) *Response {
	merged := NewResponse()
	seen := map[string]struct{}{}

	for _, resp := range responses {
		if resp == nil {
			continue
		}
		for k, v := range resp.Metadata {
			merged.Metadata[k] = v
		}
		for _, tag := range resp.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			merged.Tags = append(merged.Tags, tag)
		}
	}
	return merged
}

// JoinMultiValues joins values into an Elvis multi-value string. Empty values
// are dropped and the ';' separator is stripped from the values themselves.
func JoinMultiValues(values []string) string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(strings.ReplaceAll(v, ";", " "))
		if v == "" {
			continue
		}
		cleaned = append(cleaned, v)
	}
	return strings.Join(cleaned, ";")
}

// NormalizeTags lowercases and trims tags, dropping empty ones.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
