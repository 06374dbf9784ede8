package providers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// KeywordPrompt asks a vision capable LLM for descriptive keywords.
const KeywordPrompt = `You are an assistant that tags images for a digital asset management system.
Look at the image and return between 5 and 20 short, lowercase keywords describing
the objects, scene, setting, colours and activities visible in it.
Do not describe anything you cannot see.

Respond with JSON only, in this exact format:
{"keywords": ["keyword one", "keyword two"]}`

// ParseKeywords extracts the keyword list from an LLM reply. Markdown code
// fences are stripped; a bare JSON array or a comma separated line are
// accepted as a fallback.
func ParseKeywords(reply string) ([]string, error) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)

	if reply == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrProviderFailure)
	}

	var result struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(reply), &result); err == nil {
		return NormalizeTags(result.Keywords), nil
	}

	var list []string
	if err := json.Unmarshal([]byte(reply), &list); err == nil {
		return NormalizeTags(list), nil
	}

	slog.Warn("Failed to parse JSON keywords, falling back to comma separated text")
	if strings.ContainsAny(reply, "{}[]") {
		return nil, fmt.Errorf("%w: unparseable reply %q", ErrProviderFailure, reply)
	}
	return NormalizeTags(strings.Split(reply, ",")), nil
}

// KeywordResponse builds a Response from LLM keywords, optionally storing
// them in a provider specific metadata field.
func KeywordResponse(tags []string, tagsField string) *Response {
	resp := NewResponse()
	resp.Tags = tags
	if tagsField != "" {
		resp.Metadata[tagsField] = strings.Join(tags, ",")
	}
	return resp
}

// ImageMIMEType guesses the MIME type of an image from its extension.
func ImageMIMEType(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// ReadImage reads an image file for upload to a provider.
func ReadImage(file string) ([]byte, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}
