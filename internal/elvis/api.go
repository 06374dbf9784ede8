package elvis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Hit is a single asset returned by search or update.
type Hit struct {
	ID           string         `json:"id"`
	PreviewURL   string         `json:"previewUrl,omitempty"`
	ThumbnailURL string         `json:"thumbnailUrl,omitempty"`
	OriginalURL  string         `json:"originalUrl,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Filename returns the asset's filename metadata, if the server returned it.
func (h *Hit) Filename() string {
	if h == nil || h.Metadata == nil {
		return ""
	}
	name, _ := h.Metadata["filename"].(string)
	return name
}

// SearchResponse is the body returned by /services/search.
type SearchResponse struct {
	TotalHits     int   `json:"totalHits"`
	FirstResult   int   `json:"firstResult"`
	MaxResultHits int   `json:"maxResultHits"`
	Hits          []Hit `json:"hits"`
}

// Search describes a /services/search call.
type Search struct {
	Query         string
	FirstResult   int
	MaxResultHits int
	// Sort uses the Elvis sort syntax, e.g. "assetCreated-" for descending.
	Sort                 string
	ReturnPendingImports bool
	MetadataToReturn     string
}

func (s Search) values() url.Values {
	v := url.Values{}
	v.Set("q", s.Query)
	v.Set("firstResult", strconv.Itoa(s.FirstResult))
	if s.MaxResultHits > 0 {
		v.Set("maxResultHits", strconv.Itoa(s.MaxResultHits))
	}
	if s.Sort != "" {
		v.Set("sort", s.Sort)
	}
	if s.ReturnPendingImports {
		v.Set("returnPendingImports", "true")
	}
	if s.MetadataToReturn != "" {
		v.Set("metadataToReturn", s.MetadataToReturn)
	}
	return v
}

// Search runs a query against the Elvis search API.
func (c *Client) Search(ctx context.Context, search Search) (*SearchResponse, error) {
	var sr SearchResponse
	if err := c.Request(ctx, http.MethodPost, "/services/search", search.values(), &sr); err != nil {
		return nil, fmt.Errorf("search %q failed: %w", search.Query, err)
	}
	return &sr, nil
}

// Update writes metadata to an asset. metadataToReturn selects the fields the
// server echoes back; the recognizer asks for "filename" so conflicts and log
// lines can be tied to a file.
func (c *Client) Update(ctx context.Context, id string, metadata map[string]any, metadataToReturn string) (*Hit, error) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	form := url.Values{}
	form.Set("id", id)
	form.Set("metadata", string(data))
	if metadataToReturn != "" {
		form.Set("metadataToReturn", metadataToReturn)
	}

	var hit Hit
	if err := c.Request(ctx, http.MethodPost, "/services/update", form, &hit); err != nil {
		return nil, fmt.Errorf("update of asset %s failed: %w", id, err)
	}
	return &hit, nil
}
