package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

const (
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "llava"
)

type Options struct {
	URL        string
	Model      string
	TagsField  string
	HTTPClient *http.Client
}

// Ollama tags images with a vision model served by Ollama.
type Ollama struct {
	url       string
	model     string
	tagsField string
	client    *http.Client
}

// New returns a new Ollama provider
func New(opts Options) *Ollama {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Ollama{
		url:       strings.TrimSuffix(opts.URL, "/"),
		model:     opts.Model,
		tagsField: opts.TagsField,
		client:    opts.HTTPClient,
	}
}

func (o *Ollama) Name() string {
	return "ollama"
}

// Detect sends the image to /api/generate and parses the keyword reply.
func (o *Ollama) Detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	data, err := providers.ReadImage(file)
	if err != nil {
		return nil, err
	}

	requestBody, err := json.Marshal(map[string]interface{}{
		"model":  o.model,
		"prompt": providers.KeywordPrompt,
		"images": []string{base64.StdEncoding.EncodeToString(data)},
		"format": "json",
		"stream": false,
		"options": map[string]interface{}{
			"temperature": 0.1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url+"/api/generate", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call Ollama API: %w", providers.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama API returned status %d: %s", providers.ErrProviderFailure, resp.StatusCode, string(body))
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: failed to decode Ollama response: %w", providers.ErrProviderFailure, err)
	}

	tags, err := providers.ParseKeywords(response.Response)
	if err != nil {
		return nil, err
	}
	return providers.KeywordResponse(tags, o.tagsField), nil
}
