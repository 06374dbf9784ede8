package openai

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
	DefaultURL   = "https://api.openai.com/v1"
	DefaultModel = "gpt-4o"
)

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	TagsField  string
	HTTPClient *http.Client
}

// OpenAI tags images with the chat completions API.
type OpenAI struct {
	apiKey    string
	baseURL   string
	model     string
	tagsField string
	client    *http.Client
}

// New returns a new OpenAI provider
func New(opts Options) (*OpenAI, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &OpenAI{
		apiKey:    opts.APIKey,
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		model:     opts.Model,
		tagsField: opts.TagsField,
		client:    opts.HTTPClient,
	}, nil
}

func (o *OpenAI) Name() string {
	return "openai"
}

// Detect sends the image as a data URL and parses the keyword reply.
func (o *OpenAI) Detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	data, err := providers.ReadImage(file)
	if err != nil {
		return nil, err
	}
	dataURL := "data:" + providers.ImageMIMEType(file) + ";base64," + base64.StdEncoding.EncodeToString(data)

	requestBody, err := json.Marshal(map[string]interface{}{
		"model": o.model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": providers.KeywordPrompt,
					},
					{
						"type": "image_url",
						"image_url": map[string]string{
							"url": dataURL,
						},
					},
				},
			},
		},
		"response_format": map[string]string{"type": "json_object"},
		"max_tokens":      500,
		"temperature":     0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call OpenAI API: %w", providers.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: openAI API returned status %d: %s", providers.ErrProviderFailure, resp.StatusCode, string(body))
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("%w: failed to decode OpenAI response: %w", providers.ErrProviderFailure, err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned from OpenAI", providers.ErrProviderFailure)
	}

	tags, err := providers.ParseKeywords(response.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return providers.KeywordResponse(tags, o.tagsField), nil
}
