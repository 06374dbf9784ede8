package clarifai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

const (
	DefaultURL   = "https://api.clarifai.com/v2"
	GeneralModel = "general-image-recognition"

	// statusOK is Clarifai's success code inside the response body.
	statusOK = 10000
	// minConfidence is the lowest concept value that becomes a tag.
	minConfidence = 0.9
)

type Options struct {
	APIKey    string
	BaseURL   string
	TagsField string
	// Models replaces the general model when set.
	Models []string
	// PathModels maps an asset folder prefix to the models used for assets
	// below it. The longest matching prefix wins.
	PathModels map[string][]string
	HTTPClient *http.Client
}

// Clarifai detects concepts with the Clarifai v2 REST API.
type Clarifai struct {
	apiKey     string
	baseURL    string
	tagsField  string
	models     []string
	pathModels map[string][]string
	prefixes   []string
	client     *http.Client
}

func New(opts Options) (*Clarifai, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("clarifai API key not set")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultURL
	}
	if len(opts.Models) == 0 {
		opts.Models = []string{GeneralModel}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}

	prefixes := make([]string, 0, len(opts.PathModels))
	for prefix := range opts.PathModels {
		prefixes = append(prefixes, prefix)
	}
	// Longest first so the most specific folder wins.
	sort.Slice(prefixes, func(i, j int) bool {
		return len(prefixes[i]) > len(prefixes[j])
	})

	return &Clarifai{
		apiKey:     opts.APIKey,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		tagsField:  opts.TagsField,
		models:     opts.Models,
		pathModels: opts.PathModels,
		prefixes:   prefixes,
		client:     opts.HTTPClient,
	}, nil
}

func (c *Clarifai) Name() string {
	return "clarifai"
}

// ModelsFor picks the models for a detection: explicit hints first, then the
// asset path rules, then the configured defaults.
func (c *Clarifai) ModelsFor(hints providers.Hints) []string {
	if len(hints.Models) > 0 {
		return hints.Models
	}
	if hints.AssetPath != "" {
		for _, prefix := range c.prefixes {
			if strings.HasPrefix(hints.AssetPath, prefix) {
				return c.pathModels[prefix]
			}
		}
	}
	return c.models
}

func (c *Clarifai) Detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	data, err := providers.ReadImage(file)
	if err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(data)

	var tags []string
	for _, model := range c.ModelsFor(hints) {
		concepts, err := c.predict(ctx, model, encoded)
		if err != nil {
			return nil, err
		}
		for _, concept := range concepts {
			if concept.Value > minConfidence {
				tags = append(tags, strings.ToLower(concept.Name))
			}
		}
	}

	resp := providers.Merge(&providers.Response{Tags: tags})
	if c.tagsField != "" && len(resp.Tags) > 0 {
		resp.Metadata[c.tagsField] = strings.Join(resp.Tags, ",")
	}
	return resp, nil
}

type concept struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type status struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Details     string `json:"details"`
}

type predictResponse struct {
	Status  status `json:"status"`
	Outputs []struct {
		Status status `json:"status"`
		Data   struct {
			Concepts []concept `json:"concepts"`
		} `json:"data"`
	} `json:"outputs"`
}

func (c *Clarifai) predict(ctx context.Context, model, encodedImage string) ([]concept, error) {
	requestBody, err := json.Marshal(map[string]interface{}{
		"inputs": []map[string]interface{}{
			{
				"data": map[string]interface{}{
					"image": map[string]string{
						"base64": encodedImage,
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	url := c.baseURL + "/models/" + model + "/outputs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to call Clarifai API: %w", providers.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read Clarifai response: %w", providers.ErrProviderFailure, err)
	}

	var pr predictResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: clarifai API returned status %d: %s", providers.ErrProviderFailure, resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%w: failed to decode Clarifai response: %w", providers.ErrProviderFailure, err)
	}

	if resp.StatusCode != http.StatusOK || pr.Status.Code != statusOK {
		return nil, fmt.Errorf("%w: clarifai model %s returned status %d: %s %s",
			providers.ErrProviderFailure, model, pr.Status.Code, pr.Status.Description, pr.Status.Details)
	}
	if len(pr.Outputs) == 0 {
		return nil, fmt.Errorf("%w: no outputs returned from Clarifai model %s", providers.ErrProviderFailure, model)
	}
	return pr.Outputs[0].Data.Concepts, nil
}
