package gemini

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

const DefaultModel = "gemini-1.5-flash"

type Options struct {
	APIKey    string
	Model     string
	TagsField string
}

// Gemini tags images with Google Gemini.
type Gemini struct {
	client    *genai.Client
	model     string
	tagsField string
}

// New returns a new Gemini provider
func New(ctx context.Context, opts Options) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not set")
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create new gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		model:     opts.Model,
		tagsField: opts.TagsField,
	}, nil
}

func (g *Gemini) Name() string {
	return "gemini"
}

func (g *Gemini) Close() error {
	return g.client.Close()
}

// Detect asks Gemini for keywords describing the image in file.
func (g *Gemini) Detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	data, err := providers.ReadImage(file)
	if err != nil {
		return nil, err
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.1)
	model.ResponseMIMEType = "application/json"

	// genai.ImageData wants the subtype only, e.g. "jpeg".
	format := providers.ImageMIMEType(file)[len("image/"):]
	resp, err := model.GenerateContent(ctx, genai.ImageData(format, data), genai.Text(providers.KeywordPrompt))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate content: %w", providers.ErrProviderFailure, err)
	}

	text, err := firstText(resp)
	if err != nil {
		return nil, err
	}

	tags, err := providers.ParseKeywords(text)
	if err != nil {
		return nil, err
	}
	return providers.KeywordResponse(tags, g.tagsField), nil
}

func firstText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned from Gemini", providers.ErrProviderFailure)
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty content returned from Gemini", providers.ErrProviderFailure)
	}

	if txt, ok := candidate.Content.Parts[0].(genai.Text); ok {
		return string(txt), nil
	}

	return "", fmt.Errorf("%w: unexpected response format from Gemini", providers.ErrProviderFailure)
}
