package translate

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	translate "google.golang.org/api/translate/v2"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

// Target is a language to translate into and the metadata field receiving
// the translation.
type Target struct {
	Language string
	Field    string
}

type Options struct {
	KeyFilename    string
	SourceLanguage string
	Targets        []Target
	// Endpoint overrides the API endpoint and disables authentication.
	Endpoint string
}

// Translator translates tag strings with the Google Translate v2 API.
type Translator struct {
	svc     *translate.Service
	source  string
	targets []Target
}

func New(ctx context.Context, opts Options) (*Translator, error) {
	if opts.SourceLanguage == "" {
		return nil, fmt.Errorf("source language not set")
	}
	if len(opts.Targets) == 0 {
		return nil, fmt.Errorf("no translation languages configured")
	}

	var clientOpts []option.ClientOption
	switch {
	case opts.Endpoint != "":
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	case opts.KeyFilename != "":
		if _, err := os.Stat(opts.KeyFilename); err != nil {
			return nil, fmt.Errorf("google key file %q not usable: %w", opts.KeyFilename, err)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.KeyFilename))
	}

	svc, err := translate.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create translate client: %w", err)
	}

	// The source language needs no translation.
	var targets []Target
	for _, t := range opts.Targets {
		if t.Language != opts.SourceLanguage {
			targets = append(targets, t)
		}
	}

	return &Translator{svc: svc, source: opts.SourceLanguage, targets: targets}, nil
}

// Translate returns one metadata field per target language.
func (t *Translator) Translate(ctx context.Context, text string) (map[string]any, error) {
	results := make([]string, len(t.targets))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range t.targets {
		g.Go(func() error {
			resp, err := t.svc.Translations.List([]string{text}, target.Language).
				Source(t.source).
				Format("text").
				Context(gctx).
				Do()
			if err != nil {
				return fmt.Errorf("%w: translating tags to %s: %w", providers.ErrProviderFailure, target.Language, err)
			}
			if len(resp.Translations) == 0 {
				return fmt.Errorf("%w: no translation to %s returned", providers.ErrProviderFailure, target.Language)
			}
			results[i] = resp.Translations[0].TranslatedText
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metadata := make(map[string]any, len(t.targets))
	for i, target := range t.targets {
		metadata[target.Field] = results[i]
	}
	return metadata, nil
}
