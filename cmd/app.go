package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/lehigh-university-libraries/autotagger/internal/clarifai"
	"github.com/lehigh-university-libraries/autotagger/internal/config"
	"github.com/lehigh-university-libraries/autotagger/internal/elvis"
	"github.com/lehigh-university-libraries/autotagger/internal/gemini"
	"github.com/lehigh-university-libraries/autotagger/internal/googlevision"
	"github.com/lehigh-university-libraries/autotagger/internal/ollama"
	"github.com/lehigh-university-libraries/autotagger/internal/openai"
	"github.com/lehigh-university-libraries/autotagger/internal/providers"
	"github.com/lehigh-university-libraries/autotagger/internal/ratelimit"
	"github.com/lehigh-university-libraries/autotagger/internal/recognizer"
	"github.com/lehigh-university-libraries/autotagger/internal/rekognition"
	"github.com/lehigh-university-libraries/autotagger/internal/translate"
)

// app holds the services shared by all commands.
type app struct {
	cfg        *config.Config
	elvis      *elvis.Client
	recognizer *recognizer.Recognizer
	closers    []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close client", "err", err)
		}
	}
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := elvis.NewClient(elvis.Options{
		BaseURL:  cfg.Elvis.URL,
		Username: cfg.Elvis.Username,
		Password: cfg.Elvis.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	a := &app{cfg: cfg, elvis: client}

	provs, err := a.buildProviders(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := recognizer.Options{
		TempDir:       cfg.TempDir,
		TagsField:     cfg.Elvis.TagsField,
		ModifiedField: cfg.ModifiedField,
	}
	if cfg.Translation.Enabled() {
		tr, err := buildTranslator(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts.Translator = tr
	}

	a.recognizer, err = recognizer.New(client, provs, opts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	return a, nil
}

func (a *app) buildProviders(ctx context.Context) ([]providers.Provider, error) {
	cfg := a.cfg
	var provs []providers.Provider
	var errs []error

	if cfg.Clarifai.Enabled {
		c, err := clarifai.New(clarifai.Options{
			APIKey:     cfg.Clarifai.APIKey,
			TagsField:  cfg.Clarifai.TagsField,
			Models:     cfg.Clarifai.Models,
			PathModels: cfg.Clarifai.PathModels,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			provs = append(provs, ratelimit.Wrap(c, cfg.Clarifai.Rate))
		}
	}

	if cfg.Google.Enabled {
		v, err := googlevision.New(ctx, googlevision.Options{
			KeyFilename: cfg.Google.KeyFilename,
			TagsField:   cfg.Google.TagsField,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			provs = append(provs, v)
		}
	}

	if cfg.AWS.Enabled {
		r, err := rekognition.New(ctx, rekognition.Options{
			AccessKey:       cfg.AWS.AccessKey,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			Region:          cfg.AWS.Region,
			TagsField:       cfg.AWS.TagsField,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			provs = append(provs, r)
		}
	}

	if cfg.Gemini.Enabled {
		g, err := gemini.New(ctx, gemini.Options{
			APIKey:    cfg.Gemini.APIKey,
			Model:     cfg.Gemini.Model,
			TagsField: cfg.Gemini.TagsField,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			provs = append(provs, g)
			a.closers = append(a.closers, g)
		}
	}

	if cfg.Ollama.Enabled {
		provs = append(provs, ollama.New(ollama.Options{
			URL:       cfg.Ollama.URL,
			Model:     cfg.Ollama.Model,
			TagsField: cfg.Ollama.TagsField,
		}))
	}

	if cfg.OpenAI.Enabled {
		o, err := openai.New(openai.Options{
			APIKey:    cfg.OpenAI.APIKey,
			Model:     cfg.OpenAI.Model,
			TagsField: cfg.OpenAI.TagsField,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			provs = append(provs, o)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}

	names := make([]string, 0, len(provs))
	for _, p := range provs {
		names = append(names, p.Name())
	}
	slog.Info("Recognition providers enabled", "providers", names)
	return provs, nil
}

func buildTranslator(ctx context.Context, cfg *config.Config) (*translate.Translator, error) {
	targets := make([]translate.Target, 0, len(cfg.Translation.Languages))
	for i, lang := range cfg.Translation.Languages {
		targets = append(targets, translate.Target{Language: lang, Field: cfg.Translation.TagFields[i]})
	}

	tr, err := translate.New(ctx, translate.Options{
		KeyFilename:    cfg.Google.KeyFilename,
		SourceLanguage: cfg.Translation.SourceLanguage,
		Targets:        targets,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfiguration, err)
	}
	return tr, nil
}
