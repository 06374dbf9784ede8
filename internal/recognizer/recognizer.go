package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/autotagger/internal/elvis"
	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

var (
	ErrNotFound       = errors.New("asset not found")
	ErrAmbiguousAsset = errors.New("asset query matched more than one asset")
	ErrNoProviders    = errors.New("no recognition providers configured")

	// ErrNoPreview is returned for assets without a preview, which is normal
	// for desktop client uploads that are still being imported.
	ErrNoPreview = errors.New("asset has no preview")
)

// IsQuiet reports whether err is an expected condition that should not be
// reported as a failure to operators.
func IsQuiet(err error) bool {
	return errors.Is(err, ErrNoPreview)
}

// DAM is the subset of the Elvis API the recognizer needs.
type DAM interface {
	Search(ctx context.Context, search elvis.Search) (*elvis.SearchResponse, error)
	Update(ctx context.Context, id string, metadata map[string]any, metadataToReturn string) (*elvis.Hit, error)
	RequestFile(ctx context.Context, fileURL, destination string) (string, error)
}

type Options struct {
	TempDir       string
	TagsField     string
	ModifiedField string
	// Translator is optional. When set, the merged tag string is translated
	// and the result merged into the asset metadata.
	Translator providers.Translator
}

// Recognizer downloads asset previews, runs them through every configured
// provider and writes the combined result back to the DAM.
type Recognizer struct {
	dam       DAM
	providers []providers.Provider
	opts      Options
	now       func() time.Time
}

func New(dam DAM, provs []providers.Provider, opts Options) (*Recognizer, error) {
	if len(provs) == 0 {
		return nil, ErrNoProviders
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.TagsField == "" {
		opts.TagsField = "tags"
	}
	return &Recognizer{
		dam:       dam,
		providers: provs,
		opts:      opts,
		now:       time.Now,
	}, nil
}

// Recognize tags a single asset and returns the updated hit.
func (r *Recognizer) Recognize(ctx context.Context, assetID string, hints providers.Hints) (*elvis.Hit, error) {
	start := time.Now()
	slog.Info("Image recognition started", "assetId", assetID)

	hit, err := r.findAsset(ctx, assetID)
	if err != nil {
		if IsQuiet(err) {
			slog.Debug("Skipping asset", "assetId", assetID, "err", err)
		}
		return nil, err
	}

	file, err := r.dam.RequestFile(ctx, hit.PreviewURL, r.tempPath(hit.PreviewURL, assetID))
	if err != nil {
		return nil, fmt.Errorf("failed to download preview for asset %s: %w", assetID, err)
	}
	defer func() {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Unable to remove temporary file", "file", file, "err", err)
		}
	}()

	merged, err := r.detect(ctx, file, hints)
	if err != nil {
		return nil, fmt.Errorf("recognition of asset %s failed: %w", assetID, err)
	}

	metadata := merged.Metadata
	tagString := providers.JoinMultiValues(merged.Tags)
	metadata[r.opts.TagsField] = tagString

	if r.opts.Translator != nil && tagString != "" {
		translated, err := r.opts.Translator.Translate(ctx, tagString)
		if err != nil {
			return nil, fmt.Errorf("translation for asset %s failed: %w", assetID, err)
		}
		for k, v := range translated {
			metadata[k] = v
		}
	}

	if r.opts.ModifiedField != "" {
		metadata[r.opts.ModifiedField] = r.now().UnixMilli()
	}

	updated, err := r.dam.Update(ctx, assetID, metadata, "filename")
	if err != nil {
		return nil, err
	}

	slog.Info("Image recognition finished",
		"assetId", assetID,
		"filename", updated.Filename(),
		"tags", len(merged.Tags),
		"duration", time.Since(start))
	return updated, nil
}

// RecognizeFile runs the providers on a local file without touching the DAM.
func (r *Recognizer) RecognizeFile(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	return r.detect(ctx, file, hints)
}

func (r *Recognizer) findAsset(ctx context.Context, assetID string) (*elvis.Hit, error) {
	query := "id:" + assetID
	sr, err := r.dam.Search(ctx, elvis.Search{
		Query:                query,
		ReturnPendingImports: true,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case len(sr.Hits) == 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, query)
	case len(sr.Hits) > 1:
		return nil, fmt.Errorf("%w: %s returned %d hits", ErrAmbiguousAsset, query, len(sr.Hits))
	}

	hit := sr.Hits[0]
	if hit.PreviewURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoPreview, assetID)
	}
	return &hit, nil
}

// detect fans out to every provider. The first failure cancels the rest.
func (r *Recognizer) detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	responses := make([]*providers.Response, len(r.providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range r.providers {
		g.Go(func() error {
			resp, err := p.Detect(gctx, file, hints)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name(), err)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return providers.Merge(responses...), nil
}

// tempPath builds <TempDir>/<base>_<uuid><ext> from the preview URL's file name.
func (r *Recognizer) tempPath(previewURL, assetID string) string {
	name := assetID
	if u, err := url.Parse(previewURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			name = base
		}
	}
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return filepath.Join(r.opts.TempDir, base+"_"+uuid.New().String()+ext)
}
