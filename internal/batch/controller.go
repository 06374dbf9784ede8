package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lehigh-university-libraries/autotagger/internal/elvis"
	"github.com/lehigh-university-libraries/autotagger/internal/jobs"
	"github.com/lehigh-university-libraries/autotagger/internal/providers"
	"github.com/lehigh-university-libraries/autotagger/internal/recognizer"
)

const DefaultPageSize = 5

// Searcher finds the assets a batch job works through.
type Searcher interface {
	Search(ctx context.Context, search elvis.Search) (*elvis.SearchResponse, error)
}

// Recognizer tags a single asset.
type Recognizer interface {
	Recognize(ctx context.Context, assetID string, hints providers.Hints) (*elvis.Hit, error)
}

type Options struct {
	PageSize int
	// HardCancel also cancels recognitions already running on the current
	// page. By default a cancelled job finishes its current page first.
	HardCancel bool
}

// Controller runs batch jobs page by page.
type Controller struct {
	searcher   Searcher
	recognizer Recognizer
	opts       Options
	wg         sync.WaitGroup
}

func New(searcher Searcher, rec Recognizer, opts Options) *Controller {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	return &Controller{
		searcher:   searcher,
		recognizer: rec,
		opts:       opts,
	}
}

// Start runs job in the background. ctx should outlive the request that
// created the job.
func (c *Controller) Start(ctx context.Context, job *jobs.Job) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.Run(ctx, job); err != nil {
			slog.Error("Batch job failed", "jobId", job.ID, "err", err)
		}
	}()
}

// Wait blocks until every job started with Start has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Run processes job synchronously and returns once it reached a terminal
// state. The returned error is the search failure, if any.
func (c *Controller) Run(ctx context.Context, job *jobs.Job) error {
	if !job.Start() {
		return fmt.Errorf("job %s is already %s", job.ID, job.State())
	}

	query := fmt.Sprintf("(%s) AND assetDomain:image", job.Query)
	slog.Info("Batch job started", "jobId", job.ID, "query", query, "pageSize", c.opts.PageSize)

	for page := 0; ; page++ {
		offset := page * c.opts.PageSize

		if job.Cancelled() {
			c.finish(job, jobs.StateCancelled, "")
			return nil
		}

		sr, err := c.searcher.Search(ctx, elvis.Search{
			Query:         query,
			FirstResult:   offset,
			MaxResultHits: c.opts.PageSize,
			Sort:          "assetCreated-",
		})
		if err != nil {
			err = fmt.Errorf("search at offset %d failed: %w", offset, err)
			c.finish(job, jobs.StateFailed, err.Error())
			return err
		}

		hits := sr.Hits
		// Offsets advance by PageSize, so anything beyond it is left for the next page.
		if len(hits) > c.opts.PageSize {
			hits = hits[:c.opts.PageSize]
		}

		c.processPage(ctx, job, page, hits)

		slog.Info("Batch page processed",
			"jobId", job.ID,
			"page", page,
			"hits", len(hits),
			"successCount", job.SuccessCount(),
			"failedCount", job.FailedCount())

		switch {
		case job.Cancelled():
			c.finish(job, jobs.StateCancelled, "")
			return nil
		case len(hits) < c.opts.PageSize:
			c.finish(job, jobs.StateCompleted, "")
			return nil
		}
	}
}

// processPage recognizes every hit of a page concurrently and waits for all
// of them, whatever their outcome.
func (c *Controller) processPage(ctx context.Context, job *jobs.Job, page int, hits []elvis.Hit) {
	pageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.opts.HardCancel {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-job.Done():
				cancel()
			case <-stop:
			}
		}()
	}

	var wg sync.WaitGroup
	for _, hit := range hits {
		wg.Add(1)
		go func(assetID string) {
			defer wg.Done()
			start := time.Now()
			_, err := c.recognizer.Recognize(pageCtx, assetID, providers.Hints{})

			outcome := jobs.Outcome{
				AssetID:  assetID,
				Success:  err == nil,
				Duration: time.Since(start),
				Page:     page,
			}
			if err != nil {
				outcome.Error = err.Error()
				outcome.Quiet = recognizer.IsQuiet(err) || (job.Cancelled() && errors.Is(err, context.Canceled))
				if !outcome.Quiet {
					slog.Error("Image recognition failed", "jobId", job.ID, "assetId", assetID, "err", err)
				}
			}
			job.Record(outcome)
		}(hit.ID)
	}
	wg.Wait()
}

func (c *Controller) finish(job *jobs.Job, state jobs.State, reason string) {
	job.Finish(state, reason)
	slog.Info("Batch job finished",
		"jobId", job.ID,
		"state", job.State(),
		"successCount", job.SuccessCount(),
		"failedCount", job.FailedCount())
}
