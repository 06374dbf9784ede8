package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lehigh-university-libraries/autotagger/internal/elvis"
	"github.com/lehigh-university-libraries/autotagger/internal/jobs"
	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

// Recognizer tags single assets and uploaded files.
type Recognizer interface {
	Recognize(ctx context.Context, assetID string, hints providers.Hints) (*elvis.Hit, error)
	RecognizeFile(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error)
}

// BatchRunner starts batch jobs in the background.
type BatchRunner interface {
	Start(ctx context.Context, job *jobs.Job)
}

type Options struct {
	Recognizer Recognizer
	Jobs       *jobs.Registry
	Batch      BatchRunner
	// WebhookToken is the secret Elvis signs webhook events with.
	WebhookToken string
	TempDir      string
	// BaseContext is the parent of work that outlives a request. It is
	// cancelled on shutdown.
	BaseContext context.Context
}

type Handler struct {
	recognizer   Recognizer
	jobs         *jobs.Registry
	batch        BatchRunner
	webhookToken []byte
	tempDir      string
	baseCtx      context.Context
	background   sync.WaitGroup
}

func New(opts Options) *Handler {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Jobs == nil {
		opts.Jobs = jobs.NewRegistry()
	}
	return &Handler{
		recognizer:   opts.Recognizer,
		jobs:         opts.Jobs,
		batch:        opts.Batch,
		webhookToken: []byte(opts.WebhookToken),
		tempDir:      opts.TempDir,
		baseCtx:      opts.BaseContext,
	}
}

// Wait blocks until recognitions started by webhook events have returned.
func (h *Handler) Wait() {
	h.background.Wait()
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message)
	} else {
		slog.Warn(message)
	}
	http.Error(w, message, code)
}
