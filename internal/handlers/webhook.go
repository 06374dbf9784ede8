package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
	"github.com/lehigh-university-libraries/autotagger/internal/recognizer"
)

const maxWebhookBody = 1 << 20

// webhookEvent is the subset of an Elvis webhook event used here.
type webhookEvent struct {
	Type     string `json:"type"`
	AssetID  string `json:"assetId"`
	Metadata struct {
		AssetDomain string `json:"assetDomain"`
		AssetPath   string `json:"assetPath"`
	} `json:"metadata"`
	ChangedMetadata struct {
		PreviewState *struct {
			OldValue string `json:"oldValue"`
			NewValue string `json:"newValue"`
		} `json:"previewState"`
	} `json:"changedMetadata"`
}

// HandleWebhook handles POST / from the Elvis webhook. Elvis gets its
// response before recognition starts.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, "Failed to read webhook body: "+err.Error(), http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("x-hook-signature")
	if !h.validSignature(signature, body) {
		h.writeError(w, "Invalid webhook signature, check IR_ELVIS_TOKEN", http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, "Invalid webhook event: "+err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)

	if !event.wanted() {
		return
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		hints := providers.Hints{AssetPath: event.Metadata.AssetPath}
		if _, err := h.recognizer.Recognize(h.baseCtx, event.AssetID, hints); err != nil && !recognizer.IsQuiet(err) {
			slog.Error("Image recognition failed", "assetId", event.AssetID, "err", err)
		}
	}()
}

func (h *Handler) validSignature(signature string, body []byte) bool {
	if len(h.webhookToken) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.webhookToken)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// wanted reports whether the event is a preview becoming available for an
// image outside the Users folder, which the API user cannot access.
func (e webhookEvent) wanted() bool {
	if e.Type != "asset_update_metadata" || e.Metadata.AssetDomain == "" || e.Metadata.AssetPath == "" {
		slog.Warn("Ignoring webhook event, only asset_update_metadata events with assetDomain and assetPath are handled",
			"type", e.Type, "assetId", e.AssetID)
		return false
	}
	previewReady := e.ChangedMetadata.PreviewState != nil && e.ChangedMetadata.PreviewState.NewValue == "yes"
	return previewReady &&
		e.Metadata.AssetDomain == "image" &&
		!strings.HasPrefix(e.Metadata.AssetPath, "/Users/")
}
