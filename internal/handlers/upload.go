package handlers

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

const maxUploadSize = 10 * 1024 * 1024

// HandleRecognizeFile handles POST /api/recognizeFile. It runs the providers
// on an uploaded image and returns the tags as a comma separated string,
// which the search-by-image plugin turns into a query.
func (h *Handler) HandleRecognizeFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1024*1024)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, "File too large (max 10MB)", http.StatusRequestEntityTooLarge)
			return
		}
		h.writeError(w, "Failed to parse upload: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			slog.Warn("Unable to remove multipart files", "err", err)
		}
	}()

	file, header, err := r.FormFile("uploads[]")
	if err != nil {
		file, header, err = r.FormFile("file")
		if err != nil {
			h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	defer file.Close()

	if header.Size > maxUploadSize {
		h.writeError(w, "File too large (max 10MB)", http.StatusRequestEntityTooLarge)
		return
	}

	path, err := h.saveUpload(file, header)
	if err != nil {
		h.writeError(w, "Failed to save upload: "+err.Error(), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			slog.Warn("Unable to remove temporary file", "file", path, "err", err)
		}
	}()

	resp, err := h.recognizer.RecognizeFile(r.Context(), path, providers.Hints{})
	if err != nil {
		h.writeError(w, "Image recognition failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	slog.Info("Uploaded image recognized", "filename", header.Filename, "tags", len(resp.Tags))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, strings.Join(resp.Tags, ",")); err != nil {
		slog.Error("Unable to write response", "err", err)
	}
}

func (h *Handler) saveUpload(file multipart.File, header *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(h.tempDir, 0755); err != nil {
		return "", err
	}

	ext := filepath.Ext(header.Filename)
	path := filepath.Join(h.tempDir, "upload_"+uuid.New().String()+ext)

	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}
