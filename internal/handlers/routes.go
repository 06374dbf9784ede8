package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Routes returns the router for the recognition API and the Elvis webhook.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Use(loggingMiddleware)
	api.HandleFunc("/recognize", h.HandleStartBatch).Methods(http.MethodPost)
	api.HandleFunc("/recognize", h.HandleListBatches).Methods(http.MethodGet)
	api.HandleFunc("/recognize/asset/{id}", h.HandleRecognizeAsset).Methods(http.MethodPost)
	api.HandleFunc("/recognize/{id}", h.HandleGetBatch).Methods(http.MethodGet)
	api.HandleFunc("/recognize/{id}", h.HandleCancelBatch).Methods(http.MethodDelete)
	api.HandleFunc("/recognizeFile", h.HandleRecognizeFile).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/", h.HandleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	}).Methods(http.MethodGet)

	// The search-by-image plugin runs inside the Elvis web client.
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Info("API call",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
