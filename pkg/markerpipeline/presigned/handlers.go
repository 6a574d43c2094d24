package presigned

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
)

// Handlers serves signed PUT/GET transfer endpoints over a blob store.
// Every request is validated against the signer before the store is
// touched; an invalid or expired signature never reaches storage.
type Handlers struct {
	store  markerpipeline.BlobStore
	signer *Signer
	logger *slog.Logger
}

// HandlersOption configures Handlers.
type HandlersOption func(*Handlers)

// WithHandlersLogger sets the logger.
func WithHandlersLogger(logger *slog.Logger) HandlersOption {
	return func(h *Handlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandlers creates transfer handlers over store, validated by signer.
func NewHandlers(store markerpipeline.BlobStore, signer *Signer, opts ...HandlersOption) *Handlers {
	h := &Handlers{
		store:  store,
		signer: signer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the transfer router. Object keys contain slashes, so
// both endpoints use a wildcard parameter.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Put("/upload/*", h.handleUpload)
	r.Get("/download/*", h.handleDownload)
	return r
}

func (h *Handlers) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.signer.Validate(r); err != nil {
		h.deny(w, r, err)
		return
	}

	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, "missing object key", http.StatusBadRequest)
		return
	}

	if err := h.store.Upload(r.Context(), key, r.Body); err != nil {
		h.logger.Error("signed upload failed", "key", key, "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.signer.Validate(r); err != nil {
		h.deny(w, r, err)
		return
	}

	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, "missing object key", http.StatusBadRequest)
		return
	}

	rc, err := h.store.Download(r.Context(), key)
	if err != nil {
		if errors.Is(err, markerpipeline.ErrObjectNotFound) {
			http.Error(w, "object not found", http.StatusNotFound)
			return
		}
		h.logger.Error("signed download failed", "key", key, "error", err)
		http.Error(w, "download failed", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("streaming object failed", "key", key, "error", err)
	}
}

func (h *Handlers) deny(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("rejected transfer request",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err)
	status := http.StatusForbidden
	if errors.Is(err, ErrSignatureExpired) {
		status = http.StatusGone
	}
	http.Error(w, err.Error(), status)
}
