package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
)

// GrantHandler issues capability grants over HTTP. A caller may only
// request grants for keys inside its own namespace, so one owner can
// never obtain access to another owner's assets.
type GrantHandler struct {
	provisioner *markerpipeline.Provisioner
	logger      *slog.Logger
}

// NewGrantHandler creates a grant handler.
func NewGrantHandler(p *markerpipeline.Provisioner, logger *slog.Logger) *GrantHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrantHandler{provisioner: p, logger: logger}
}

// Routes returns the grant router.
func (h *GrantHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/write", h.grantWrite)
	r.Post("/read", h.grantRead)
	return r
}

type grantRequest struct {
	Key        string `json:"key"`
	TTLSeconds int64  `json:"ttl_seconds,omitempty"`
}

func (h *GrantHandler) grantWrite(w http.ResponseWriter, r *http.Request) {
	key, ok := h.authorizedKey(w, r)
	if !ok {
		return
	}
	grant, err := h.provisioner.GrantWrite(r.Context(), key)
	if err != nil {
		renderServiceError(w, r, h.logger, err, "failed to issue write grant")
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, grant)
}

func (h *GrantHandler) grantRead(w http.ResponseWriter, r *http.Request) {
	key, ttl, ok := h.authorizedKeyWithTTL(w, r)
	if !ok {
		return
	}
	grant, err := h.provisioner.GrantRead(r.Context(), key, ttl)
	if err != nil {
		renderServiceError(w, r, h.logger, err, "failed to issue read grant")
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, grant)
}

func (h *GrantHandler) authorizedKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, _, ok := h.authorizedKeyWithTTL(w, r)
	return key, ok
}

func (h *GrantHandler) authorizedKeyWithTTL(w http.ResponseWriter, r *http.Request) (string, time.Duration, bool) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing owner")
		return "", 0, false
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "invalid request body"})
		return "", 0, false
	}
	if req.Key == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, map[string]string{"error": "key is required"})
		return "", 0, false
	}
	if !strings.HasPrefix(req.Key, owner.String()+"/") {
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, map[string]string{"error": "key is outside the caller's namespace"})
		return "", 0, false
	}
	return req.Key, time.Duration(req.TTLSeconds) * time.Second, true
}
