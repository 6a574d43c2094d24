// Package api exposes the server-side services over HTTP: submission
// records, status updates, and capability grant issuance. All routes
// are owner-scoped through the RequireOwner middleware.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/pixeltrack/marker-pipeline/pkg/markerpipeline"
)

// needsBetterSourceGuidance is the actionable message shown for the
// rejection outcome. It is deliberately distinct from generic error
// text: rejection is a property of the source image, not a failure.
const needsBetterSourceGuidance = "The image does not have enough distinguishing detail to track reliably. Try a sharper photo with more texture and contrast."

// SubmissionHandler serves submission record endpoints.
type SubmissionHandler struct {
	svc    markerpipeline.Service
	logger *slog.Logger
}

// NewSubmissionHandler creates a submission handler.
func NewSubmissionHandler(svc markerpipeline.Service, logger *slog.Logger) *SubmissionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubmissionHandler{svc: svc, logger: logger}
}

// Routes returns the submission router.
func (h *SubmissionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.createSubmission)
	r.Get("/", h.listSubmissions)
	r.Route("/{submissionID}", func(r chi.Router) {
		r.Get("/", h.getSubmission)
		r.Delete("/", h.deleteSubmission)
		r.Patch("/status", h.updateStatus)
	})
	return r
}

type createSubmissionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type submissionResponse struct {
	markerpipeline.Submission
	Guidance string `json:"guidance,omitempty"`
}

func toSubmissionResponse(sub markerpipeline.Submission) submissionResponse {
	resp := submissionResponse{Submission: sub}
	if sub.Status == markerpipeline.StatusNeedsBetterSource {
		resp.Guidance = needsBetterSourceGuidance
	}
	return resp
}

func (h *SubmissionHandler) createSubmission(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing owner")
		return
	}

	var req createSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.renderError(w, r, markerpipeline.Permanent(err), "invalid request body")
		return
	}

	sub, err := h.svc.CreateSubmission(r.Context(), markerpipeline.CreateSubmissionRequest{
		OwnerID:     owner,
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.renderError(w, r, err, "failed to create submission")
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, toSubmissionResponse(*sub))
}

func (h *SubmissionHandler) listSubmissions(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing owner")
		return
	}

	subs, err := h.svc.ListSubmissions(r.Context(), owner)
	if err != nil {
		h.renderError(w, r, err, "failed to list submissions")
		return
	}
	render.JSON(w, r, map[string]interface{}{"submissions": subs})
}

func (h *SubmissionHandler) getSubmission(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing owner")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
	if err != nil {
		h.renderError(w, r, markerpipeline.Permanent(err), "invalid submission id")
		return
	}

	sub, err := h.svc.GetSubmission(r.Context(), owner, id)
	if err != nil {
		h.renderError(w, r, err, "failed to get submission")
		return
	}
	render.JSON(w, r, toSubmissionResponse(*sub))
}

type updateStatusRequest struct {
	Status      string `json:"status"`
	ErrorDetail string `json:"error_detail"`
}

func (h *SubmissionHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing owner")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
	if err != nil {
		h.renderError(w, r, markerpipeline.Permanent(err), "invalid submission id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.renderError(w, r, markerpipeline.Permanent(err), "invalid request body")
		return
	}

	sub, err := h.svc.UpdateStatus(r.Context(), owner, id,
		markerpipeline.SubmissionStatus(req.Status), req.ErrorDetail)
	if err != nil {
		h.renderError(w, r, err, "failed to update status")
		return
	}
	render.JSON(w, r, toSubmissionResponse(*sub))
}

func (h *SubmissionHandler) deleteSubmission(w http.ResponseWriter, r *http.Request) {
	owner, ok := OwnerFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "missing owner")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "submissionID"))
	if err != nil {
		h.renderError(w, r, markerpipeline.Permanent(err), "invalid submission id")
		return
	}

	if err := h.svc.DeleteSubmission(r.Context(), owner, id); err != nil {
		h.renderError(w, r, err, "failed to delete submission")
		return
	}
	render.NoContent(w, r)
}

func (h *SubmissionHandler) renderError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	renderServiceError(w, r, h.logger, err, msg)
}

// renderServiceError maps service errors onto HTTP statuses. Unexpected
// failures are logged server side and reported generically.
func renderServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, msg string) {
	status := http.StatusInternalServerError
	detail := msg
	switch {
	case errors.Is(err, markerpipeline.ErrSubmissionNotFound),
		errors.Is(err, markerpipeline.ErrObjectNotFound):
		status = http.StatusNotFound
		detail = err.Error()
	case errors.Is(err, markerpipeline.ErrInvalidStatusTransition),
		errors.Is(err, markerpipeline.ErrInvalidStatus):
		status = http.StatusConflict
		detail = err.Error()
	case errors.Is(err, markerpipeline.ErrInvalidSubmission):
		status = http.StatusBadRequest
		detail = err.Error()
	case markerpipeline.ClassifyError(err) == markerpipeline.FailurePermanent:
		status = http.StatusBadRequest
	default:
		logger.Error(msg, "error", err, "path", r.URL.Path)
	}

	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": detail})
}
