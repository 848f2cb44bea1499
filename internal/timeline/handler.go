package timeline

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/pkg/httputil"
)

// MaxLookbackDays caps the timeline window.
const MaxLookbackDays = 90

// Handler handles HTTP requests for the timeline module.
type Handler struct {
	builder *Builder
}

// NewHandler creates a new timeline handler.
func NewHandler(builder *Builder) *Handler {
	return &Handler{builder: builder}
}

// RegisterRoutes registers authenticated routes for the timeline module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/timeline", h.GetTimeline)
}

// GetTimeline handles GET /timeline?days={n} request.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	identity, ok := httputil.GetIdentity(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orgID, ok := resolveOrganizationID(identity, r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "organization is required")
		return
	}

	days := DefaultLookbackDays
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed < 1 {
			httputil.Error(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		if parsed > MaxLookbackDays {
			parsed = MaxLookbackDays
		}
		days = parsed
	}

	entries, err := h.builder.Build(r.Context(), orgID, days, time.Now())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, nil)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// resolveOrganizationID determines the organization a request operates on.
// Organization members always act within their own tenant; super admins
// name the target via the organization_id query parameter.
func resolveOrganizationID(identity domain.Identity, r *http.Request) (string, bool) {
	if identity.Role == domain.RoleSuperAdmin {
		if orgID := r.URL.Query().Get("organization_id"); orgID != "" {
			return orgID, true
		}
	}
	if identity.OrganizationID != nil {
		return *identity.OrganizationID, true
	}
	return "", false
}
