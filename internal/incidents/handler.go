package incidents

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/pkg/httputil"
)

// Handler handles HTTP requests for the incidents module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new incidents handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers authenticated routes for the incidents module.
// Reads are open to any staff member of the organization; mutations
// additionally require the manage-incidents capability.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.ListIncidents)
		r.Get("/{id}", h.GetIncident)
		r.Get("/{id}/updates", h.ListIncidentUpdates)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequirePermission(func(p domain.Permissions) bool { return p.ManageIncidents }))
			r.Post("/", h.CreateIncident)
			r.Patch("/{id}", h.UpdateIncident)
			r.Delete("/{id}", h.DeleteIncident)
			r.Post("/{id}/updates", h.CreateIncidentUpdate)
		})
	})
}

// RegisterPublicRoutes registers unauthenticated status page routes.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/incidents/public", h.ListPublicIncidents)
}

// CreateIncidentRequest represents the request body for opening an incident.
type CreateIncidentRequest struct {
	Title       string   `json:"title" validate:"required,min=1,max=255"`
	Description string   `json:"description" validate:"max=5000"`
	Severity    string   `json:"severity" validate:"omitempty,oneof=minor medium major"`
	Status      string   `json:"status" validate:"omitempty,oneof=active resolved"`
	ServiceIDs  []string `json:"service_ids" validate:"omitempty,dive,required"`
}

// UpdateIncidentRequest represents the request body for updating an
// incident. Pointer fields distinguish absent from empty.
type UpdateIncidentRequest struct {
	Title       *string   `json:"title" validate:"omitempty,min=1,max=255"`
	Description *string   `json:"description" validate:"omitempty,max=5000"`
	Severity    *string   `json:"severity" validate:"omitempty,oneof=minor medium major"`
	Status      *string   `json:"status" validate:"omitempty,oneof=active resolved"`
	ServiceIDs  *[]string `json:"service_ids" validate:"omitempty,dive,required"`
}

// CreateIncidentUpdateRequest represents the request body for appending a
// progress note.
type CreateIncidentUpdateRequest struct {
	Message string `json:"message" validate:"required,min=1,max=5000"`
	Status  string `json:"status" validate:"max=100"`
}

// CreateIncident handles POST /incidents request.
func (h *Handler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	identity, ok := httputil.GetIdentity(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	orgID, ok := resolveOrganizationID(identity, r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, ErrOrganizationRequired.Error())
		return
	}

	incident := &domain.Incident{
		OrganizationID: orgID,
		Title:          req.Title,
		Description:    req.Description,
		Severity:       domain.Severity(req.Severity),
		Status:         domain.IncidentStatus(req.Status),
		ServiceIDs:     req.ServiceIDs,
		CreatedBy:      identity.UserID,
	}

	if err := h.service.CreateIncident(r.Context(), incident); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, incident)
}

// GetIncident handles GET /incidents/{id} request.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	if !identity.InOrganization(incident.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrIncidentNotFound.Error())
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// ListIncidents handles GET /incidents request.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	identity, ok := httputil.GetIdentity(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	orgID, ok := resolveOrganizationID(identity, r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, ErrOrganizationRequired.Error())
		return
	}

	incidents, err := h.service.ListIncidents(r.Context(), orgID)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// ListPublicIncidents handles GET /incidents/public?org={slug} request.
func (h *Handler) ListPublicIncidents(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("org")
	if slug == "" {
		httputil.Error(w, http.StatusBadRequest, "org query parameter is required")
		return
	}

	incidents, err := h.service.ListPublicIncidents(r.Context(), slug)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, incidents)
}

// UpdateIncident handles PATCH /incidents/{id} request.
func (h *Handler) UpdateIncident(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	existing, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	if !identity.InOrganization(existing.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrIncidentNotFound.Error())
		return
	}

	var req UpdateIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateIncidentInput{
		Title:       req.Title,
		Description: req.Description,
		ServiceIDs:  req.ServiceIDs,
	}
	if req.Severity != nil {
		severity := domain.Severity(*req.Severity)
		input.Severity = &severity
	}
	if req.Status != nil {
		status := domain.IncidentStatus(*req.Status)
		input.Status = &status
	}

	incident, err := h.service.UpdateIncident(r.Context(), existing.ID, input)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, incident)
}

// DeleteIncident handles DELETE /incidents/{id} request.
func (h *Handler) DeleteIncident(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	if !identity.InOrganization(incident.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrIncidentNotFound.Error())
		return
	}

	if err := h.service.DeleteIncident(r.Context(), incident.ID); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// CreateIncidentUpdate handles POST /incidents/{id}/updates request.
func (h *Handler) CreateIncidentUpdate(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	if !identity.InOrganization(incident.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrIncidentNotFound.Error())
		return
	}

	var req CreateIncidentUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	update := &domain.IncidentUpdate{
		IncidentID:  incident.ID,
		Message:     req.Message,
		StatusLabel: req.Status,
		CreatedBy:   identity.UserID,
	}

	incident, err = h.service.CreateIncidentUpdate(r.Context(), update)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, IncidentUpdateResponse{
		IncidentUpdate: *update,
		ServiceIDs:     incident.ServiceIDs,
	})
}

// IncidentUpdateResponse is a persisted progress note together with the
// incident's current affected-service list.
type IncidentUpdateResponse struct {
	domain.IncidentUpdate
	ServiceIDs []string `json:"service_ids"`
}

// ListIncidentUpdates handles GET /incidents/{id}/updates request.
func (h *Handler) ListIncidentUpdates(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	incident, err := h.service.GetIncident(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	if !identity.InOrganization(incident.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrIncidentNotFound.Error())
		return
	}

	updates, err := h.service.ListIncidentUpdates(r.Context(), incident.ID)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, updates)
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

func (h *Handler) handleServiceError(r *http.Request, w http.ResponseWriter, err error) {
	httputil.HandleError(r.Context(), w, err, []httputil.ErrorMapping{
		{Error: ErrIncidentNotFound, Status: http.StatusNotFound},
		{Error: ErrUpdateNotFound, Status: http.StatusNotFound},
		{Error: ErrServiceNotFound, Status: http.StatusUnprocessableEntity},
		{Error: ErrOrganizationRequired, Status: http.StatusBadRequest},
	})
}
