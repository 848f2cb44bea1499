package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/pkg/httputil"
)

// Handler handles HTTP requests for the catalog module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new catalog handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers authenticated routes for the catalog module.
// Reads are open to any staff member of the organization; mutations
// additionally require the manage-services capability.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/services", func(r chi.Router) {
		r.Get("/", h.ListServices)
		r.Get("/{id}", h.GetService)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequirePermission(func(p domain.Permissions) bool { return p.ManageServices }))
			r.Post("/", h.CreateService)
			r.Patch("/{id}", h.UpdateService)
			r.Delete("/{id}", h.DeleteService)
		})
	})
}

// RegisterPublicRoutes registers unauthenticated status page routes.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/services/public", h.ListPublicServices)
}

// CreateServiceRequest represents the request body for creating a service.
type CreateServiceRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
	Status      string `json:"status" validate:"omitempty,oneof=operational degraded_performance partial_outage major_outage"`
}

// UpdateServiceRequest represents the request body for updating a service.
// Pointer fields distinguish absent from empty.
type UpdateServiceRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Status      *string `json:"status" validate:"omitempty,oneof=operational degraded_performance partial_outage major_outage"`
}

// CreateService handles POST /services request.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	identity, ok := httputil.GetIdentity(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateServiceRequest
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

	service := &domain.Service{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		Status:         domain.ServiceStatus(req.Status),
	}

	if err := h.service.CreateService(r.Context(), service); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, service)
}

// GetService handles GET /services/{id} request.
func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	service, err := h.service.GetService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	if !identity.InOrganization(service.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrServiceNotFound.Error())
		return
	}

	httputil.Success(w, http.StatusOK, service)
}

// ListServices handles GET /services request.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
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

	services, err := h.service.ListServices(r.Context(), orgID)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, services)
}

// ListPublicServices handles GET /services/public?org={slug} request.
func (h *Handler) ListPublicServices(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("org")
	if slug == "" {
		httputil.Error(w, http.StatusBadRequest, "org query parameter is required")
		return
	}

	services, err := h.service.ListPublicServices(r.Context(), slug)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, services)
}

// UpdateService handles PATCH /services/{id} request.
func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	existing, err := h.service.GetService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	if !identity.InOrganization(existing.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrServiceNotFound.Error())
		return
	}

	var req UpdateServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}
	if req.Description != nil {
		existing.Description = *req.Description
	}
	if req.Status != nil {
		existing.Status = domain.ServiceStatus(*req.Status)
	}

	if err := h.service.UpdateService(r.Context(), existing); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, existing)
}

// DeleteService handles DELETE /services/{id} request.
func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	service, err := h.service.GetService(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	if !identity.InOrganization(service.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrServiceNotFound.Error())
		return
	}

	if err := h.service.DeleteService(r.Context(), service.ID); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
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
		{Error: ErrServiceNotFound, Status: http.StatusNotFound},
		{Error: ErrServiceNameTaken, Status: http.StatusConflict},
		{Error: ErrOrganizationRequired, Status: http.StatusBadRequest},
	})
}
