package tenancy

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/pulsewatch/pulsewatch/internal/domain"
	"github.com/pulsewatch/pulsewatch/internal/pkg/httputil"
)

// Handler handles HTTP requests for the tenancy module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new tenancy handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers authenticated routes for the tenancy module.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/organizations", func(r chi.Router) {
		r.Get("/current", h.GetCurrentOrganization)
		r.Get("/{id}", h.GetOrganization)
		r.Patch("/{id}", h.UpdateOrganization)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleSuperAdmin))
			r.Get("/", h.ListOrganizations)
			r.Post("/", h.CreateOrganization)
			r.Delete("/{id}", h.DeleteOrganization)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/me", h.GetCurrentUser)
		r.Get("/", h.ListUsers)
		r.Post("/", h.CreateUser)
		r.Patch("/{id}", h.UpdateUser)
		r.Delete("/{id}", h.DeleteUser)
	})

	r.Route("/teams", func(r chi.Router) {
		r.Get("/", h.ListTeams)
		r.Get("/{id}", h.GetTeam)

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireOrgAdmin)
			r.Post("/", h.CreateTeam)
			r.Patch("/{id}", h.UpdateTeam)
			r.Delete("/{id}", h.DeleteTeam)
			r.Post("/{id}/members", h.AddTeamMember)
			r.Delete("/{id}/members/{userID}", h.RemoveTeamMember)
		})
	})
}

// CreateOrganizationRequest represents the request body for creating an
// organization.
type CreateOrganizationRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Slug        string `json:"slug" validate:"omitempty,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

// UpdateOrganizationRequest represents the request body for updating an
// organization.
type UpdateOrganizationRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Slug        *string `json:"slug" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// CreateUserRequest represents the request body for provisioning a staff
// account.
type CreateUserRequest struct {
	Email          string             `json:"email" validate:"required,email"`
	Name           string             `json:"name" validate:"required,min=1,max=255"`
	Password       string             `json:"password" validate:"required,min=8,max=72"`
	Role           string             `json:"role" validate:"omitempty,oneof=user admin"`
	OrganizationID string             `json:"organization_id"`
	IsOrgAdmin     bool               `json:"is_org_admin"`
	Permissions    domain.Permissions `json:"permissions"`
}

// UpdateUserRequest represents the request body for updating a staff
// account. Pointer fields distinguish absent from empty.
type UpdateUserRequest struct {
	Name        *string             `json:"name" validate:"omitempty,min=1,max=255"`
	Role        *string             `json:"role" validate:"omitempty,oneof=user admin"`
	IsOrgAdmin  *bool               `json:"is_org_admin"`
	Permissions *domain.Permissions `json:"permissions"`
	Password    *string             `json:"password" validate:"omitempty,min=8,max=72"`
}

// CreateTeamRequest represents the request body for creating a team.
type CreateTeamRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=255"`
	Description string `json:"description" validate:"max=2000"`
}

// UpdateTeamRequest represents the request body for updating a team.
type UpdateTeamRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// AddTeamMemberRequest represents the request body for adding a team member.
type AddTeamMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"omitempty,oneof=admin member"`
}

// GetCurrentOrganization handles GET /organizations/current request.
func (h *Handler) GetCurrentOrganization(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())
	if identity.OrganizationID == nil {
		httputil.Error(w, http.StatusNotFound, ErrOrganizationNotFound.Error())
		return
	}

	org, err := h.service.GetOrganization(r.Context(), *identity.OrganizationID)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, org)
}

// GetOrganization handles GET /organizations/{id} request.
func (h *Handler) GetOrganization(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())
	id := chi.URLParam(r, "id")

	if !identity.InOrganization(id) {
		httputil.Error(w, http.StatusNotFound, ErrOrganizationNotFound.Error())
		return
	}

	org, err := h.service.GetOrganization(r.Context(), id)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, org)
}

// ListOrganizations handles GET /organizations request.
func (h *Handler) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.service.ListOrganizations(r.Context())
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, orgs)
}

// CreateOrganization handles POST /organizations request.
func (h *Handler) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	org := &domain.Organization{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
	}

	if err := h.service.CreateOrganization(r.Context(), org); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, org)
}

// UpdateOrganization handles PATCH /organizations/{id} request. Allowed for
// super admins and admins of the organization itself.
func (h *Handler) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())
	id := chi.URLParam(r, "id")

	if !identity.InOrganization(id) {
		httputil.Error(w, http.StatusNotFound, ErrOrganizationNotFound.Error())
		return
	}
	if identity.Role != domain.RoleSuperAdmin && !identity.IsOrgAdmin && !identity.Role.HasPermission(domain.RoleAdmin) {
		httputil.Error(w, http.StatusForbidden, ErrForbidden.Error())
		return
	}

	existing, err := h.service.GetOrganization(r.Context(), id)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	var req UpdateOrganizationRequest
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
	if req.Slug != nil {
		existing.Slug = *req.Slug
	}
	if req.Description != nil {
		existing.Description = *req.Description
	}

	if err := h.service.UpdateOrganization(r.Context(), existing); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, existing)
}

// DeleteOrganization handles DELETE /organizations/{id} request.
func (h *Handler) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteOrganization(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCurrentUser handles GET /users/me request.
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := httputil.GetIdentity(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.service.GetUser(r.Context(), identity.UserID)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, user)
}

// canManageUsers reports whether the caller may administer staff accounts.
func canManageUsers(identity domain.Identity) bool {
	return identity.Permissions.ManageUsers ||
		identity.IsOrgAdmin ||
		identity.Role.HasPermission(domain.RoleAdmin)
}

// ListUsers handles GET /users request.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())
	if !canManageUsers(identity) {
		httputil.Error(w, http.StatusForbidden, ErrForbidden.Error())
		return
	}

	orgID, ok := resolveOrganizationID(identity, r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "organization is required")
		return
	}

	users, err := h.service.ListUsers(r.Context(), orgID)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, users)
}

// CreateUser handles POST /users request.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())
	if !canManageUsers(identity) {
		httputil.Error(w, http.StatusForbidden, ErrForbidden.Error())
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	orgID := req.OrganizationID
	if identity.Role != domain.RoleSuperAdmin || orgID == "" {
		if identity.OrganizationID == nil {
			httputil.Error(w, http.StatusBadRequest, "organization is required")
			return
		}
		orgID = *identity.OrganizationID
	}

	user, err := h.service.CreateUser(r.Context(), CreateUserInput{
		Email:          req.Email,
		Name:           req.Name,
		Password:       req.Password,
		Role:           domain.Role(req.Role),
		OrganizationID: orgID,
		IsOrgAdmin:     req.IsOrgAdmin,
		Permissions:    req.Permissions,
	})
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, user)
}

// UpdateUser handles PATCH /users/{id} request.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())
	if !canManageUsers(identity) {
		httputil.Error(w, http.StatusForbidden, ErrForbidden.Error())
		return
	}

	target, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}
	if target.OrganizationID == nil || !identity.InOrganization(*target.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrUserNotFound.Error())
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	input := UpdateUserInput{
		Name:        req.Name,
		IsOrgAdmin:  req.IsOrgAdmin,
		Permissions: req.Permissions,
		Password:    req.Password,
	}
	if req.Role != nil {
		role := domain.Role(*req.Role)
		input.Role = &role
	}

	user, err := h.service.UpdateUser(r.Context(), target.ID, input)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /users/{id} request.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())
	if !canManageUsers(identity) {
		httputil.Error(w, http.StatusForbidden, ErrForbidden.Error())
		return
	}

	target, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}
	if target.OrganizationID == nil || !identity.InOrganization(*target.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrUserNotFound.Error())
		return
	}
	if target.ID == identity.UserID {
		httputil.Error(w, http.StatusConflict, "cannot delete your own account")
		return
	}

	if err := h.service.DeleteUser(r.Context(), target.ID); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListTeams handles GET /teams request.
func (h *Handler) ListTeams(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	orgID, ok := resolveOrganizationID(identity, r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "organization is required")
		return
	}

	teams, err := h.service.ListTeams(r.Context(), orgID)
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, teams)
}

// GetTeam handles GET /teams/{id} request.
func (h *Handler) GetTeam(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	team, err := h.service.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}
	if !identity.InOrganization(team.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrTeamNotFound.Error())
		return
	}

	httputil.Success(w, http.StatusOK, team)
}

// CreateTeam handles POST /teams request.
func (h *Handler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	orgID, ok := resolveOrganizationID(identity, r)
	if !ok {
		httputil.Error(w, http.StatusBadRequest, "organization is required")
		return
	}

	var req CreateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	team := &domain.Team{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
	}

	if err := h.service.CreateTeam(r.Context(), team); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, team)
}

// UpdateTeam handles PATCH /teams/{id} request.
func (h *Handler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	team, err := h.service.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}
	if !identity.InOrganization(team.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrTeamNotFound.Error())
		return
	}

	var req UpdateTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	if req.Name != nil {
		team.Name = *req.Name
	}
	if req.Description != nil {
		team.Description = *req.Description
	}

	if err := h.service.UpdateTeam(r.Context(), team); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusOK, team)
}

// DeleteTeam handles DELETE /teams/{id} request.
func (h *Handler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	team, err := h.service.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}
	if !identity.InOrganization(team.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrTeamNotFound.Error())
		return
	}

	if err := h.service.DeleteTeam(r.Context(), team.ID); err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AddTeamMember handles POST /teams/{id}/members request.
func (h *Handler) AddTeamMember(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	team, err := h.service.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}
	if !identity.InOrganization(team.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrTeamNotFound.Error())
		return
	}

	var req AddTeamMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	member, err := h.service.AddTeamMember(r.Context(), team.ID, req.UserID, domain.TeamRole(req.Role))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}

	httputil.Success(w, http.StatusCreated, member)
}

// RemoveTeamMember handles DELETE /teams/{id}/members/{userID} request.
func (h *Handler) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	identity, _ := httputil.GetIdentity(r.Context())

	team, err := h.service.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(r, w, err)
		return
	}
	if !identity.InOrganization(team.OrganizationID) {
		httputil.Error(w, http.StatusNotFound, ErrTeamNotFound.Error())
		return
	}

	if err := h.service.RemoveTeamMember(r.Context(), team.ID, chi.URLParam(r, "userID")); err != nil {
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
		{Error: ErrOrganizationNotFound, Status: http.StatusNotFound},
		{Error: ErrUserNotFound, Status: http.StatusNotFound},
		{Error: ErrTeamNotFound, Status: http.StatusNotFound},
		{Error: ErrMemberNotFound, Status: http.StatusNotFound},
		{Error: ErrSlugTaken, Status: http.StatusConflict},
		{Error: ErrEmailTaken, Status: http.StatusConflict},
		{Error: ErrTeamNameTaken, Status: http.StatusConflict},
		{Error: ErrAlreadyMember, Status: http.StatusConflict},
		{Error: ErrLastOrgAdmin, Status: http.StatusConflict},
		{Error: ErrInvalidSlug, Status: http.StatusBadRequest},
		{Error: ErrForbidden, Status: http.StatusForbidden},
	})
}
