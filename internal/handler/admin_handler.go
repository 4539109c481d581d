package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"school-admin/internal/model"
	"school-admin/internal/service"
)

type AdminHandler struct {
	service *service.AdminService
}

func NewAdminHandler(service *service.AdminService) *AdminHandler {
	return &AdminHandler{service: service}
}

// CreateAdmin is mounted behind OptionalAuth; the service decides whether an
// anonymous caller may bootstrap the first admin.
func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var payload model.CreateStaffRequest
	if err := decodeAndValidate(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.CreateAdmin(r.Context(), principalFromRequest(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user, nil)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var role model.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, ok := model.ParseRole(raw)
		if !ok {
			writeError(w, model.ErrInvalidInput)
			return
		}
		role = parsed
	}

	users, err := h.service.ListUsers(r.Context(), role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.UserList{Users: users}, nil)
}

func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var payload model.UpdateRoleRequest
	if err := decodeAndValidate(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.UpdateRole(r.Context(), principalFromRequest(r), chi.URLParam(r, "id"), payload.Role)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, user, nil)
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), principalFromRequest(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.MessageResponse{Message: "user deleted"}, nil)
}
