package handler

import (
	"net/http"

	"school-admin/internal/model"
	"school-admin/internal/service"
)

type ProfesorHandler struct {
	service *service.AdminService
}

func NewProfesorHandler(service *service.AdminService) *ProfesorHandler {
	return &ProfesorHandler{service: service}
}

func (h *ProfesorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload model.CreateStaffRequest
	if err := decodeAndValidate(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.CreateProfesor(r.Context(), principalFromRequest(r), payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user, nil)
}

func (h *ProfesorHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context(), model.RoleProfesor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.UserList{Users: users}, nil)
}

func (h *ProfesorHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	writeSuccess(w, http.StatusOK, principal.Payload(), nil)
}
