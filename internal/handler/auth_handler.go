package handler

import (
	"net/http"

	"school-admin/internal/model"
	"school-admin/internal/service"
	"school-admin/pkg/apierror"
)

type AuthHandler struct {
	service *service.AuthService
	cookie  RefreshCookie
}

func NewAuthHandler(service *service.AuthService, cookie RefreshCookie) *AuthHandler {
	return &AuthHandler{service: service, cookie: cookie}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if err := decodeAndValidate(w, r, &payload); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeSession(w, session)
}

// Refresh reads the refresh token from the cookie only; a token in the body
// or a header is ignored.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.cookie.Read(r)
	if !ok {
		writeError(w, apierror.New(apierror.CodeNoRefreshToken, "no refresh token", "", http.StatusBadRequest))
		return
	}

	session, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		writeError(w, err)
		return
	}

	h.writeSession(w, session)
}

// Logout always succeeds and always clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw, _ := h.cookie.Read(r)
	h.service.Logout(r.Context(), raw)

	h.cookie.Clear(w)
	writeSuccess(w, http.StatusOK, model.MessageResponse{Message: "logged out"}, nil)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}

	writeSuccess(w, http.StatusOK, principal.Payload(), nil)
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, session model.Session) {
	h.cookie.Set(w, session.RefreshToken, session.RefreshExpiresAt)
	writeSuccess(w, http.StatusOK, model.SessionResponse{
		AccessToken: session.AccessToken,
		User:        session.Principal.Payload(),
	}, nil)
}
