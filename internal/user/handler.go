package user

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/response"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
)

// MaxBodyBytes caps request bodies; large enough for a maximal avatar.
const MaxBodyBytes = 20 << 20

// Handler exposes HTTP endpoints for the /auth routes.
type Handler struct {
	svc    *AuthService
	logger *zap.SugaredLogger
}

func NewHandler(svc *AuthService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

type userData struct {
	User *entity.PublicUser `json:"user"`
}

type tokenData struct {
	Token string `json:"token"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterInput
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, http.StatusCreated, "User registered successfully", res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginInput
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req)
	if err != nil {
		h.logger.Debugw("login failed", "err", err)
		h.writeError(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "Login successful", res)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	u, err := h.svc.Me(r.Context(), claims.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "", userData{User: u})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req ProfileInput
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.svc.UpdateProfile(r.Context(), claims.UserID, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "Profile updated successfully", userData{User: u})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	var req ChangePasswordInput
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), claims.UserID, req); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "Password changed successfully", nil)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	token, err := h.svc.Refresh(claims)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, http.StatusOK, "Token refreshed successfully", tokenData{Token: token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.claims(w, r)
	if !ok {
		return
	}
	h.svc.Logout(claims)
	response.OK(w, http.StatusOK, "Logout successful", nil)
}

func (h *Handler) claims(w http.ResponseWriter, r *http.Request) (*session.Claims, bool) {
	c, ok := session.FromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.CodeTokenMissing, "Access token required")
	}
	return c, ok
}

// decode reads a JSON body into dst. An empty body decodes as {} so the
// validator reports the missing fields.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		response.Error(w, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "Request body too large")
		return false
	}
	h.logger.Debugw("invalid payload", "path", r.URL.Path, "err", err)
	response.Error(w, http.StatusBadRequest, response.CodeInvalidJSON, "Invalid JSON payload")
	return false
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		response.ErrorWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Validation failed", verr.Details)
	case errors.Is(err, ErrDuplicateEmail):
		response.Error(w, http.StatusConflict, response.CodeDuplicateEmail, "User with this email already exists")
	case errors.Is(err, ErrInvalidCredentials):
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidCredentials, "Invalid email or password")
	case errors.Is(err, ErrAccountInactive):
		response.Error(w, http.StatusUnauthorized, response.CodeAccountInactive, "Account is deactivated")
	case errors.Is(err, ErrUserNotFound):
		response.Error(w, http.StatusNotFound, response.CodeUserNotFound, "User not found")
	case errors.Is(err, ErrIncorrectPassword):
		response.Error(w, http.StatusBadRequest, response.CodeIncorrectPassword, "Current password is incorrect")
	default:
		h.logger.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Internal server error")
	}
}
