package auth

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/halcyon-id/halcyon-id/internal/platform/httpx"
	"github.com/halcyon-id/halcyon-id/internal/shared"
)

// Handler wires the JSON HTTP endpoints for the authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.Attach)
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
		r.Post("/forgot-password", h.handleForgotPassword)
		r.Post("/reset-password", h.handleResetPassword)
		r.Post("/token/refresh", h.handleRefresh)
		r.Post("/token/verify", h.handleVerifyToken)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Get("/profile", h.handleProfile)
		r.Put("/update-profile", h.handleUpdateProfile)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input RegisterInput
	if !h.decode(w, r, &input) {
		return
	}
	profile, err := h.service.Register(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, profile)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var input LoginInput
	if !h.decode(w, r, &input) {
		return
	}
	result, err := h.service.Login(r.Context(), input, clientIP(r))
	if err != nil {
		h.respondError(w, r, "login", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var input ForgotPasswordInput
	if !h.decode(w, r, &input) {
		return
	}
	result, err := h.service.ForgotPassword(r.Context(), input, clientIP(r))
	if err != nil {
		h.respondError(w, r, "forgot password", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var input ResetPasswordInput
	if !h.decode(w, r, &input) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), input); err != nil {
		h.respondError(w, r, "reset password", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"message": "Password reset successful."})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, "profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var input UpdateProfileInput
	if !h.decode(w, r, &input) {
		return
	}
	profile, err := h.service.UpdateProfile(r.Context(), userID, input)
	if err != nil {
		h.respondError(w, r, "update profile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, profile)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var input RefreshInput
	if !h.decode(w, r, &input) {
		return
	}
	pair, err := h.service.Refresh(r.Context(), input.Refresh)
	if err != nil {
		h.respondError(w, r, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) handleVerifyToken(w http.ResponseWriter, r *http.Request) {
	var input VerifyTokenInput
	if !h.decode(w, r, &input) {
		return
	}
	if _, err := h.service.VerifyAccessToken(input.Token); err != nil {
		h.respondError(w, r, "verify token", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{})
}

// decode parses and validates the request body, responding on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, validationError(err))
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.RespondError(w, validationError(err))
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, flow string, err error) {
	h.logger.Debug(flow+" failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

// clientIP keys rate limits. RealIP middleware rewrites RemoteAddr from
// forwarding headers before this runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
