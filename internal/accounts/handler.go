// internal/accounts/handler.go
package accounts

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"vowmarket/internal/apperr"
	"vowmarket/internal/http/response"
	"vowmarket/internal/lib/sl"
)

type Handler struct {
	service  Service
	log      *slog.Logger
	validate *validator.Validate
}

func NewHandler(service Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, log: log, validate: validator.New()}
}

// Routes mounts the account endpoints. GET /accounts/{id} serves the
// premium service's vendor check and is not exposed through the gateway.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(clientAddr)
		r.Post("/accounts", h.register)
		r.Post("/login", h.login)
		r.Post("/pin/verify", h.verifyPin)
		r.Post("/password/reset", h.resetPassword)
	})
	r.Get("/accounts/{id}", h.getAccount)
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=12"`
	Password string `json:"password" validate:"required,min=8"`
	Pin      string `json:"pin" validate:"required,numeric,len=4"`
	Role     Role   `json:"role" validate:"required,oneof=client vendor"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type VerifyPinRequest struct {
	Username string `json:"username" validate:"required"`
	Pin      string `json:"pin" validate:"required,numeric,len=4"`
}

type ResetPasswordRequest struct {
	Username    string `json:"username" validate:"required"`
	Pin         string `json:"pin" validate:"required,numeric,len=4"`
	NewPassword string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "accounts.handler.register")

	var req RegisterRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	id, err := h.service.Register(r.Context(), req.Username, req.Password, req.Pin, req.Role)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusCreated, response.OK(map[string]any{"account_id": id}))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "accounts.handler.login")

	var req LoginRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || h.validate.Struct(req) != nil {
		// Malformed logins get the same answer as wrong ones.
		h.fail(w, r, log, ErrInvalidCredentials)
		return
	}
	session, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(session))
}

func (h *Handler) verifyPin(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "accounts.handler.verifyPin")

	var req VerifyPinRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	if err := h.service.VerifyPin(r.Context(), req.Username, req.Pin); err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(nil))
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "accounts.handler.resetPassword")

	var req ResetPasswordRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Username, req.Pin, req.NewPassword); err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(nil))
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "accounts.handler.getAccount")

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid account id"))
		return
	}
	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(account))
}

func (h *Handler) requestLog(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		log.Info("failed to decode request body", sl.Err(err))
		response.Write(w, r, http.StatusBadRequest, response.Error("failed to decode request"))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			response.Write(w, r, http.StatusBadRequest, response.ValidationError(verrs))
			return false
		}
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid request"))
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		response.Write(w, r, http.StatusBadRequest, response.Error(err.Error()))
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidPin):
		response.Write(w, r, http.StatusUnauthorized, response.Error("invalid credentials"))
	case errors.Is(err, ErrDuplicateUsername):
		response.Write(w, r, http.StatusConflict, response.Error(err.Error()))
	case errors.Is(err, ErrRateLimited):
		response.Write(w, r, http.StatusTooManyRequests, response.Error(err.Error()))
	case errors.Is(err, ErrAccountNotFound):
		response.Write(w, r, http.StatusNotFound, response.Error(err.Error()))
	default:
		log.Error("request failed", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error("internal error"))
	}
}
