// internal/premium/handler.go
package premium

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"vowmarket/internal/accounts"
	"vowmarket/internal/apperr"
	"vowmarket/internal/http/mw"
	"vowmarket/internal/http/response"
	"vowmarket/internal/lib/sl"
	"vowmarket/internal/positions"
	"vowmarket/internal/pricing"
)

type Handler struct {
	service  Service
	tokens   mw.TokenParser
	log      *slog.Logger
	validate *validator.Validate
}

func NewHandler(service Service, tokens mw.TokenParser, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, tokens: tokens, log: log, validate: validator.New()}
}

// Routes mounts pricing and availability publicly and the subscription
// endpoints behind a vendor token.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/pricing/{tier}/{position}", h.quote)
	r.Get("/positions/{tier}/available", h.listAvailable)

	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(h.log, h.tokens))
		r.Use(mw.RequireRole(string(accounts.RoleVendor)))

		r.Get("/premium/subscription", h.currentStatus)
		r.Post("/premium/subscription", h.upgrade)
		r.Delete("/premium/subscription", h.cancel)
		r.Post("/premium/subscription/renew", h.renew)
		r.Put("/premium/subscription/position", h.changePosition)
		r.Get("/premium/subscriptions/{id}/events", h.history)
	})
}

type PlacementRequest struct {
	Tier         string `json:"tier" validate:"required,oneof=top10 top50"`
	Position     int    `json:"position" validate:"required,gte=1,lte=50"`
	BillingCycle string `json:"billing_cycle" validate:"required,oneof=monthly annual"`
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "premium.handler.quote")

	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid position"))
		return
	}
	q, err := h.service.Quote(positions.Tier(chi.URLParam(r, "tier")), position)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(q))
}

func (h *Handler) listAvailable(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "premium.handler.listAvailable")

	free, err := h.service.ListAvailable(r.Context(), positions.Tier(chi.URLParam(r, "tier")))
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	if free == nil {
		free = []int{}
	}
	response.Write(w, r, http.StatusOK, response.OK(free))
}

func (h *Handler) currentStatus(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "premium.handler.currentStatus")

	sub, err := h.service.CurrentStatus(r.Context(), mw.AccountID(r.Context()))
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	if sub == nil {
		response.Write(w, r, http.StatusOK, response.OK(nil))
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(sub))
}

func (h *Handler) upgrade(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "premium.handler.upgrade")

	var req PlacementRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	sub, err := h.service.Upgrade(r.Context(), mw.AccountID(r.Context()),
		positions.Tier(req.Tier), req.Position, pricing.BillingCycle(req.BillingCycle))
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusCreated, response.OK(sub))
}

func (h *Handler) changePosition(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "premium.handler.changePosition")

	var req PlacementRequest
	if !h.decode(w, r, log, &req) {
		return
	}
	sub, err := h.service.ChangePosition(r.Context(), mw.AccountID(r.Context()),
		positions.Tier(req.Tier), req.Position, pricing.BillingCycle(req.BillingCycle))
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(sub))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "premium.handler.cancel")

	if err := h.service.Cancel(r.Context(), mw.AccountID(r.Context())); err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(nil))
}

func (h *Handler) renew(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "premium.handler.renew")

	sub, err := h.service.Renew(r.Context(), mw.AccountID(r.Context()))
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(sub))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	log := h.requestLog(r, "premium.handler.history")

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Write(w, r, http.StatusBadRequest, response.Error("invalid subscription id"))
		return
	}
	events, err := h.service.History(r.Context(), mw.AccountID(r.Context()), id)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}
	response.Write(w, r, http.StatusOK, response.OK(events))
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
	case errors.Is(err, ErrNotVendor):
		response.Write(w, r, http.StatusForbidden, response.Error(err.Error()))
	case errors.Is(err, ErrSubscriptionNotFound):
		response.Write(w, r, http.StatusNotFound, response.Error(err.Error()))
	case errors.Is(err, positions.ErrPositionTaken),
		errors.Is(err, ErrAlreadySubscribed),
		errors.Is(err, ErrNoActiveSubscription),
		errors.Is(err, ErrConcurrentUpdate):
		response.Write(w, r, http.StatusConflict, response.Error(err.Error()))
	case errors.Is(err, ErrSubscriptionExpired):
		response.Write(w, r, http.StatusGone, response.Error(err.Error()))
	default:
		log.Error("request failed", sl.Err(err))
		response.Write(w, r, http.StatusInternalServerError, response.Error("internal error"))
	}
}
