package cancellation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthbook/healthbook/internal/platform/auth"
	"github.com/healthbook/healthbook/pkg/pagination"
)

type Handler struct {
	svc        *Service
	dispatcher *RefundDispatcher
	logger     zerolog.Logger
}

// NewHandler wires the cancellation endpoints. dispatcher may be nil when no
// refund gateway is configured; refunds are then left to operators.
func NewHandler(svc *Service, dispatcher *RefundDispatcher, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:        svc,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "cancellation_api").Logger(),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	act := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleHospital))
	act.POST("/appointments/:id/cancel", h.Cancel)
	act.GET("/appointments/:id/cancellation-quote", h.Quote)

	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleHospital, auth.RoleBilling))
	read.GET("/appointments/:id/cancellation", h.GetByAppointment)

	staff := api.Group("", auth.RequireRole(auth.RoleBilling))
	staff.GET("/cancellations", h.List)
	staff.GET("/cancellations/:id", h.Get)
	staff.POST("/cancellations/:id/refund", h.Refund)
}

type cancelBody struct {
	InitiatedBy Initiator `json:"initiated_by"`
	Reason      string    `json:"reason"`
}

// mayInitiate reports whether the caller may cancel on behalf of initiator.
// Admins may act for anyone; other callers only as one of their own roles.
func mayInitiate(roles []string, initiator Initiator) bool {
	for _, r := range roles {
		if r == auth.RoleAdmin {
			return true
		}
	}
	switch initiator {
	case InitiatorPatient, InitiatorDoctor, InitiatorHospital:
		for _, r := range roles {
			if r == string(initiator) {
				return true
			}
		}
	}
	return false
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidReason), errors.Is(err, ErrInvalidPolicyInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAppointmentNotFound), errors.Is(err, ErrCancellationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ErrRefundRejected):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrPaymentMismatch):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, ErrPaymentMismatch.Error())
	case errors.Is(err, ErrAlreadyCancelled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrGatewayUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway unavailable")
	}
	return err
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body cancelBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !body.InitiatedBy.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid initiated_by")
	}

	ctx := c.Request().Context()
	if !mayInitiate(auth.RolesFromContext(ctx), body.InitiatedBy) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot cancel as "+string(body.InitiatedBy))
	}

	rec, err := h.svc.Cancel(ctx, CancelRequest{
		AppointmentID: id,
		InitiatedBy:   body.InitiatedBy,
		Reason:        body.Reason,
		RequestedBy:   auth.UserIDFromContext(ctx),
	})
	if err != nil {
		return mapError(err)
	}

	if err := c.JSON(http.StatusCreated, rec); err != nil {
		return err
	}
	// The cancellation is committed and answered; the refund never changes
	// that response.
	if h.dispatcher != nil {
		h.logger.Debug().Str("cancellation_id", rec.ID.String()).Int64("refund_amount", rec.RefundAmount).Msg("dispatching refund")
		h.dispatcher.DispatchAsync(ctx, rec)
	}
	return nil
}

func (h *Handler) Quote(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	initiator := Initiator(c.QueryParam("initiated_by"))
	if !initiator.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid initiated_by")
	}
	q, err := h.svc.Quote(c.Request().Context(), id, initiator)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, q)
}

func (h *Handler) GetByAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.GetByAppointment(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) Refund(c echo.Context) error {
	if h.dispatcher == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "refund gateway not configured")
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	res, err := h.dispatcher.DispatchByID(c.Request().Context(), id)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusAccepted, res)
}
