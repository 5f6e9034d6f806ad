package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/healthbook/healthbook/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleBilling))
	read.GET("/payments/:id", h.GetPayment)
}

func (h *Handler) GetPayment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPayment(c.Request().Context(), id)
	if errors.Is(err, ErrPaymentNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "payment not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// NotificationAuthenticator turns a signed gateway request body into a
// Notification. It returns ErrUnauthenticated or ErrMalformedPayload.
type NotificationAuthenticator interface {
	Authenticate(raw []byte, signature string) (*Notification, error)
}

// WebhookHandler receives payment gateway notifications. It answers with the
// fixed bodies the gateway expects; any 5xx tells the gateway to retry.
type WebhookHandler struct {
	auth            NotificationAuthenticator
	reconciler      *Reconciler
	path            string
	signatureHeader string
	timeout         time.Duration
	logger          zerolog.Logger
}

// NewWebhookHandler serves the HMAC-signed gateway at POST /payments.
func NewWebhookHandler(a NotificationAuthenticator, r *Reconciler, signatureHeader string, timeout time.Duration, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		auth:            a,
		reconciler:      r,
		path:            "/payments",
		signatureHeader: signatureHeader,
		timeout:         timeout,
		logger:          logger.With().Str("component", "payment_webhook").Logger(),
	}
}

// NewStripeWebhookHandler serves Stripe refund events at POST /stripe.
func NewStripeWebhookHandler(a *StripeAuthenticator, r *Reconciler, timeout time.Duration, logger zerolog.Logger) *WebhookHandler {
	h := NewWebhookHandler(a, r, StripeSignatureHeader, timeout, logger)
	h.path = "/stripe"
	h.logger = logger.With().Str("component", "stripe_webhook").Logger()
	return h
}

func (h *WebhookHandler) RegisterRoutes(g *echo.Group) {
	g.POST(h.path, h.Receive)
}

func (h *WebhookHandler) Receive(c echo.Context) error {
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid payload"})
	}

	n, err := h.auth.Authenticate(raw, c.Request().Header.Get(h.signatureHeader))
	switch {
	case errors.Is(err, ErrUnauthenticated):
		digest := sha256.Sum256(raw)
		h.logger.Warn().
			Str("remote_ip", c.RealIP()).
			Str("payload_sha256", hex.EncodeToString(digest[:])).
			Int("payload_bytes", len(raw)).
			Bool("signature_present", c.Request().Header.Get(h.signatureHeader) != "").
			Msg("rejected webhook with invalid signature")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
	case err != nil:
		h.logger.Warn().Str("remote_ip", c.RealIP()).Msg("rejected malformed webhook payload")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid payload"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	outcome, err := h.reconciler.Apply(ctx, n)
	if err != nil {
		h.logger.Error().Err(err).
			Str("event", n.Event).
			Str("transaction_id", n.TransactionID).
			Msg("webhook reconciliation failed")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	h.logger.Info().
		Str("event", n.Event).
		Str("transaction_id", n.TransactionID).
		Str("outcome", string(outcome)).
		Msg("webhook processed")
	return c.JSON(http.StatusOK, map[string]string{"status": "success"})
}
