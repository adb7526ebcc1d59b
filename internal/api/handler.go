package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"agency-hub/internal/auth"
	"agency-hub/internal/models"
	"agency-hub/internal/payment"
	"agency-hub/internal/service"
	"agency-hub/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxWebhookBody = 65536

// Lifecycle is the order lifecycle engine as seen by the HTTP layer.
type Lifecycle interface {
	HandleEvent(ctx context.Context, event *payment.Event) (*service.Outcome, error)
	SignContract(ctx context.Context, req service.SignRequest) (*service.Outcome, error)
}

// Orders serves the client and staff order endpoints.
type Orders interface {
	CreateOrder(ctx context.Context, userID string, req *service.CreateOrderRequest) (*service.OrderDetail, error)
	StartCheckout(ctx context.Context, userID, orderID string) (*payment.CheckoutSession, error)
	GetOrder(ctx context.Context, userID, orderID string) (*service.OrderDetail, error)
	GetOrderForStaff(ctx context.Context, orderID string) (*service.OrderDetail, error)
	SalesReport(ctx context.Context, from, to time.Time) ([]service.SalesDay, error)
}

// WebhookVerifier authenticates a raw gateway delivery.
type WebhookVerifier interface {
	Verify(payload []byte, signatureHeader string) (*payment.Event, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	engine   Lifecycle
	orders   Orders
	verifier WebhookVerifier
	authn    *auth.Authenticator
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(engine Lifecycle, orders Orders, verifier WebhookVerifier, authn *auth.Authenticator, checks map[string]Pinger) *Handler {
	return &Handler{
		engine:   engine,
		orders:   orders,
		verifier: verifier,
		authn:    authn,
		checks:   checks,
		logger:   util.Named("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/stripe", h.stripeWebhook)

	v1 := router.Group("/api/v1", h.authn.Middleware())
	{
		client := v1.Group("", auth.RequireRole(models.RoleClient))
		client.POST("/orders", h.createOrder)
		client.POST("/orders/:id/checkout", h.startCheckout)
		client.POST("/orders/:id/sign", h.signContract)
		client.GET("/orders/:id", h.getOrder)

		admin := v1.Group("/admin")
		admin.GET("/orders/:id", auth.RequireRole(models.RoleAdmin, models.RoleStaff), h.getOrderForStaff)
		admin.GET("/metrics/sales", auth.RequireRole(models.RoleAdmin), h.salesMetrics)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// stripeWebhook verifies the signature before anything is parsed. Errors the
// gateway cannot fix by retrying are acknowledged with 200.
func (h *Handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid body")
		return
	}

	event, err := h.verifier.Verify(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("Webhook signature rejected", zap.Error(err))
		util.WebhookEventsTotal.WithLabelValues("unknown", "rejected").Inc()
		c.String(http.StatusBadRequest, "Invalid signature")
		return
	}

	outcome, err := h.engine.HandleEvent(c.Request.Context(), event)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrMalformedEvent),
		errors.Is(err, service.ErrEventInFlight),
		errors.Is(err, service.ErrOrderNotFound):
		h.logger.Warn("Webhook acknowledged without processing",
			zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
		c.String(http.StatusOK, "OK")
		return
	default:
		h.logger.Error("Webhook processing failed",
			zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}

	if outcome != nil && len(outcome.Failed()) > 0 {
		h.logger.Warn("Webhook processed with notification failures",
			zap.String("event_id", event.ID), zap.Int("failed", len(outcome.Failed())))
	}
	c.String(http.StatusOK, "OK")
}

type signContractRequest struct {
	SignatureData string `json:"signatureData" binding:"required"`
	FullName      string `json:"fullName" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	UserAgent     string `json:"userAgent"`
}

// signContract handles a client signing their order's contract
func (h *Handler) signContract(c *gin.Context) {
	var req signContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}

	_, err := h.engine.SignContract(c.Request.Context(), service.SignRequest{
		UserID:        auth.UserID(c),
		OrderID:       c.Param("id"),
		SignatureData: req.SignatureData,
		FullName:      req.FullName,
		Email:         req.Email,
		IPAddress:     auth.ClientIP(c.Request),
		UserAgent:     userAgent,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Contract signed successfully",
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	detail, err := h.orders.CreateOrder(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, detail)
}

func (h *Handler) startCheckout(c *gin.Context) {
	session, err := h.orders.StartCheckout(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": session.ID,
		"url":        session.URL,
	})
}

// getOrder handles get order by ID for the owning client
func (h *Handler) getOrder(c *gin.Context) {
	detail, err := h.orders.GetOrder(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (h *Handler) getOrderForStaff(c *gin.Context) {
	detail, err := h.orders.GetOrderForStaff(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

// salesMetrics lists daily rollups. from/to are YYYY-MM-DD and default to the
// last 30 days.
func (h *Handler) salesMetrics(c *gin.Context) {
	to := models.MetricsDay(time.Now())
	from := to.AddDate(0, 0, -29)

	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid from date"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse("2006-01-02", v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid to date"})
			return
		}
	}

	days, err := h.orders.SalesReport(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": days})
}

// writeError hides internal error text behind a generic 500 body.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := service.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
