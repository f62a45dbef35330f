package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"registration-service/internal/service"
	"registration-service/internal/store"
	"registration-service/internal/util"
)

// Handler contains HTTP handlers
type Handler struct {
	registrations *service.RegistrationService
	reconciler    *service.Reconciler
	gateway       service.SessionGateway
	passkey       string
	frontendURL   string
	exposeDetails bool
	logger        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	registrations *service.RegistrationService,
	reconciler *service.Reconciler,
	gateway service.SessionGateway,
	passkey, frontendURL string,
	exposeDetails bool,
) *Handler {
	return &Handler{
		registrations: registrations,
		reconciler:    reconciler,
		gateway:       gateway,
		passkey:       passkey,
		frontendURL:   frontendURL,
		exposeDetails: exposeDetails,
		logger:        util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.CustomRecovery(h.recoveryHandler))
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{h.frontendURL},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "x-dashboard-passkey", "stripe-signature"},
		AllowCredentials: true,
	}))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("", h.healthCheck)
		apiGroup.POST("/create-checkout-session", h.createCheckoutSession)
		apiGroup.GET("/checkout-session/:sessionId", h.getCheckoutSession)
		apiGroup.POST("/webhook", h.webhook)

		dashboard := apiGroup.Group("/dashboard", h.passkeyMiddleware())
		{
			dashboard.GET("/stats", h.dashboardStats)
			dashboard.GET("/registrations", h.dashboardRegistrations)
			dashboard.GET("/export", h.dashboardExport)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "The requested endpoint does not exist",
		})
	})
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"message":   "Payment registration API is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// createCheckoutSession starts a registration and returns the hosted
// checkout redirect
func (h *Handler) createCheckoutSession(c *gin.Context) {
	var req service.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	rc := service.RequestContext{
		ClientIP:     c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
		RedirectBase: h.redirectBase(c),
	}

	resp, err := h.registrations.CreateCheckout(c.Request.Context(), &req, rc)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			if len(verr.Missing) > 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":    verr.Message,
					"required": verr.Missing,
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
			return
		}

		h.logger.Error("Checkout session creation failed", zap.Error(err))
		h.serverError(c, "Failed to create checkout session", err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getCheckoutSession runs a poll-triggered reconciliation pass and returns
// the current session view
func (h *Handler) getCheckoutSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	reg, err := h.reconciler.ReconcileSession(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		h.logger.Error("Session reconciliation failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		h.serverError(c, "Failed to retrieve session", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":              sessionID,
		"status":          reg.PaymentStatus,
		"customer_email":  reg.Email,
		"amount_total":    reg.Amount,
		"currency":        strings.ToLower(reg.Currency),
		"metadata":        reg.Metadata,
		"email_sent":      reg.ConfirmationSent,
		"registration_id": reg.ID,
	})
}

// webhook verifies and dispatches a provider event. The provider must see
// a 200 once the signature checks out, or it keeps retrying; processing
// failures are logged, never surfaced.
func (h *Handler) webhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
		return
	}

	event, err := h.gateway.VerifyAndParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		util.WebhookRejectedTotal.Inc()
		h.logger.Warn("Webhook signature verification failed", zap.Error(err))
		c.String(http.StatusBadRequest, "Webhook Error: %s", err.Error())
		return
	}

	if err := h.reconciler.ProcessWebhookEvent(c.Request.Context(), event); err != nil {
		h.logger.Error("Webhook processing failed",
			zap.String("event_id", event.ID),
			zap.String("type", event.Type),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// dashboardStats returns aggregate registration counts
func (h *Handler) dashboardStats(c *gin.Context) {
	stats, err := h.registrations.Stats(c.Request.Context())
	if err != nil {
		h.serverError(c, "Failed to load stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// dashboardRegistrations returns a filtered, paginated listing
func (h *Handler) dashboardRegistrations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	status := c.Query("status")

	regs, err := h.registrations.ListRegistrations(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.serverError(c, "Failed to list registrations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"registrations": regs,
		"count":         len(regs),
	})
}

// dashboardExport streams all registrations as a CSV attachment
func (h *Handler) dashboardExport(c *gin.Context) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="registrations.csv"`)

	if err := h.registrations.ExportCSV(c.Request.Context(), c.Writer); err != nil {
		h.logger.Error("CSV export failed", zap.Error(err))
	}
}

// passkeyMiddleware gates the dashboard behind the shared passkey, looked
// up in the header, the query string, or a form body, in that order.
func (h *Handler) passkeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		supplied := c.GetHeader("x-dashboard-passkey")
		if supplied == "" {
			supplied = c.Query("passkey")
		}
		if supplied == "" {
			supplied = c.PostForm("passkey")
		}

		if h.passkey == "" || supplied != h.passkey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid passkey"})
			return
		}
		c.Next()
	}
}

func (h *Handler) redirectBase(c *gin.Context) string {
	origin := c.GetHeader("Origin")
	if origin == "" {
		origin = c.GetHeader("Referer")
	}
	if origin == "" {
		origin = h.frontendURL
	}
	return strings.TrimRight(origin, "/")
}

func (h *Handler) serverError(c *gin.Context, msg string, err error) {
	body := gin.H{"error": msg}
	if h.exposeDetails {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusInternalServerError, body)
}

func (h *Handler) recoveryHandler(c *gin.Context, recovered interface{}) {
	h.logger.Error("Panic recovered", zap.Any("panic", recovered))
	body := gin.H{"error": "Internal Server Error"}
	if h.exposeDetails {
		body["details"] = recovered
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, body)
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
