package payment

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shopora/server/internal/module/order"
	"github.com/shopora/server/internal/module/payment/gateway"
	"github.com/shopora/server/internal/shared/middleware"
	"github.com/shopora/server/internal/shared/response"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Handler exposes the payment HTTP surface.
type Handler struct {
	svc *Service
	log *zap.Logger
}

// NewHandler creates a new payment handler.
func NewHandler(svc *Service, log *zap.Logger) *Handler {
	return &Handler{svc: svc, log: log.Named("payment_handler")}
}

// RegisterRoutes mounts the payment routes. Callbacks and webhooks are
// unauthenticated by design; everything else needs a user, refunds and
// operational endpoints an admin.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth, admin gin.HandlerFunc) {
	gw := r.Group("/payment/:gateway")
	gw.POST("/initiate", auth, h.Initiate)
	gw.GET("/callback", h.Callback)
	gw.POST("/callback", h.Callback)
	gw.POST("/webhook", h.Webhook)

	ops := r.Group("/payments")
	ops.GET("/methods", h.Methods)
	ops.GET("/detail/:id", auth, h.Get)
	ops.GET("/order/:orderNo", auth, admin, h.ListByOrder)
	ops.POST("/verify", auth, admin, h.Verify)
	ops.POST("/refund", auth, admin, h.Refund)
	ops.POST("/cod/delivered", auth, admin, h.CODDelivered)
	ops.POST("/cache/clear", auth, admin, h.ClearCache)
}

var serviceErrorMappings = []response.ErrorMapping{
	{Err: ErrUnsupportedGateway, Status: http.StatusNotFound},
	{Err: ErrGatewayDisabled, Status: http.StatusConflict},
	{Err: ErrOrderNotPayable, Status: http.StatusConflict},
	{Err: ErrAmountOutOfBounds, Status: http.StatusUnprocessableEntity},
	{Err: ErrPaymentNotFound, Status: http.StatusNotFound},
	{Err: ErrNotRefundable, Status: http.StatusConflict},
	{Err: ErrRefundExceedsPaid, Status: http.StatusUnprocessableEntity},
	{Err: ErrNotCOD, Status: http.StatusConflict},
	{Err: ErrAmountMismatch, Status: http.StatusConflict},
	{Err: order.ErrOrderNotFound, Status: http.StatusNotFound},
	{Err: gateway.ErrSignatureMismatch, Status: http.StatusUnauthorized},
	{Err: gateway.ErrNotSupported, Status: http.StatusConflict},
}

type initiateRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
}

type initiateResponse struct {
	PaymentID  string                  `json:"payment_id"`
	PaymentRef string                  `json:"payment_ref"`
	Gateway    string                  `json:"gateway"`
	Checkout   *gateway.InitiateResult `json:"checkout"`
}

// Initiate starts a payment attempt on the gateway in the path.
func (h *Handler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.BadRequest(c, "invalid order_id")
		return
	}
	userID, err := uuid.Parse(c.GetString(middleware.UserIDKey))
	if err != nil {
		response.Unauthorized(c, "")
		return
	}

	result, p, err := h.svc.Initiate(c.Request.Context(), userID, orderID, c.Param("gateway"))
	if err != nil {
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}
	c.JSON(http.StatusOK, initiateResponse{
		PaymentID:  p.ID.String(),
		PaymentRef: p.PaymentRef,
		Gateway:    p.Gateway,
		Checkout:   result,
	})
}

// Callback handles the shopper's return from the gateway. Browsers get
// a redirect to the storefront result page; API clients asking for
// JSON get the outcome directly.
func (h *Handler) Callback(c *gin.Context) {
	result, err := h.svc.HandleCallback(c.Request.Context(), c.Param("gateway"), c.Request)
	if err != nil {
		h.log.Warn("callback failed",
			zap.String("gateway", c.Param("gateway")),
			zap.Error(err),
		)
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(http.StatusOK, gin.H{
			"order_no": result.OrderNo,
			"status":   result.Status,
		})
		return
	}
	c.Redirect(http.StatusFound, result.RedirectURL)
}

// Webhook handles server-to-server notifications from the gateway.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}

	err = h.svc.HandleWebhook(c.Request.Context(), c.Param("gateway"), body, c.Request.Header)
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureMismatch) {
			response.Unauthorized(c, "signature mismatch")
			return
		}
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Get returns one ledger entry. Owners see their own payments, admins
// any.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}
	if p.UserID.String() != c.GetString(middleware.UserIDKey) && c.GetString(middleware.UserRoleKey) != "admin" {
		response.Forbidden(c, "")
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListByOrder returns every payment attempt for an order number.
func (h *Handler) ListByOrder(c *gin.Context) {
	payments, err := h.svc.ListByOrderNo(c.Request.Context(), c.Param("orderNo"))
	if err != nil {
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// Methods lists gateways available for an amount.
func (h *Handler) Methods(c *gin.Context) {
	var query struct {
		AmountPaise int64 `form:"amount_paise"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, "invalid amount_paise")
		return
	}
	methods, err := h.svc.Methods(c.Request.Context(), query.AmountPaise)
	if err != nil {
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}
	c.JSON(http.StatusOK, gin.H{"methods": methods})
}

type verifyRequest struct {
	PaymentRef string `json:"payment_ref" binding:"required"`
}

// Verify pulls the provider's view of a payment and reconciles it.
// Used when a payment is stuck pending because notifications were lost.
func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	p, err := h.svc.Verify(c.Request.Context(), req.PaymentRef)
	if err != nil {
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}
	c.JSON(http.StatusOK, p)
}

type refundRequest struct {
	PaymentID   string `json:"payment_id" binding:"required,uuid"`
	AmountPaise int64  `json:"amount_paise"`
	Reason      string `json:"reason"`
}

// Refund issues a full or partial refund for a payment.
func (h *Handler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	paymentID, err := uuid.Parse(req.PaymentID)
	if err != nil {
		response.BadRequest(c, "invalid payment_id")
		return
	}
	p, err := h.svc.Refund(c.Request.Context(), paymentID, req.AmountPaise, req.Reason)
	if err != nil {
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}
	c.JSON(http.StatusOK, p)
}

type codDeliveredRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
}

// CODDelivered settles a pay-on-delivery payment after the cash was
// collected.
func (h *Handler) CODDelivered(c *gin.Context) {
	var req codDeliveredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		response.BadRequest(c, "invalid order_id")
		return
	}
	p, err := h.svc.MarkCODDelivered(c.Request.Context(), orderID)
	if err != nil {
		response.HandleErrorWithDefault(c, err, serviceErrorMappings)
		return
	}
	c.JSON(http.StatusOK, p)
}

// ClearCache drops cached gateway adapters.
func (h *Handler) ClearCache(c *gin.Context) {
	h.svc.ClearGatewayCache()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
