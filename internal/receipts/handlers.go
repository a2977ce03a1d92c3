package receipts

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/interpay/internal/pagination"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/validation"
)

// Handler provides HTTP endpoints for receipt operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new receipt handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read-only receipt routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/receipts", h.ListReceipts)
	r.GET("/receipts/:id", validation.KeyParamMiddleware("id"), h.GetReceipt)
	r.POST("/receipts/verify", h.VerifyReceipt)
}

// GetReceipt handles GET /v1/receipts/:id
func (h *Handler) GetReceipt(c *gin.Context) {
	receipt, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrReceiptNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   payments.KindNotFound,
				"message": "Receipt not found",
			})
			return
		}
		payments.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"receipt": receipt})
}

// ListReceipts handles GET /v1/receipts?wallet=
func (h *Handler) ListReceipts(c *gin.Context) {
	page, err := pagination.FromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": err.Error(),
		})
		return
	}

	receipts, err := h.service.List(c.Request.Context(), c.Query("wallet"))
	if err != nil {
		payments.RespondError(c, err)
		return
	}
	receipts, next := pagination.Apply(receipts, page, func(r *Receipt) (time.Time, string) {
		return r.CreatedAt, r.ID
	})

	resp := gin.H{
		"receipts": receipts,
		"count":    len(receipts),
		"signing":  h.service.Enabled(),
	}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// VerifyReceipt handles POST /v1/receipts/verify
func (h *Handler) VerifyReceipt(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("receiptId", req.ReceiptID),
		validation.ValidKey("receiptId", req.ReceiptID),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	resp, err := h.service.Verify(c.Request.Context(), req.ReceiptID)
	if err != nil {
		payments.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"verification": resp})
}
