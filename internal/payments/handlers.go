package payments

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/interpay/internal/logging"
	"github.com/mbd888/interpay/internal/pagination"
	"github.com/mbd888/interpay/internal/validation"
)

// Handler provides HTTP endpoints for payments and donations.
type Handler struct {
	service *Service
}

// NewHandler creates a new payments handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.InitiatePayment)
	r.POST("/payments/finalize", h.FinalizePayment)
	r.GET("/payments/sessions", h.ListSessions)
	r.GET("/payments/sessions/:key", validation.KeyParamMiddleware("key"), h.GetSession)
	r.DELETE("/payments/sessions/:key", validation.KeyParamMiddleware("key"), h.CancelSession)
	r.POST("/donations", h.Donate)
}

type initiateBody struct {
	Amount     decimal.Decimal `json:"amount"`
	Recipient  string          `json:"recipient"`
	Concept    string          `json:"concept"`
	CauseID    string          `json:"causeId"`
	Kind       Kind            `json:"kind"`
	SessionKey string          `json:"sessionKey"`
}

type finalizeBody struct {
	SessionKey string `json:"sessionKey"`
}

// InitiatePayment handles POST /v1/payments
func (h *Handler) InitiatePayment(c *gin.Context) {
	var body initiateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   KindValidation,
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("recipient", body.Recipient),
		validation.ValidWalletAddress("recipient", body.Recipient),
		validation.PositiveAmount("amount", body.Amount),
		validation.MaxLength("concept", body.Concept, validation.MaxStringLength),
		validation.ValidKey("sessionKey", body.SessionKey),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   KindValidation,
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	init, err := h.service.Initiate(c.Request.Context(), InitiateRequest{
		Amount:     body.Amount,
		Recipient:  body.Recipient,
		Concept:    validation.SanitizeString(body.Concept, validation.MaxStringLength),
		CauseID:    body.CauseID,
		Kind:       body.Kind,
		SessionKey: body.SessionKey,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, init)
}

// FinalizePayment handles POST /v1/payments/finalize
func (h *Handler) FinalizePayment(c *gin.Context) {
	var body finalizeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   KindValidation,
			"message": "Invalid request body",
		})
		return
	}

	out, err := h.service.Finalize(c.Request.Context(), body.SessionKey)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"outgoingPayment": out})
}

// ListSessions handles GET /v1/payments/sessions
func (h *Handler) ListSessions(c *gin.Context) {
	page, err := pagination.FromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   KindValidation,
			"message": err.Error(),
		})
		return
	}

	sessions, err := h.service.Pending(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	sessions, next := pagination.Apply(sessions, page, func(s PendingSession) (time.Time, string) {
		return s.CreatedAt, s.SessionKey
	})

	resp := gin.H{"sessions": sessions, "count": len(sessions)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// GetSession handles GET /v1/payments/sessions/:key
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.service.Session(c.Request.Context(), c.Param("key"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// CancelSession handles DELETE /v1/payments/sessions/:key
func (h *Handler) CancelSession(c *gin.Context) {
	key := c.Param("key")
	if err := h.service.Cancel(c.Request.Context(), key); err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionKey": key, "cancelled": true})
}

// Donate handles POST /v1/donations
func (h *Handler) Donate(c *gin.Context) {
	var req DonateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   KindValidation,
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("causeId", req.CauseID),
		validation.PositiveAmount("amount", req.Amount),
		validation.ValidKey("sessionKey", req.SessionKey),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   KindValidation,
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	init, cause, err := h.service.Donate(c.Request.Context(), req)
	if err != nil {
		RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"sessionKey":       init.SessionKey,
		"authorizationUrl": init.AuthorizationURL,
		"cause":            gin.H{"id": cause.ID, "name": cause.Name},
		"debitAmount":      init.DebitAmount,
		"receiveAmount":    init.ReceiveAmount,
	})
}

// RespondError writes the standard error body for err. Internal errors are
// logged and their details withheld from the caller.
func RespondError(c *gin.Context, err error) {
	kind := ErrorKind(err)
	status := HTTPStatus(kind)
	msg := err.Error()
	if kind == KindInternal {
		logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		msg = "Internal error"
	}
	c.JSON(status, gin.H{
		"error":   kind,
		"message": msg,
	})
}
