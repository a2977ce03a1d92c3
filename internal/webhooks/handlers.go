package webhooks

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/interpay/internal/idgen"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/validation"
)

// Handler provides HTTP endpoints for webhook management
type Handler struct {
	store      Store
	dispatcher *Dispatcher
	now        func() time.Time
}

// NewHandler creates a new webhook handler
func NewHandler(store Store, dispatcher *Dispatcher) *Handler {
	return &Handler{
		store:      store,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// RegisterRoutes sets up webhook routes
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateWebhook)
	r.GET("/webhooks", h.ListWebhooks)
	r.DELETE("/webhooks/:id", validation.KeyParamMiddleware("id"), h.DeleteWebhook)
}

// CreateWebhookRequest for creating a webhook subscription
type CreateWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// CreateWebhook handles POST /v1/webhooks
func (h *Handler) CreateWebhook(c *gin.Context) {
	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("url", req.URL),
		validation.MaxLength("url", req.URL, 2048),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	if err := h.dispatcher.ValidateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": "url: " + err.Error(),
		})
		return
	}

	events := make([]EventType, 0, len(req.Events))
	for _, e := range req.Events {
		et := EventType(e)
		if !et.IsKnown() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   payments.KindValidation,
				"message": "unknown event type: " + e,
				"known":   KnownEvents,
			})
			return
		}
		events = append(events, et)
	}

	secret := idgen.Hex(32)
	sub := &Subscription{
		ID:        "wh_" + idgen.Hex(12),
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: h.now().UTC(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		payments.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"webhook": sub,
		"secret":  secret, // only returned here
		"usage": gin.H{
			"signature": "Verify with HMAC-SHA256(payload, secret)",
			"header":    "X-Interpay-Signature",
		},
	})
}

// ListWebhooks handles GET /v1/webhooks
func (h *Handler) ListWebhooks(c *gin.Context) {
	subs, err := h.store.List(c.Request.Context())
	if err != nil {
		payments.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"webhooks": subs, "count": len(subs)})
}

// DeleteWebhook handles DELETE /v1/webhooks/:id
func (h *Handler) DeleteWebhook(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   payments.KindNotFound,
				"message": err.Error(),
			})
			return
		}
		payments.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "deleted": true})
}
