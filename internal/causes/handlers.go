package causes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/mbd888/interpay/internal/payments"
)

// Handler provides HTTP endpoints for the causes catalog.
type Handler struct {
	catalog *Catalog
}

// NewHandler creates a new causes handler.
func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// RegisterRoutes sets up cause routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/causes", h.ListCauses)
	r.GET("/causes/:id", h.GetCause)
}

type causeView struct {
	*Cause
	Progress decimal.Decimal `json:"progress"`
}

func viewOf(c *Cause) causeView {
	return causeView{Cause: c, Progress: c.Progress()}
}

// ListCauses handles GET /v1/causes
func (h *Handler) ListCauses(c *gin.Context) {
	list, err := h.catalog.List(c.Request.Context())
	if err != nil {
		payments.RespondError(c, err)
		return
	}
	views := make([]causeView, len(list))
	for i, cause := range list {
		views[i] = viewOf(cause)
	}
	c.JSON(http.StatusOK, gin.H{"causes": views, "count": len(views)})
}

// GetCause handles GET /v1/causes/:id
func (h *Handler) GetCause(c *gin.Context) {
	cause, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   payments.KindNotFound,
			"message": "Cause not found",
		})
		return
	}
	if err != nil {
		payments.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cause": viewOf(cause)})
}
