package scheduler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/interpay/internal/pagination"
	"github.com/mbd888/interpay/internal/payments"
	"github.com/mbd888/interpay/internal/validation"
)

// Handler provides HTTP endpoints for scheduled payments.
type Handler struct {
	service *Service
}

// NewHandler creates a new scheduler handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scheduled payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/scheduled-payments")
	g.POST("", h.SchedulePayment)
	g.GET("", h.ListTasks)
	g.GET("/pending-approvals", h.ListPendingApprovals)
	g.GET("/:id", validation.KeyParamMiddleware("id"), h.GetTask)
	g.DELETE("/:id", validation.KeyParamMiddleware("id"), h.CancelTask)
	g.POST("/:id/finalize", validation.KeyParamMiddleware("id"), h.FinalizeTask)
}

// SchedulePayment handles POST /v1/scheduled-payments
func (h *Handler) SchedulePayment(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("recipient", req.Recipient),
		validation.ValidWalletAddress("recipient", req.Recipient),
		validation.PositiveAmount("amount", req.Amount),
		validation.Required("triggerAt", req.TriggerAt),
		validation.MaxLength("description", req.Description, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	req.Description = validation.SanitizeString(req.Description, validation.MaxStringLength)

	task, err := h.service.Schedule(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// ListTasks handles GET /v1/scheduled-payments
func (h *Handler) ListTasks(c *gin.Context) {
	page, err := pagination.FromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   payments.KindValidation,
			"message": err.Error(),
		})
		return
	}

	tasks, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	tasks, next := pagination.Apply(tasks, page, func(t *Task) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	if tasks == nil {
		tasks = []*Task{}
	}

	resp := gin.H{"tasks": tasks, "count": len(tasks)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

// GetTask handles GET /v1/scheduled-payments/:id
func (h *Handler) GetTask(c *gin.Context) {
	task, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": task})
}

// CancelTask handles DELETE /v1/scheduled-payments/:id
func (h *Handler) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "cancelled": true})
}

// ListPendingApprovals handles GET /v1/scheduled-payments/pending-approvals
func (h *Handler) ListPendingApprovals(c *gin.Context) {
	approvals, err := h.service.PendingApprovals(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals, "count": len(approvals)})
}

// FinalizeTask handles POST /v1/scheduled-payments/:id/finalize
func (h *Handler) FinalizeTask(c *gin.Context) {
	out, task, err := h.service.FinalizeScheduled(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outgoingPayment": out, "task": task})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   payments.KindNotFound,
			"message": err.Error(),
		})
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrTaskExists):
		c.JSON(http.StatusConflict, gin.H{
			"error":   payments.KindInvalidState,
			"message": err.Error(),
		})
	default:
		payments.RespondError(c, err)
	}
}
