package inference

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudwatchdog/internal/events"
	"github.com/mbd888/fraudwatchdog/internal/mlops"
	"github.com/mbd888/fraudwatchdog/internal/pagination"
	"github.com/mbd888/fraudwatchdog/internal/validation"
)

// Handler provides HTTP endpoints for scoring and the live feed.
type Handler struct {
	service *Service
}

// NewHandler creates a new inference handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up inference routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/", h.Root)
	r.POST("/predict", h.Predict)
	r.GET("/live-feed", h.LiveFeed)
	r.GET("/events", h.History)
	r.POST("/feedback/:id", validation.TransactionIDParamMiddleware(), h.Feedback)
}

// Root handles GET /
func (h *Handler) Root(c *gin.Context) {
	resp := gin.H{
		"message":  "Fraud Watchdog API is Awake",
		"profiles": h.service.Profiles(),
	}
	if info, err := h.service.Model(c.Request.Context()); err == nil {
		resp["model"] = info
	} else {
		resp["model"] = nil
		resp["model_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// Predict handles POST /predict
func (h *Handler) Predict(c *gin.Context) {
	session, ok := mlops.SessionID(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_session",
			"message": "invalid " + mlops.SessionHeader + " header",
		})
		return
	}

	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_transaction",
			"message": err.Error(),
		})
		return
	}

	res, err := h.service.Predict(c.Request.Context(), session, &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTransaction):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_transaction",
				"message": err.Error(),
			})
		case errors.Is(err, ErrModelUnavailable):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "model_unavailable",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

// LiveFeed handles GET /live-feed
func (h *Handler) LiveFeed(c *gin.Context) {
	feed, err := h.service.Feed(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if feed == nil {
		feed = []*events.Event{}
	}
	c.JSON(http.StatusOK, feed)
}

// History handles GET /events?status=&label=&limit=&cursor=
func (h *Handler) History(c *gin.Context) {
	cursor, err := pagination.Parse(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": err.Error(),
		})
		return
	}
	q := events.Query{
		Status: c.Query("status"),
		Label:  c.Query("label"),
		Before: cursor,
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "limit must be a positive integer",
			})
			return
		}
		q.Limit = n
	}

	page, err := h.service.History(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, events.ErrInvalidLabel) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_label",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, page)
}

type feedbackRequest struct {
	Label string `json:"label" binding:"required"`
}

// Feedback handles POST /feedback/:id
func (h *Handler) Feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "label is required",
		})
		return
	}

	ev, err := h.service.Label(c.Request.Context(), c.Param("id"), req.Label)
	if err != nil {
		switch {
		case errors.Is(err, events.ErrInvalidLabel):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_label",
				"message": err.Error(),
			})
		case errors.Is(err, events.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": ev})
}
