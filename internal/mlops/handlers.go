package mlops

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the retrain cycle.
type Handler struct {
	service   *Service
	retrainer *Retrainer
}

// NewHandler creates a new mlops handler. retrainer may be nil, in which
// case POST /retrain is not registered.
func NewHandler(service *Service, retrainer *Retrainer) *Handler {
	return &Handler{service: service, retrainer: retrainer}
}

// RegisterRoutes sets up the mlops routes.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/trigger-mlops", h.TriggerMLOps)
	r.GET("/mlops/status", h.GetStatus)
	if h.retrainer != nil {
		r.POST("/retrain", h.Retrain)
	}
}

// SessionID returns the caller's session from the X-Session-ID header,
// or DefaultSession when the header is absent.
func SessionID(c *gin.Context) (string, bool) {
	id := c.GetHeader(SessionHeader)
	if id == "" {
		return DefaultSession, true
	}
	return id, ValidSession(id)
}

func badSession(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_session",
		"message": SessionHeader + " must be 1-128 characters of letters, digits, '-', '_', '.' or ':'",
	})
}

// TriggerMLOps handles POST /trigger-mlops
func (h *Handler) TriggerMLOps(c *gin.Context) {
	session, ok := SessionID(c)
	if !ok {
		badSession(c)
		return
	}

	out, err := h.service.Trigger(c.Request.Context(), session, TriggerSync)
	if err != nil {
		resp := gin.H{"error": "internal_error", "message": err.Error()}
		if errors.Is(err, ErrVCS) {
			resp["error"] = "vcs_failed"
		}
		if out != nil {
			resp["progress"] = out.Progress
			resp["model"] = out.Model
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	resp := gin.H{
		"status":         "success",
		"message":        "Global Model Updated!",
		"session":        out.Session,
		"version":        out.Progress.Version,
		"maturity":       out.Progress.Maturity,
		"threats_caught": out.Progress.ThreatsCaught,
		"progress":       out.Progress,
		"model":          out.Model,
		"composition":    out.Composition,
		"new_samples":    out.NewSamples,
		"duration_ms":    out.Duration.Milliseconds(),
	}
	if out.VCS != nil {
		resp["vcs"] = out.VCS
	}
	if out.VCSError != "" {
		resp["vcs_error"] = out.VCSError
	}
	c.JSON(http.StatusOK, resp)
}

// Retrain handles POST /retrain
func (h *Handler) Retrain(c *gin.Context) {
	session, ok := SessionID(c)
	if !ok {
		badSession(c)
		return
	}
	queued, err := h.retrainer.Enqueue(session, TriggerAsync)
	if errors.Is(err, ErrQueueFull) {
		c.Header("Retry-After", "30")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "retrain_queue_full",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status":    "Retraining Started",
		"session":   session,
		"coalesced": !queued,
	})
}

// GetStatus handles GET /mlops/status
func (h *Handler) GetStatus(c *gin.Context) {
	session, ok := SessionID(c)
	if !ok {
		badSession(c)
		return
	}
	st, err := h.service.Status(c.Request.Context(), session)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	resp := gin.H{
		"session":        st.Session,
		"progress":       st.Progress,
		"has_pattern":    len(st.LastPattern) > 0,
		"retrain_active": h.service.Busy(),
	}
	if st.UpdatedAt.IsZero() {
		resp["updated_at"] = nil
	} else {
		resp["updated_at"] = st.UpdatedAt
	}
	if info, ok := h.service.loader.Info(); ok {
		resp["model"] = info
	}
	if h.retrainer != nil {
		resp["retrainer"] = h.retrainer.State()
	}
	c.JSON(http.StatusOK, resp)
}
