package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/navigator/internal/api/middleware"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/engine/fetch"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/engine/fetch/sandbox"
	"github.com/GriffinCanCode/AgentOS/navigator/internal/navigation"
)

// MaxTimeoutMS bounds timeout_ms on POST /navigate.
const MaxTimeoutMS = int(24 * time.Hour / time.Millisecond)

// Inspector exposes engine internals on /status. The fetch engine implements it.
type Inspector interface {
	Snapshot() fetch.PageInfo
	BreakerStates() map[string]string
	SandboxStats() sandbox.PoolStats
}

// NavigateRequest is the body of POST /navigate.
type NavigateRequest struct {
	Address   string `json:"address" binding:"required"`
	TimeoutMS int    `json:"timeout_ms"`
	Async     bool   `json:"async"`
}

// Handlers serves the navigation API over one controller.
type Handlers struct {
	ctrl      *navigation.Controller
	inspector Inspector
	logger    *zap.Logger
	engine    string
	started   time.Time

	// base outlives requests so async navigations survive the response.
	base context.Context
}

// NewHandlers creates a handler set. inspector may be nil.
func NewHandlers(base context.Context, ctrl *navigation.Controller, inspector Inspector, engine string, logger *zap.Logger) *Handlers {
	return &Handlers{
		ctrl:      ctrl,
		inspector: inspector,
		logger:    logger.Named("api"),
		engine:    engine,
		started:   time.Now(),
		base:      base,
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "AgentOS Navigator",
		"engine":  h.engine,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	snap, err := h.ctrl.Snapshot()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"engine":         h.engine,
		"epoch":          snap.Epoch,
		"state":          snap.State,
		"uptime_seconds": time.Since(h.started).Seconds(),
	})
}

// Navigate loads an address. Synchronous requests block until the attempt
// settles; async ones return 202 immediately and report through /events.
func (h *Handlers) Navigate(c *gin.Context) {
	var req NavigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}
	if req.TimeoutMS < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timeout_ms must not be negative"})
		return
	}
	if req.TimeoutMS > MaxTimeoutMS {
		c.JSON(http.StatusBadRequest, gin.H{"error": "timeout_ms exceeds 24h"})
		return
	}
	if _, err := navigation.NormalizeAddress(req.Address); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond

	if req.Async {
		requestID := middleware.GetRequestID(c)
		go func() {
			if err := h.ctrl.NavigateTo(h.base, req.Address, timeout); err != nil {
				h.logger.Info("async navigation ended",
					zap.String("request_id", requestID),
					zap.String("address", req.Address),
					zap.Error(err),
				)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "accepted",
			"address": req.Address,
		})
		return
	}

	err := h.ctrl.NavigateTo(c.Request.Context(), req.Address, timeout)
	snap, _ := h.ctrl.Snapshot()
	if err != nil {
		h.fail(c, err, snap)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "completed",
		"snapshot": snap,
	})
}

// Back moves back in history
func (h *Handlers) Back(c *gin.Context) {
	h.command(c, h.ctrl.GoBack)
}

// Forward moves forward in history
func (h *Handlers) Forward(c *gin.Context) {
	h.command(c, h.ctrl.GoForward)
}

// Refresh reloads the current page
func (h *Handlers) Refresh(c *gin.Context) {
	h.command(c, h.ctrl.Refresh)
}

// Stop cancels the in-flight navigation
func (h *Handlers) Stop(c *gin.Context) {
	h.command(c, h.ctrl.Stop)
}

// Status reports the controller snapshot and, when available, the engine page.
func (h *Handlers) Status(c *gin.Context) {
	snap, err := h.ctrl.Snapshot()
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	body := gin.H{
		"engine":     h.engine,
		"navigation": snap,
	}
	if h.inspector != nil {
		body["page"] = h.inspector.Snapshot()
		body["breakers"] = h.inspector.BreakerStates()
		body["sandbox"] = h.inspector.SandboxStats()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handlers) command(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	snap, _ := h.ctrl.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"snapshot": snap,
	})
}

func (h *Handlers) fail(c *gin.Context, err error, snap navigation.Snapshot) {
	body := gin.H{
		"error":    err.Error(),
		"snapshot": snap,
	}
	var navErr *navigation.NavigationError
	if errors.As(err, &navErr) {
		body["kind"] = navErr.Kind.String()
		if navErr.Code != navigation.ErrorNone {
			body["code"] = navErr.Code.String()
		}
	}
	c.JSON(statusFor(err), body)
}

// statusFor maps controller errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, navigation.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, navigation.ErrDisposed):
		return http.StatusServiceUnavailable
	case errors.Is(err, navigation.ErrTimeout), errors.Is(err, navigation.ErrStall):
		return http.StatusGatewayTimeout
	case errors.Is(err, navigation.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, navigation.ErrProtocol):
		return http.StatusBadGateway
	case errors.Is(err, navigation.ErrEngineCommand):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
