// Package control exposes the trip database over HTTP while the daemon
// holds it open, and provides a client for the command line tools.
package control

import (
	"context"
	"errors"
	"net/http"

	"calmh.dev/tripd/internal/trip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"
)

// Store is what the control API needs from the trip database. It is
// implemented by both *store.Store and *Client.
type Store interface {
	Items(ctx context.Context) ([]trip.Item, error)
	StartCalculation(ctx context.Context, unit trip.Unit) (trip.Item, error)
	StopCalculation(ctx context.Context) (int, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger.With("module", "control")}
}

// NewRouter returns the daemon's HTTP surface: metrics, a health check
// and the control API.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.Register(router)

	return router
}

func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.GET("/trips", h.listItems)
		api.POST("/calculation", h.startCalculation)
		api.DELETE("/calculation", h.stopCalculation)
	}
}

func (h *Handler) listItems(c *gin.Context) {
	items, err := h.store.Items(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	if items == nil {
		items = []trip.Item{}
	}
	c.JSON(http.StatusOK, successResponse(items))
}

func (h *Handler) startCalculation(c *gin.Context) {
	var req struct {
		Unit string `json:"unit" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	unit, err := trip.ParseUnit(req.Unit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	item, err := h.store.StartCalculation(c.Request.Context(), unit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.logger.Info("Started calculation", "id", item.ID, "unit", item.Unit)
	c.JSON(http.StatusCreated, successResponse(item))
}

func (h *Handler) stopCalculation(c *gin.Context) {
	n, err := h.store.StopCalculation(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	h.logger.Info("Stopped calculation", "records", n)
	c.JSON(http.StatusOK, successResponse(gin.H{"deleted": n}))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrUnknownUnit):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	default:
		h.logger.Error("Control request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data any) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
