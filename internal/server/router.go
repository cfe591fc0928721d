package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/flowmark/flowmark/internal/forecast"
	"github.com/flowmark/flowmark/internal/gauges"
	"github.com/flowmark/flowmark/internal/query"
	"github.com/flowmark/flowmark/internal/sources"
	"github.com/flowmark/flowmark/internal/syncer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultReadingsLimit = 100

var (
	errMissingFacade      = errors.New("query facade dependency required")
	errMissingCoordinator = errors.New("sync coordinator dependency required")
	errMissingStore       = errors.New("gauge store dependency required")
)

// Coordinator is the write-path contract the handler drives.
type Coordinator interface {
	Seed(ctx context.Context) (syncer.SeedResult, error)
	Refresh(ctx context.Context, gaugeID int64) (syncer.RefreshResult, error)
}

// Dependencies carries the collaborators for the HTTP handler.
type Dependencies struct {
	Facade      *query.Facade
	Coordinator Coordinator
	Store       *gauges.Store
	Logger      *zap.Logger
}

// NewHTTPHandler wires the engine's read and mutation endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Facade == nil {
		return nil, errMissingFacade
	}
	if deps.Coordinator == nil {
		return nil, errMissingCoordinator
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		facade:      deps.Facade,
		coordinator: deps.Coordinator,
		store:       deps.Store,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/seed", handler.handleSeed)

	gaugeRoutes := router.Group("/gauges")
	gaugeRoutes.GET("/favorites", handler.handleFavorites)
	gaugeRoutes.GET("/search", handler.handleSearch)
	gaugeRoutes.GET("/:id/readings", handler.handleReadings)
	gaugeRoutes.GET("/:id/trend", handler.handleTrend)
	gaugeRoutes.GET("/:id/forecast", handler.handleForecast)
	gaugeRoutes.POST("/:id/refresh", handler.handleRefresh)
	gaugeRoutes.POST("/:id/favorite", handler.handleSetFavorite)
	gaugeRoutes.POST("/:id/primary", handler.handleSetPrimary)

	return router, nil
}

type httpHandler struct {
	facade      *query.Facade
	coordinator Coordinator
	store       *gauges.Store
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleSeed(c *gin.Context) {
	result, err := h.coordinator.Seed(c.Request.Context())
	if err != nil {
		if errors.Is(err, gauges.ErrAlreadySeeded) {
			c.JSON(http.StatusConflict, gin.H{"error": "already seeded"})
			return
		}
		h.logger.Error("seed failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, sources.ErrSourceUnavailable) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": "seed failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleFavorites(c *gin.Context) {
	views, err := h.facade.Favorites(c.Request.Context())
	if err != nil {
		h.logger.Error("favorites query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gauges": views})
}

// handleSearch serves both free-text and bounding-box search: ?q= matches
// name/state, the four box parameters trigger the spatial pre-filter.
func (h *httpHandler) handleSearch(c *gin.Context) {
	if text := c.Query("q"); text != "" {
		views, err := h.facade.SearchByName(c.Request.Context(), text)
		if err != nil {
			h.logger.Error("name search failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"gauges": views})
		return
	}

	box, ok := parseBox(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q or minLat/maxLat/minLon/maxLon required"})
		return
	}

	views, err := h.facade.SearchByRegion(c.Request.Context(), box)
	if err != nil {
		h.logger.Error("region search failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"gauges": views})
}

func (h *httpHandler) handleReadings(c *gin.Context) {
	gaugeID, ok := parseGaugeID(c)
	if !ok {
		return
	}

	limit := defaultReadingsLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	readings, err := h.facade.Readings(c.Request.Context(), gaugeID, limit)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"readings": readings})
}

func (h *httpHandler) handleTrend(c *gin.Context) {
	gaugeID, ok := parseGaugeID(c)
	if !ok {
		return
	}

	trend, err := h.facade.Trend(c.Request.Context(), gaugeID)
	if err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, trend)
}

// handleForecast passes the provider payload through. An unavailable forecast
// is an expected outcome, not an error status.
func (h *httpHandler) handleForecast(c *gin.Context) {
	gaugeID, ok := parseGaugeID(c)
	if !ok {
		return
	}

	start, end, ok := parseDateRange(c)
	if !ok {
		return
	}

	payload, err := h.facade.Forecast(c.Request.Context(), gaugeID, start, end)
	if err != nil {
		if errors.Is(err, forecast.ErrForecastUnavailable) {
			c.JSON(http.StatusOK, gin.H{"available": false})
			return
		}
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true, "forecast": payload})
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	gaugeID, ok := parseGaugeID(c)
	if !ok {
		return
	}

	result, err := h.coordinator.Refresh(c.Request.Context(), gaugeID)
	if err != nil {
		if errors.Is(err, gauges.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "gauge not found"})
			return
		}
		h.logger.Warn("refresh failed", zap.Int64("gauge_id", gaugeID), zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, sources.ErrSourceUnavailable) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": "refresh failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type flagRequest struct {
	Value bool `json:"value"`
}

func (h *httpHandler) handleSetFavorite(c *gin.Context) {
	h.handleSetFlag(c, h.store.SetFavorite)
}

func (h *httpHandler) handleSetPrimary(c *gin.Context) {
	h.handleSetFlag(c, h.store.SetPrimary)
}

func (h *httpHandler) handleSetFlag(c *gin.Context, update func(context.Context, int64, bool) error) {
	gaugeID, ok := parseGaugeID(c)
	if !ok {
		return
	}

	var request flagRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	if err := update(c.Request.Context(), gaugeID, request.Value); err != nil {
		h.respondStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": gaugeID, "value": request.Value})
}

func (h *httpHandler) respondStoreError(c *gin.Context, err error) {
	if errors.Is(err, gauges.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "gauge not found"})
		return
	}
	h.logger.Error("store operation failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func parseGaugeID(c *gin.Context) (int64, bool) {
	gaugeID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || gaugeID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gauge id"})
		return 0, false
	}
	return gaugeID, true
}

func parseBox(c *gin.Context) (gauges.Box, bool) {
	values := make([]float64, 0, 4)
	for _, key := range []string{"minLat", "maxLat", "minLon", "maxLon"} {
		raw := c.Query(key)
		if raw == "" {
			return gauges.Box{}, false
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return gauges.Box{}, false
		}
		values = append(values, parsed)
	}
	return gauges.Box{
		MinLatitude:  values[0],
		MaxLatitude:  values[1],
		MinLongitude: values[2],
		MaxLongitude: values[3],
	}, true
}

func parseDateRange(c *gin.Context) (time.Time, time.Time, bool) {
	const layout = "2006-01-02"
	start, err := time.Parse(layout, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start date"})
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(layout, c.Query("end"))
	if err != nil || end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end date"})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
