package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cvfolio/reqaudit/internal/model"
	"github.com/cvfolio/reqaudit/internal/pkg/apperrors"
	"github.com/cvfolio/reqaudit/internal/pkg/logger"
	"github.com/cvfolio/reqaudit/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	DefaultLogsTTL  = 5 * time.Minute
	DefaultStatsTTL = 10 * time.Minute

	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

// ResponseCache stores rendered JSON bodies by request URL.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, body []byte, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type AuditHandler struct {
	query     *service.QueryService
	retention *service.RetentionService
	hub       *service.StreamHub
	cache     ResponseCache
	logsTTL   time.Duration
	statsTTL  time.Duration
}

func NewAuditHandler(query *service.QueryService, retention *service.RetentionService, hub *service.StreamHub) *AuditHandler {
	return &AuditHandler{
		query:     query,
		retention: retention,
		hub:       hub,
		logsTTL:   DefaultLogsTTL,
		statsTTL:  DefaultStatsTTL,
	}
}

// WithCache enables response caching for the read APIs. Zero TTLs keep the defaults.
func (h *AuditHandler) WithCache(cache ResponseCache, logsTTL, statsTTL time.Duration) *AuditHandler {
	h.cache = cache
	if logsTTL > 0 {
		h.logsTTL = logsTTL
	}
	if statsTTL > 0 {
		h.statsTTL = statsTTL
	}
	return h
}

// Dashboard serves the page-numbered operator listing.
func (h *AuditHandler) Dashboard(c *gin.Context) {
	dashboard, err := h.query.Dashboard(c.Request.Context(), c.Request.URL.Query())
	if errors.Is(err, service.ErrPageNotFound) {
		c.Error(apperrors.NewNotFound("Invalid page"))
		return
	}
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

func (h *AuditHandler) ListLogs(c *gin.Context) {
	h.cachedJSON(c, h.logsTTL, func(ctx context.Context) (any, error) {
		q := c.Request.URL.Query()
		limit, offset := service.ParseLimitOffset(q)
		return h.query.List(ctx, service.ParseFilter(q), limit, offset)
	})
}

func (h *AuditHandler) GetLog(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(apperrors.NewNotFound("request log not found"))
		return
	}
	rec, err := h.query.Get(c.Request.Context(), id)
	if errors.Is(err, model.ErrLogNotFound) {
		c.Error(apperrors.NewNotFound("request log not found"))
		return
	}
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	c.JSON(http.StatusOK, model.NewLogView(rec))
}

func (h *AuditHandler) Stats(c *gin.Context) {
	h.cachedJSON(c, h.statsTTL, func(ctx context.Context) (any, error) {
		return h.query.Stats(ctx)
	})
}

// Stream upgrades to a websocket and pushes every new record that matches
// the filter given in the query string.
func (h *AuditHandler) Stream(c *gin.Context) {
	filter := service.ParseFilter(c.Request.URL.Query())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("failed to upgrade websocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	// reads only serve to notice the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case rec, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			if !filter.Match(rec) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(model.NewLogView(rec)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *AuditHandler) Purge(c *gin.Context) {
	var req model.PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidRequest(err.Error()))
		return
	}

	var (
		result *model.PurgeResult
		err    error
	)
	switch {
	case req.Before != nil:
		result, err = h.retention.PurgeBefore(c.Request.Context(), *req.Before)
	case req.Days != nil:
		result, err = h.retention.PurgeOlderThan(c.Request.Context(), *req.Days)
	default:
		c.Error(apperrors.NewInvalidRequest("before or days is required"))
		return
	}
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	h.invalidate(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

// DetachActor is called when an identity is deleted upstream.
func (h *AuditHandler) DetachActor(c *gin.Context) {
	actorID := c.Param("id")
	n, err := h.retention.DetachActor(c.Request.Context(), actorID)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	h.invalidate(c.Request.Context())
	c.JSON(http.StatusOK, model.DetachResult{ActorID: actorID, Updated: n})
}

func (h *AuditHandler) cachedJSON(c *gin.Context, ttl time.Duration, compute func(ctx context.Context) (any, error)) {
	ctx := c.Request.Context()
	key := c.Request.URL.Path + "?" + c.Request.URL.RawQuery

	if h.cache != nil {
		body, ok, err := h.cache.Get(ctx, key)
		if err != nil {
			logger.Warn("response cache read failed", "error", err, "key", key)
		} else if ok {
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}
	}

	v, err := compute(ctx)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, body, ttl); err != nil {
			logger.Warn("response cache write failed", "error", err, "key", key)
		}
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *AuditHandler) invalidate(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx); err != nil {
		logger.Warn("response cache invalidation failed", "error", err)
	}
}
