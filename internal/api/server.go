// Package api HTTP API статуса бота: позиции, решения, здоровье, метрики.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skalibog/smcbot/internal/analysis/aggregator"
	"github.com/skalibog/smcbot/internal/config"
	"github.com/skalibog/smcbot/pkg/logger"
	"github.com/skalibog/smcbot/pkg/models"
	"go.uber.org/zap"
)

const (
	defaultDecisionLimit = 50
	closeTimeout         = 2 * time.Second
)

// Provider источник состояния бота
type Provider interface {
	Positions() []models.Position
	Decisions(symbol string, limit int) []models.Decision
	// ClosePosition возвращает aggregator.ErrNoPosition, если позиции нет,
	// и aggregator.ErrBusy, если закрытие не удалось поставить в очередь
	ClosePosition(ctx context.Context, symbol string) error
}

// Server HTTP сервер API
type Server struct {
	router   *gin.Engine
	addr     string
	provider Provider
	started  time.Time
}

// NewServer создает сервер. metrics может быть nil.
func NewServer(cfg config.APIConfig, provider Provider, metrics http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:   gin.New(),
		addr:     cfg.Addr,
		provider: provider,
		started:  time.Now(),
	}
	s.router.Use(gin.Recovery(), requestLogger())
	s.setupRoutes(metrics)
	return s
}

func (s *Server) setupRoutes(metrics http.Handler) {
	s.router.GET("/healthz", s.handleHealth)
	if metrics != nil {
		s.router.GET("/metrics", gin.WrapH(metrics))
	}

	api := s.router.Group("/api")
	{
		api.GET("/positions", s.handleGetPositions)
		api.GET("/positions/:symbol", s.handleGetPosition)
		api.POST("/positions/:symbol/close", s.handleClosePosition)
		api.GET("/decisions", s.handleGetDecisions)
	}
}

// Handler корневой обработчик (для тестов и встраивания)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start слушает адрес до отмены контекста
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("API запущен", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleGetPositions(c *gin.Context) {
	successResponse(c, s.provider.Positions())
}

func (s *Server) handleGetPosition(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	for _, pos := range s.provider.Positions() {
		if pos.Symbol == symbol {
			successResponse(c, pos)
			return
		}
	}
	errorResponse(c, http.StatusNotFound, "позиция не найдена")
}

func (s *Server) handleClosePosition(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	ctx, cancel := context.WithTimeout(c.Request.Context(), closeTimeout)
	defer cancel()

	if err := s.provider.ClosePosition(ctx, symbol); err != nil {
		switch {
		case errors.Is(err, aggregator.ErrNoPosition):
			errorResponse(c, http.StatusNotFound, "позиция не найдена")
		case errors.Is(err, aggregator.ErrBusy):
			errorResponse(c, http.StatusServiceUnavailable, "бот занят, повторите запрос")
		default:
			logger.Error("Ошибка ручного закрытия", zap.String("symbol", symbol), zap.Error(err))
			errorResponse(c, http.StatusInternalServerError, "ошибка закрытия позиции")
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"symbol":  symbol,
	})
}

func (s *Server) handleGetDecisions(c *gin.Context) {
	limit := defaultDecisionLimit
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			errorResponse(c, http.StatusBadRequest, "некорректный limit")
			return
		}
		limit = parsed
	}

	decisions := s.provider.Decisions(strings.ToUpper(c.Query("symbol")), limit)
	if decisions == nil {
		decisions = []models.Decision{}
	}
	successResponse(c, decisions)
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP запрос",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
