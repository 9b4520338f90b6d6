// Package httpapi exposes the spending service over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/pointsledger/internal/spending"
	"github.com/MarkoPoloResearchLab/pointsledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"

	errorInvalidPayload       = "invalid_payload"
	errorInvalidAmount        = "invalid_amount"
	errorInvalidPayer         = "invalid_payer"
	errorMalformedInput       = "malformed_input"
	errorUnsortedInput        = "unsorted_input"
	errorInsufficientCapacity = "insufficient_capacity"
	errorCapacityOverflow     = "capacity_overflow"
	errorReadOnlySource       = "read_only_source"
	errorInternal             = "internal_error"
)

// Spender is the subset of spending.Service used by the handlers.
type Spender interface {
	Spend(ctx context.Context, amount ledger.SpendAmount) (ledger.SpendResult, error)
	Balances(ctx context.Context) (ledger.Balances, error)
	AddEvents(ctx context.Context, added []ledger.Event) error
}

// Run serves the HTTP facade until ctx is cancelled.
func Run(ctx context.Context, cfg Config, spender Spender, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	handler := &httpHandler{logger: logger, spender: spender, cfg: cfg}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: setupRouter(cfg, handler),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("points api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerRequestID},
		ExposeHeaders:    []string{headerRequestID},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/balances", handler.handleBalances)
	api.POST("/spend", handler.handleSpend)
	api.POST("/events", handler.handleAddEvents)

	return router
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Set(headerRequestID, requestID)
		ctx.Header(headerRequestID, requestID)
		ctx.Next()
	}
}

type httpHandler struct {
	logger  *zap.Logger
	spender Spender
	cfg     Config
}

type spendRequest struct {
	Points *int64 `json:"points"`
}

type eventPayload struct {
	Payer     string    `json:"payer"`
	Points    *int64    `json:"points"`
	Timestamp time.Time `json:"timestamp"`
}

type depletionPayload struct {
	Payer  string `json:"payer"`
	Lot    int    `json:"lot"`
	Points int64  `json:"points"`
}

type spendResponse struct {
	Balances   ledger.Balances    `json:"balances"`
	Spent      int64              `json:"spent"`
	Shortfall  int64              `json:"shortfall"`
	Depletions []depletionPayload `json:"depletions"`
}

func (handler *httpHandler) handleBalances(ctx *gin.Context) {
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	balances, err := handler.spender.Balances(requestCtx)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (handler *httpHandler) handleSpend(ctx *gin.Context) {
	var request spendRequest
	if err := ctx.ShouldBindJSON(&request); err != nil || request.Points == nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON body with integer points"))
		return
	}
	amount, err := ledger.NewSpendAmount(*request.Points)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	result, err := handler.spender.Spend(requestCtx, amount)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	depletions := make([]depletionPayload, 0, len(result.Depletions))
	for _, depletion := range result.Depletions {
		depletions = append(depletions, depletionPayload{
			Payer:  depletion.Payer.String(),
			Lot:    depletion.Sequence,
			Points: depletion.Points,
		})
	}
	ctx.JSON(http.StatusOK, spendResponse{
		Balances:   result.Balances,
		Spent:      result.Spent,
		Shortfall:  result.Shortfall,
		Depletions: depletions,
	})
}

func (handler *httpHandler) handleAddEvents(ctx *gin.Context) {
	var payload []eventPayload
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "expected JSON array of events"))
		return
	}
	source := "api:" + ctx.GetString(headerRequestID)
	added := make([]ledger.Event, 0, len(payload))
	for index, item := range payload {
		if item.Points == nil {
			ctx.JSON(http.StatusBadRequest, errorResponse(errorMalformedInput, "every event needs points"))
			return
		}
		event, err := ledger.NewEvent(item.Payer, *item.Points, item.Timestamp)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		added = append(added, event.WithOrigin(ledger.Origin{Source: source, Line: index + 1}))
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	if err := handler.spender.AddEvents(requestCtx, added); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"stored": len(added)})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error("request failed",
			zap.String("path", ctx.FullPath()),
			zap.String("request_id", ctx.GetString(headerRequestID)),
			zap.Error(err),
		)
		ctx.JSON(status, errorResponse(code, "request failed"))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, errorInvalidAmount
	case errors.Is(err, ledger.ErrInvalidPayer):
		return http.StatusBadRequest, errorInvalidPayer
	case errors.Is(err, ledger.ErrMalformedInput):
		return http.StatusBadRequest, errorMalformedInput
	case errors.Is(err, ledger.ErrInsufficientCapacity):
		return http.StatusConflict, errorInsufficientCapacity
	case errors.Is(err, ledger.ErrCapacityOverflow):
		return http.StatusUnprocessableEntity, errorCapacityOverflow
	case errors.Is(err, ledger.ErrUnsortedInput):
		return http.StatusUnprocessableEntity, errorUnsortedInput
	case errors.Is(err, spending.ErrReadOnlySource):
		return http.StatusNotImplemented, errorReadOnlySource
	default:
		return http.StatusInternalServerError, errorInternal
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": code, "message": message}
}
