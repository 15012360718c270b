// Package http 期权交易与生命周期接口
package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Gsaudx/Advision-sub000/internal/option/application"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
	"github.com/Gsaudx/Advision-sub000/pkg/response"
)

type Handler struct {
	trades    *application.TradeService
	lifecycle *application.LifecycleService
}

func NewHandler(trades *application.TradeService, lifecycle *application.LifecycleService) *Handler {
	return &Handler{trades: trades, lifecycle: lifecycle}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/wallets/:walletId")
	{
		g.POST("/options/buy", h.BuyOption)
		g.POST("/options/sell", h.SellOption)
		g.GET("/positions", h.ListPositions)
		g.POST("/positions/:positionId/close", h.ClosePosition)
		g.POST("/positions/:positionId/exercise", h.ExercisePosition)
		g.POST("/positions/:positionId/assign", h.AssignPosition)
		g.POST("/positions/:positionId/expire", h.ExpirePosition)
		g.GET("/expirations", h.UpcomingExpirations)
	}
}

func actorFrom(c *gin.Context) walletdomain.Actor {
	return walletdomain.Actor{
		ID:   c.GetHeader("X-Actor-ID"),
		Role: c.GetHeader("X-Actor-Role"),
	}
}

type TradeReq struct {
	Ticker         string `json:"ticker" binding:"required"`
	Quantity       string `json:"quantity" binding:"required"`
	Premium        string `json:"premium" binding:"required"`
	Covered        bool   `json:"covered"`
	ExecutedAt     string `json:"executed_at"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

func (r *TradeReq) parse() (qty, premium decimal.Decimal, executedAt time.Time, err error) {
	qty, err = decimal.NewFromString(r.Quantity)
	if err != nil {
		return qty, premium, executedAt, apperr.New(apperr.KindInvalidRequest, "invalid quantity")
	}
	premium, err = decimal.NewFromString(r.Premium)
	if err != nil {
		return qty, premium, executedAt, apperr.New(apperr.KindInvalidRequest, "invalid premium")
	}
	executedAt = time.Now()
	if r.ExecutedAt != "" {
		executedAt, err = time.Parse(time.RFC3339, r.ExecutedAt)
		if err != nil {
			return qty, premium, executedAt, apperr.New(apperr.KindInvalidRequest, "executed_at must be RFC3339")
		}
	}
	return qty, premium, executedAt, nil
}

func (h *Handler) BuyOption(c *gin.Context) {
	var req TradeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}
	qty, premium, executedAt, err := req.parse()
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.trades.BuyOption(c.Request.Context(), c.Param("walletId"), application.BuyOptionCommand{
		Ticker:         req.Ticker,
		Quantity:       qty,
		Premium:        premium,
		ExecutedAt:     executedAt,
		IdempotencyKey: req.IdempotencyKey,
	}, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

func (h *Handler) SellOption(c *gin.Context) {
	var req TradeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}
	qty, premium, executedAt, err := req.parse()
	if err != nil {
		response.Error(c, err)
		return
	}

	result, err := h.trades.SellOption(c.Request.Context(), c.Param("walletId"), application.SellOptionCommand{
		Ticker:         req.Ticker,
		Quantity:       qty,
		Premium:        premium,
		Covered:        req.Covered,
		ExecutedAt:     executedAt,
		IdempotencyKey: req.IdempotencyKey,
	}, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

type CloseReq struct {
	Quantity       string `json:"quantity"`
	Premium        string `json:"premium" binding:"required"`
	ExecutedAt     string `json:"executed_at"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

func (h *Handler) ClosePosition(c *gin.Context) {
	var req CloseReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}

	cmd := application.CloseOptionCommand{
		IdempotencyKey: req.IdempotencyKey,
		ExecutedAt:     time.Now(),
	}
	premium, err := decimal.NewFromString(req.Premium)
	if err != nil {
		response.Error(c, apperr.New(apperr.KindInvalidRequest, "invalid premium"))
		return
	}
	cmd.Premium = premium
	if req.Quantity != "" {
		qty, err := decimal.NewFromString(req.Quantity)
		if err != nil {
			response.Error(c, apperr.New(apperr.KindInvalidRequest, "invalid quantity"))
			return
		}
		cmd.Quantity = &qty
	}
	if req.ExecutedAt != "" {
		at, err := time.Parse(time.RFC3339, req.ExecutedAt)
		if err != nil {
			response.Error(c, apperr.New(apperr.KindInvalidRequest, "executed_at must be RFC3339"))
			return
		}
		cmd.ExecutedAt = at
	}

	result, err := h.trades.CloseOptionPosition(c.Request.Context(), c.Param("walletId"), c.Param("positionId"), cmd, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) ListPositions(c *gin.Context) {
	positions, err := h.trades.ListPositions(c.Request.Context(), c.Param("walletId"), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, positions)
}

type LifecycleReq struct {
	Quantity       string `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

func (r *LifecycleReq) command() (application.LifecycleCommand, error) {
	cmd := application.LifecycleCommand{IdempotencyKey: r.IdempotencyKey}
	if r.Quantity != "" {
		qty, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return cmd, apperr.New(apperr.KindInvalidRequest, "invalid quantity")
		}
		cmd.Quantity = &qty
	}
	return cmd, nil
}

func (h *Handler) ExercisePosition(c *gin.Context) {
	var req LifecycleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}
	cmd, err := req.command()
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.lifecycle.ExercisePosition(c.Request.Context(), c.Param("walletId"), c.Param("positionId"), cmd, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) AssignPosition(c *gin.Context) {
	var req LifecycleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}
	cmd, err := req.command()
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.lifecycle.AssignPosition(c.Request.Context(), c.Param("walletId"), c.Param("positionId"), cmd, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) ExpirePosition(c *gin.Context) {
	result, err := h.lifecycle.ExpirePosition(c.Request.Context(), c.Param("walletId"), c.Param("positionId"), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) UpcomingExpirations(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil {
		response.Error(c, apperr.New(apperr.KindInvalidRequest, "days must be an integer"))
		return
	}
	positions, err := h.lifecycle.UpcomingExpirations(c.Request.Context(), c.Param("walletId"), days, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, positions)
}
