// Package http 多腿策略接口
package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/Gsaudx/Advision-sub000/internal/strategy/application"
	"github.com/Gsaudx/Advision-sub000/internal/strategy/domain"
	walletdomain "github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/apperr"
	"github.com/Gsaudx/Advision-sub000/pkg/response"
)

type Handler struct {
	executor *application.Executor
	builder  *domain.Builder
}

func NewHandler(executor *application.Executor, builder *domain.Builder) *Handler {
	return &Handler{executor: executor, builder: builder}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	s := r.Group("/strategies")
	{
		s.POST("/build", h.Build)
		s.POST("/validate", h.Validate)
		s.POST("/risk-profile", h.RiskProfile)
	}
	w := r.Group("/wallets/:walletId/strategies")
	{
		w.POST("", h.Execute)
		w.GET("", h.List)
		w.GET("/:operationId", h.Get)
	}
}

func actorFrom(c *gin.Context) walletdomain.Actor {
	return walletdomain.Actor{
		ID:   c.GetHeader("X-Actor-ID"),
		Role: c.GetHeader("X-Actor-Role"),
	}
}

type LegReq struct {
	Ticker   string `json:"ticker" binding:"required"`
	Type     string `json:"type" binding:"required"`
	Quantity string `json:"quantity" binding:"required"`
	Price    string `json:"price" binding:"required"`
}

func parseLegs(reqs []LegReq) ([]domain.Leg, error) {
	legs := make([]domain.Leg, 0, len(reqs))
	for i, r := range reqs {
		qty, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return nil, apperr.Newf(apperr.KindInvalidRequest, "leg %d: invalid quantity", i+1)
		}
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, apperr.Newf(apperr.KindInvalidRequest, "leg %d: invalid price", i+1)
		}
		legs = append(legs, domain.Leg{
			Ticker:   r.Ticker,
			Type:     domain.LegType(r.Type),
			Quantity: qty,
			Price:    price,
		})
	}
	return legs, nil
}

type BuildReq struct {
	StrategyType string `json:"strategy_type" binding:"required"`
	StockTicker  string `json:"stock_ticker"`
	CallTicker   string `json:"call_ticker"`
	PutTicker    string `json:"put_ticker"`
	Quantity     string `json:"quantity" binding:"required"`
	StockPrice   string `json:"stock_price"`
	CallPremium  string `json:"call_premium"`
	PutPremium   string `json:"put_premium"`
}

func (h *Handler) Build(c *gin.Context) {
	var req BuildReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}

	params := domain.BuildParams{
		StockTicker: req.StockTicker,
		CallTicker:  req.CallTicker,
		PutTicker:   req.PutTicker,
	}
	var err error
	if params.Quantity, err = decimal.NewFromString(req.Quantity); err != nil {
		response.Error(c, apperr.New(apperr.KindInvalidRequest, "invalid quantity"))
		return
	}
	params.StockPrice = parseOrZero(req.StockPrice)
	params.CallPremium = parseOrZero(req.CallPremium)
	params.PutPremium = parseOrZero(req.PutPremium)

	legs, err := domain.BuildStrategy(domain.StrategyType(req.StrategyType), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"legs":        legs,
		"net_premium": domain.CalculateNetPremium(legs),
	})
}

type LegsReq struct {
	StrategyType string   `json:"strategy_type"`
	Legs         []LegReq `json:"legs" binding:"required"`
}

func (h *Handler) Validate(c *gin.Context) {
	var req LegsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}
	legs, err := parseLegs(req.Legs)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.builder.ValidateCustomStrategy(c.Request.Context(), legs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func (h *Handler) RiskProfile(c *gin.Context) {
	var req LegsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}
	legs, err := parseLegs(req.Legs)
	if err != nil {
		response.Error(c, err)
		return
	}
	profile, err := h.builder.RiskProfile(c.Request.Context(), domain.StrategyType(req.StrategyType), legs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, profile)
}

type ExecuteReq struct {
	StrategyType   string   `json:"strategy_type" binding:"required"`
	Legs           []LegReq `json:"legs" binding:"required"`
	ExecutedAt     string   `json:"executed_at"`
	Notes          string   `json:"notes"`
	IdempotencyKey string   `json:"idempotency_key" binding:"required"`
	CorrelationID  string   `json:"correlation_id"`
}

func (h *Handler) Execute(c *gin.Context) {
	var req ExecuteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperr.Wrap(apperr.KindInvalidRequest, "malformed request body", err))
		return
	}
	legs, err := parseLegs(req.Legs)
	if err != nil {
		response.Error(c, err)
		return
	}

	cmd := application.ExecuteStrategyCommand{
		StrategyType:   domain.StrategyType(req.StrategyType),
		Legs:           legs,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
		CorrelationID:  req.CorrelationID,
	}
	if req.ExecutedAt != "" {
		at, err := time.Parse(time.RFC3339, req.ExecutedAt)
		if err != nil {
			response.Error(c, apperr.New(apperr.KindInvalidRequest, "executed_at must be RFC3339"))
			return
		}
		cmd.ExecutedAt = at
	}

	result, err := h.executor.ExecuteStrategy(c.Request.Context(), c.Param("walletId"), cmd, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

func (h *Handler) Get(c *gin.Context) {
	view, err := h.executor.GetStrategy(c.Request.Context(), c.Param("walletId"), c.Param("operationId"), actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) List(c *gin.Context) {
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, err := h.executor.ListStrategies(c.Request.Context(), c.Param("walletId"), c.Query("cursor"), pageSize, actorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}

func parseOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
