// Package http 钱包查询接口
package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Gsaudx/Advision-sub000/internal/wallet/application"
	"github.com/Gsaudx/Advision-sub000/internal/wallet/domain"
	"github.com/Gsaudx/Advision-sub000/pkg/response"
)

type Handler struct {
	service *application.WalletService
}

func NewHandler(service *application.WalletService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/wallets/:walletId")
	{
		g.GET("", h.GetWallet)
		g.GET("/transactions", h.TransactionHistory)
	}
}

// ActorFrom 从请求头提取操作者身份。网关完成认证后透传。
func ActorFrom(c *gin.Context) domain.Actor {
	return domain.Actor{
		ID:   c.GetHeader("X-Actor-ID"),
		Role: c.GetHeader("X-Actor-Role"),
	}
}

func (h *Handler) GetWallet(c *gin.Context) {
	view, err := h.service.GetWallet(c.Request.Context(), c.Param("walletId"), ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

func (h *Handler) TransactionHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	page, err := h.service.TransactionHistory(c.Request.Context(), c.Param("walletId"), limit, offset, ActorFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, page)
}
