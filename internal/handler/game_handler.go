package handler

import (
	"goblin-core/internal/handler/request"
	"goblin-core/internal/handler/response"
	"goblin-core/internal/service/game"
	"goblin-core/pkg/errno"

	"github.com/gin-gonic/gin"
)

type GameHandler struct {
	svc *game.Service
}

func NewGameHandler(svc *game.Service) *GameHandler {
	return &GameHandler{svc: svc}
}

// Init 初始化/登录玩家。幂等: 已存在则结算累积产金后返回现状。
func (h *GameHandler) Init(c *gin.Context) {
	var req request.InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	p, err := h.svc.Init(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, p)
}

// BuyGoblins 商店购买地精 (TON 内部余额扣款)。
func (h *GameHandler) BuyGoblins(c *gin.Context) {
	var req request.BuyGoblinsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	p, err := h.svc.BuyGoblins(c.Request.Context(), req.UserID, req.Package)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"new_goblins": p.Goblins,
		"new_balance": p.TonBalance,
	})
}

// ExchangeGold 金子换地精。
func (h *GameHandler) ExchangeGold(c *gin.Context) {
	var req request.ExchangeGoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	res, err := h.svc.ExchangeGold(c.Request.Context(), req.UserID, req.GoldAmount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"new_gold":         res.Player.Gold,
		"new_goblins":      res.Player.Goblins,
		"goblins_received": res.GoblinsReceived,
	})
}
