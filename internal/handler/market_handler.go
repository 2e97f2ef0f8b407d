package handler

import (
	"goblin-core/internal/handler/request"
	"goblin-core/internal/handler/response"
	"goblin-core/internal/service/market"
	"goblin-core/pkg/errno"

	"github.com/gin-gonic/gin"
)

type MarketHandler struct {
	svc *market.Service
}

func NewMarketHandler(svc *market.Service) *MarketHandler {
	return &MarketHandler{svc: svc}
}

// Listings 开放挂单列表 (新单在前, 卖家匿名化展示)。
func (h *MarketHandler) Listings(c *gin.Context) {
	items, err := h.svc.Listings(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"listings": items})
}

// CreateListing 挂单卖金。
func (h *MarketHandler) CreateListing(c *gin.Context) {
	var req request.CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	p, l, err := h.svc.CreateListing(c.Request.Context(), req.UserID, req.GoldAmount, req.PricePerKg)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"listing_id": l.ID,
		"new_gold":   p.Gold,
	})
}

// BuyListing 买下一张挂单。
func (h *MarketHandler) BuyListing(c *gin.Context) {
	var req request.BuyListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	res, err := h.svc.BuyListing(c.Request.Context(), req.UserID, req.ListingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"new_gold":    res.Buyer.Gold,
		"new_balance": res.Buyer.TonBalance,
		"paid":        res.Paid,
		"fee":         res.Fee,
	})
}

// CancelListing 撤回自己的挂单。
func (h *MarketHandler) CancelListing(c *gin.Context) {
	var req request.CancelListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	p, err := h.svc.CancelListing(c.Request.Context(), req.UserID, req.ListingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"new_gold": p.Gold})
}
