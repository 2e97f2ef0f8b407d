package request

import "github.com/shopspring/decimal"

type InitRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type BuyGoblinsRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Package string `json:"package" binding:"required"`
}

type ExchangeGoldRequest struct {
	UserID     string          `json:"user_id" binding:"required"`
	GoldAmount decimal.Decimal `json:"gold_amount" binding:"required"`
}
