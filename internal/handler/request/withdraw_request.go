package request

import "github.com/shopspring/decimal"

type WithdrawRequest struct {
	UserID    string          `json:"user_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	ToAddress string          `json:"to_address" binding:"required"`
}
