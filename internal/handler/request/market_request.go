package request

import "github.com/shopspring/decimal"

type CreateListingRequest struct {
	UserID     string          `json:"user_id" binding:"required"`
	GoldAmount decimal.Decimal `json:"gold_amount" binding:"required"`
	PricePerKg decimal.Decimal `json:"price_per_kg" binding:"required"`
}

type BuyListingRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	ListingID uint64 `json:"listing_id" binding:"required"`
}

type CancelListingRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	ListingID uint64 `json:"listing_id" binding:"required"`
}
