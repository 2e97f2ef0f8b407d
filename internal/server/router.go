package server

import (
	"goblin-core/internal/handler"
	"goblin-core/pkg/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 路由需要的全部业务 handler。
type Handlers struct {
	Game     *handler.GameHandler
	Market   *handler.MarketHandler
	Withdraw *handler.WithdrawHandler
	Admin    *handler.AdminHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h Handlers) *gin.Engine {
	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		game := api.Group("/game")
		{
			game.POST("/init", h.Game.Init)
			game.POST("/buy-goblins", h.Game.BuyGoblins)
			game.POST("/exchange-gold", h.Game.ExchangeGold)
		}

		market := api.Group("/market")
		{
			market.GET("/listings", h.Market.Listings)
			market.POST("/create-listing", h.Market.CreateListing)
			market.POST("/buy-listing", h.Market.BuyListing)
			market.POST("/cancel-listing", h.Market.CancelListing)
		}

		wallet := api.Group("/wallet")
		{
			wallet.POST("/withdraw", h.Withdraw.Withdraw)
		}

		admin := api.Group("/admin")
		{
			admin.GET("/unmatched-deposits", h.Admin.UnmatchedDeposits)
		}
	}

	return r
}
