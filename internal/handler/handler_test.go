package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"goblin-core/internal/service/accrual"
	"goblin-core/internal/service/game"
	"goblin-core/internal/service/market"
	"goblin-core/internal/store"
	"goblin-core/pkg/config"
	"goblin-core/pkg/errno"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 绕开 internal/server 的路由装配 (它会注册 prometheus 中间件),
// 这里只挂被测 handler。
func newTestRouter(t *testing.T) (*gin.Engine, *store.MemStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemStore(time.Second)
	gameCfg := config.GameConfig{
		RatePerHour:      "0.014",
		StartingGoblins:  3000,
		ExchangeMinGold:  "100",
		ExchangeRate:     "0.95",
		MinWithdrawalTON: "1",
		Packages: map[string]config.GoblinPackage{
			"small": {Goblins: 3000, PriceTON: "1"},
		},
	}
	marketCfg := config.MarketConfig{
		MinGold:        "100",
		BuyerFee:       "0.05",
		SellerFee:      "0.05",
		FeeCollectorID: "fee_collector",
		FeedLimit:      50,
		FeedCacheTTL:   time.Second,
	}
	eng := accrual.NewEngine(gameCfg.Rate())

	gameHandler := NewGameHandler(game.New(st, eng, gameCfg))
	marketHandler := NewMarketHandler(market.New(st, eng, marketCfg, nil))

	r := gin.New()
	r.GET("/health", HealthCheck)
	api := r.Group("/api/v1")
	api.POST("/game/init", gameHandler.Init)
	api.POST("/game/exchange-gold", gameHandler.ExchangeGold)
	api.GET("/market/listings", marketHandler.Listings)
	return r, st
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	status, env := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, errno.OK.Code, env.Code)
}

func TestInitEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	status, env := doJSON(t, r, http.MethodPost, "/api/v1/game/init", gin.H{"user_id": "u1"})
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, errno.OK.Code, env.Code)

	var data struct {
		Goblins int64  `json:"goblins"`
		Memo    string `json:"memo"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(3000), data.Goblins)
	assert.Len(t, data.Memo, 6)
}

func TestInitEndpointBindError(t *testing.T) {
	r, _ := newTestRouter(t)

	status, env := doJSON(t, r, http.MethodPost, "/api/v1/game/init", gin.H{})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, errno.ErrBind.Code, env.Code)
}

// 业务错误走 HTTP 200 + code, 玩家文案原样透出。
func TestExchangeBelowMinimumMessage(t *testing.T) {
	r, _ := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/api/v1/game/init", gin.H{"user_id": "u1"})

	status, env := doJSON(t, r, http.MethodPost, "/api/v1/game/exchange-gold", gin.H{
		"user_id":     "u1",
		"gold_amount": decimal.RequireFromString("50"),
	})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, errno.ErrBelowMinimum.Code, env.Code)
	assert.Equal(t, "Минимум 100 кг золота", env.Message)
}

func TestListingsEmpty(t *testing.T) {
	r, _ := newTestRouter(t)

	status, env := doJSON(t, r, http.MethodGet, "/api/v1/market/listings", nil)
	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, errno.OK.Code, env.Code)

	var data struct {
		Listings []json.RawMessage `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Empty(t, data.Listings)
}
