package handler

import (
	"strconv"

	"goblin-core/internal/handler/response"
	"goblin-core/internal/service/deposit"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	reconciler *deposit.Reconciler
}

func NewAdminHandler(r *deposit.Reconciler) *AdminHandler {
	return &AdminHandler{reconciler: r}
}

// UnmatchedDeposits 未匹配入金队列, 运营人工处理入口。
func (h *AdminHandler) UnmatchedDeposits(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	records, err := h.reconciler.Unmatched(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"deposits": records})
}
