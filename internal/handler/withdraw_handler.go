package handler

import (
	"goblin-core/internal/handler/request"
	"goblin-core/internal/handler/response"
	"goblin-core/internal/service/withdraw"
	"goblin-core/pkg/errno"

	"github.com/gin-gonic/gin"
)

type WithdrawHandler struct {
	svc *withdraw.Service
}

func NewWithdrawHandler(svc *withdraw.Service) *WithdrawHandler {
	return &WithdrawHandler{svc: svc}
}

// Withdraw 申请提现。余额立即扣减, 链上执行异步回报。
func (h *WithdrawHandler) Withdraw(c *gin.Context) {
	var req request.WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	w, err := h.svc.Request(c.Request.Context(), req.UserID, req.ToAddress, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, w)
}
