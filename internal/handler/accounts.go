package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// BalanceReader is the slice of the repository the account endpoint
// needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
}

type AccountHandler struct {
	Accounts BalanceReader
}

func (h *AccountHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/accounts/:user_id/balance", h.balance)
}

func (h *AccountHandler) balance(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		Error(c, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	balance, err := h.Accounts.GetBalance(c.Request.Context(), userID)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, gin.H{"user_id": userID, "balance": balance}, nil)
}
