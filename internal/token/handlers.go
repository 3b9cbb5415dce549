package token

import (
	"github.com/gin-gonic/gin"

	"github.com/Samuel1505/quest-marketplace/pkg/response"
)

// GinHandlers contains HTTP handlers for the token ledger. These are
// internal-only endpoints used to seed balances for the simulation.
type GinHandlers struct {
	ledger *Ledger
}

func NewGinHandlers(ledger *Ledger) *GinHandlers {
	return &GinHandlers{ledger: ledger}
}

// MintRequest credits freshly issued tokens to an account.
type MintRequest struct {
	Token   string `json:"token" binding:"required"`
	Account string `json:"account" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
}

// MintHandler handles POST requests to credit tokens to an account
func (h *GinHandlers) MintHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MintRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		if err := h.ledger.Mint(req.Token, req.Account, req.Amount); err != nil {
			response.Handle(c, nil, err)
			return
		}

		balance, err := h.ledger.BalanceOf(req.Token, req.Account)
		response.Handle(c, gin.H{
			"token":   req.Token,
			"account": req.Account,
			"balance": balance,
		}, err)
	}
}

// GetBalanceHandler handles GET requests for an account's token balance
func (h *GinHandlers) GetBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Param("token")
		account := c.Param("account")

		balance, err := h.ledger.BalanceOf(token, account)
		response.Handle(c, gin.H{
			"token":   token,
			"account": account,
			"balance": balance,
		}, err)
	}
}
