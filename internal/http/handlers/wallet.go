package handlers

import (
	"net/http"

	"qafala_backend/internal/domain"

	"github.com/gin-gonic/gin"
)

func (h *Handler) WalletTransactions(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	txs, err := h.Wallet.History(c.Request.Context(), userID, queryInt(c, "limit", 50))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Exchange converts usd minor units of the caller into dinar.
func (h *Handler) Exchange(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req domain.ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "usd_minor must be a positive integer")
		return
	}
	user, err := h.Wallet.Exchange(c.Request.Context(), userID, req.UsdMinor)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":           user.Snapshot(),
		"dinar_credited": h.Wallet.ExchangeQuote(req.UsdMinor),
	})
}
