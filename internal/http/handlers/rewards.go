package handlers

import (
	"net/http"

	"qafala_backend/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func (h *Handler) MyPayouts(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	payouts, err := h.Rewards.List(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": payouts})
}

// ClaimPayout credits a payout to the wallet or queues it for withdrawal.
func (h *Handler) ClaimPayout(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	payoutID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid payout id")
		return
	}
	var req domain.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "mode is required")
		return
	}
	res, err := h.Rewards.Claim(c.Request.Context(), userID, payoutID, req.Mode)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ClaimAllPayouts(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	n, err := h.Rewards.ClaimAll(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": n})
}
