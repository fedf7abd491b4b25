package handlers

import (
	"net/http"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const IdempotencyKeyHeader = "Idempotency-Key"

func (h *Handler) ActiveDrops(c *gin.Context) {
	drops, err := h.Purchases.ActiveDrops(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drops": drops})
}

// Buy purchases qty units of one drop item. A repeated Idempotency-Key
// returns the first result.
func (h *Handler) Buy(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	dropID, err := uuid.Parse(c.Param("dropId"))
	if err != nil {
		badRequest(c, "invalid drop id")
		return
	}
	var req domain.BuyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "itemId is required")
		return
	}
	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		badRequest(c, "invalid item id")
		return
	}
	if req.Qty == 0 {
		req.Qty = 1
	}

	key := c.GetHeader(IdempotencyKeyHeader)
	if len(key) > 128 {
		badRequest(c, "idempotency key too long")
		return
	}

	res, err := h.Purchases.Buy(c.Request.Context(), service.PurchaseRequest{
		UserID:         userID,
		DropID:         dropID,
		ItemID:         itemID,
		Qty:            req.Qty,
		IdempotencyKey: key,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DropPurchases(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	dropID, err := uuid.Parse(c.Param("dropId"))
	if err != nil {
		badRequest(c, "invalid drop id")
		return
	}
	logs, err := h.Purchases.DropHistory(c.Request.Context(), userID, dropID, queryInt(c, "limit", 50))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": logs})
}
