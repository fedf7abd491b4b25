package handlers

import (
	"net/http"

	"qafala_backend/internal/domain"

	"github.com/gin-gonic/gin"
)

type useRequest struct {
	ItemKey string `json:"itemKey" binding:"required"`
}

func (h *Handler) BarterRecipes(c *gin.Context) {
	recipes, err := h.Barter.Recipes(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipes": recipes})
}

// BarterPreview resolves the output of a pair without touching inventory.
func (h *Handler) BarterPreview(c *gin.Context) {
	var req domain.BarterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "item1Key and item2Key are required")
		return
	}
	res, err := h.Barter.Preview(c.Request.Context(), req.Item1Key, req.Item2Key, req.Strict)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) BarterConfirm(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req domain.BarterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "item1Key and item2Key are required")
		return
	}
	res, err := h.Barter.Confirm(c.Request.Context(), userID, req.Item1Key, req.Item2Key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// BarterUse consumes one barter result for points.
func (h *Handler) BarterUse(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	var req useRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "itemKey is required")
		return
	}
	res, err := h.Barter.Use(c.Request.Context(), userID, req.ItemKey)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) BarterHistory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	logs, err := h.Barter.History(c.Request.Context(), userID, queryInt(c, "limit", 50))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": logs})
}
