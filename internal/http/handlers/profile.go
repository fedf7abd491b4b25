package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Me returns wallet, points, level progress and stats of the caller.
func (h *Handler) Me(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	profile, err := h.Progress.Profile(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) MyInventory(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	items, err := h.Inventory.List(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) MyBadges(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	badges, err := h.Progress.Badges(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"badges": badges})
}
