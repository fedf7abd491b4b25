package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// WeeklyLeaderboard returns the live ranking of the open season.
func (h *Handler) WeeklyLeaderboard(c *gin.Context) {
	ctx := c.Request.Context()
	season, err := h.Leaderboard.CurrentSeason(ctx)
	if err != nil {
		fail(c, err)
		return
	}
	top, err := h.Leaderboard.Top(ctx, queryInt(c, "limit", 50))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"season":      season,
		"leaderboard": top,
	})
}

func (h *Handler) MyRank(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		return
	}
	rank, err := h.Leaderboard.Rank(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rank)
}

func (h *Handler) Seasons(c *gin.Context) {
	seasons, err := h.Leaderboard.History(c.Request.Context(), queryInt(c, "limit", 10))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seasons": seasons})
}

// SeasonWinners returns the recorded winners and payouts of one season.
func (h *Handler) SeasonWinners(c *gin.Context) {
	ctx := c.Request.Context()
	season, err := h.Leaderboard.Season(ctx, c.Param("seasonId"))
	if err != nil {
		fail(c, err)
		return
	}
	payouts, err := h.Leaderboard.SeasonPayouts(ctx, season.SeasonID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"season_id": season.SeasonID,
		"finalized": season.Finalized,
		"winners":   season.Winners,
		"payouts":   payouts,
	})
}

func (h *Handler) LastWinner(c *gin.Context) {
	winner, season, err := h.Leaderboard.LastWinner(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"season_id": season.SeasonID,
		"winner":    winner,
	})
}
