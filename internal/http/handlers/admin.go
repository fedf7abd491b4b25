package handlers

import (
	"context"
	"net/http"
	"strconv"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type configRequest struct {
	NumberOfWinners int `json:"numberOfWinners" binding:"required"`
}

type grantRequest struct {
	UserID  int64  `json:"user_id" binding:"required"`
	ItemKey string `json:"itemKey" binding:"required"`
	Qty     int64  `json:"qty"`
}

type settleRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Paid   bool  `json:"paid"`
}

// auditCtx carries the caller's address into audit entries.
func auditCtx(c *gin.Context) context.Context {
	return service.WithRequestInfo(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
}

// AdminTopUp credits a user's wallet.
func (h *Handler) AdminTopUp(c *gin.Context) {
	var req domain.AdminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id and amount are required")
		return
	}
	user, err := h.Wallet.TopUp(c.Request.Context(), req.UserID, req.Amount, req.Currency, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	h.Audit.LogBalanceChange(auditCtx(c), req.UserID, req.Amount, req.Currency, req.Reason)
	c.JSON(http.StatusOK, gin.H{"user": user.Snapshot()})
}

func (h *Handler) AdminAdjust(c *gin.Context) {
	var req domain.AdminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id and amount are required")
		return
	}
	user, err := h.Wallet.Adjust(c.Request.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	h.Audit.LogAdjustment(auditCtx(c), req.UserID, req.Amount, req.Reason)
	c.JSON(http.StatusOK, gin.H{"user": user.Snapshot()})
}

// AdminFinalize runs the weekly finalize. force=true closes the open season
// before it ends; limit overrides the configured number of winners.
func (h *Handler) AdminFinalize(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force"))
	res, err := h.Leaderboard.Finalize(c.Request.Context(), service.FinalizeOptions{
		Force:   force,
		Winners: queryInt(c, "limit", 0),
	})
	if err != nil {
		fail(c, err)
		return
	}
	h.Audit.LogFinalize(auditCtx(c), res)
	c.JSON(http.StatusOK, res)
}

func (h *Handler) AdminGetConfig(c *gin.Context) {
	cfg, err := h.Leaderboard.Config(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *Handler) AdminSaveConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "numberOfWinners is required")
		return
	}
	cfg, err := h.Leaderboard.SaveConfig(c.Request.Context(), req.NumberOfWinners)
	if err != nil {
		fail(c, err)
		return
	}
	h.Audit.Log(auditCtx(c), 0, domain.AuditActionConfigUpdate, domain.AuditCategoryLeaderboard, map[string]interface{}{
		"number_of_winners": cfg.NumberOfWinners,
	})
	c.JSON(http.StatusOK, cfg)
}

// AdminSavePrizePlan upserts a prize plan. An active plan replaces the
// previously active one.
func (h *Handler) AdminSavePrizePlan(c *gin.Context) {
	var plan domain.PrizePlan
	if err := c.ShouldBindJSON(&plan); err != nil {
		badRequest(c, "invalid prize plan")
		return
	}
	if err := h.Leaderboard.SavePrizePlan(c.Request.Context(), &plan); err != nil {
		fail(c, err)
		return
	}
	h.Audit.Log(auditCtx(c), 0, domain.AuditActionPrizePlanSave, domain.AuditCategoryLeaderboard, map[string]interface{}{
		"key":              plan.Key,
		"weekly_cap_minor": plan.WeeklyCapMinor,
		"tiers":            len(plan.Tiers),
		"active":           plan.Active,
	})
	c.JSON(http.StatusOK, plan)
}

func (h *Handler) AdminGrantItem(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id and itemKey are required")
		return
	}
	if req.Qty == 0 {
		req.Qty = 1
	}
	entry, err := h.Barter.Grant(c.Request.Context(), req.UserID, req.ItemKey, req.Qty)
	if err != nil {
		fail(c, err)
		return
	}
	h.Audit.Log(auditCtx(c), req.UserID, domain.AuditActionBarterGrant, domain.AuditCategoryBarter, map[string]interface{}{
		"item_key": req.ItemKey,
		"qty":      req.Qty,
	})
	c.JSON(http.StatusOK, entry)
}

// AdminSettlePayout records whether a pending withdrawal was paid out.
func (h *Handler) AdminSettlePayout(c *gin.Context) {
	payoutID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid payout id")
		return
	}
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id is required")
		return
	}
	p, err := h.Rewards.Settle(c.Request.Context(), req.UserID, payoutID, req.Paid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) AdminAuditLogs(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userId"), 10, 64)
	if err != nil {
		badRequest(c, "invalid user id")
		return
	}
	logs, err := h.Audit.GetUserAuditLogs(c.Request.Context(), userID, queryInt(c, "limit", 50))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.Admin.GetStats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
