package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/http/middleware"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/repository"
	"qafala_backend/internal/service"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	Wallet      *service.WalletService
	Inventory   *service.InventoryService
	Progress    *service.ProgressService
	Purchases   *service.PurchaseEngine
	Barter      *service.BarterEngine
	Leaderboard *service.LeaderboardService
	Rewards     *service.RewardService
	Audit       *service.AuditService
	Admin       *service.AdminService
}

var statusByCode = map[domain.Code]int{
	domain.CodeInvalidInput:           http.StatusBadRequest,
	domain.CodeInsufficientFunds:      http.StatusPaymentRequired,
	domain.CodeUserNotFound:           http.StatusNotFound,
	domain.CodeTypeNotFound:           http.StatusNotFound,
	domain.CodeDropUnavailable:        http.StatusNotFound,
	domain.CodeOutOfStock:             http.StatusConflict,
	domain.CodeIdempotentReplay:       http.StatusConflict,
	domain.CodeAlreadyRunning:         http.StatusConflict,
	domain.CodeSeasonAlreadyFinalized: http.StatusConflict,
	domain.CodePayoutNotAvailable:     http.StatusConflict,
	domain.CodeNoRecipe:               http.StatusUnprocessableEntity,
	domain.CodeOutputDisabled:         http.StatusUnprocessableEntity,
	domain.CodeNotEnoughItems:         http.StatusUnprocessableEntity,
	domain.CodeSeasonNotEnded:         http.StatusTooEarly,
	domain.CodeAntiHoardingLimit:      http.StatusTooManyRequests,
}

// fail writes err as JSON. Economy errors keep their code and message,
// anything else is logged and hidden behind a 500.
func fail(c *gin.Context, err error) {
	var e *domain.EconomyError
	if errors.As(err, &e) {
		status, ok := statusByCode[e.Code]
		if !ok {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "code": e.Code})
		return
	}
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "NOT_FOUND"})
		return
	}
	logger.WithContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": domain.CodeInvalidInput})
}

// getUserID reads the id set by the JWT middleware and writes 401 when absent.
func getUserID(c *gin.Context) (int64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
	return id, ok
}

// queryInt parses an optional integer query parameter.
func queryInt(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
