package service

import (
	"context"

	"qafala_backend/internal/domain"
	"qafala_backend/internal/logger"
	"qafala_backend/internal/repository"
)

// AuditService records operator actions
type AuditService struct {
	store repository.Store
	now   Clock
}

// NewAuditService creates a new audit service
func NewAuditService(store repository.Store, clock Clock) *AuditService {
	return &AuditService{store: store, now: clockOrDefault(clock)}
}

type requestInfoKey struct{}

type requestInfo struct {
	ip        string
	userAgent string
}

// WithRequestInfo attaches the caller's address and user agent to ctx so
// that audit entries written under it record them.
func WithRequestInfo(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{ip: ip, userAgent: userAgent})
}

// Log creates a new audit log entry. Failures are logged, never returned.
func (s *AuditService) Log(ctx context.Context, userID int64, action, category string, details map[string]interface{}) {
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	s.LogWithRequest(ctx, userID, action, category, info.ip, info.userAgent, details)
}

// LogWithRequest creates an audit log with request info (IP, User-Agent)
func (s *AuditService) LogWithRequest(ctx context.Context, userID int64, action, category, ip, userAgent string, details map[string]interface{}) {
	log := &domain.AuditLog{
		UserID:    userID,
		Action:    action,
		Category:  category,
		Details:   details,
		IP:        ip,
		UserAgent: userAgent,
		CreatedAt: s.now(),
	}

	if err := s.store.Audit().Create(ctx, log); err != nil {
		logger.WithContext(ctx).Error("failed to create audit log", "error", err, "action", action, "user_id", userID)
	}
}

// LogBalanceChange logs an operator topup or adjustment
func (s *AuditService) LogBalanceChange(ctx context.Context, userID int64, change int64, currency domain.Currency, reason string) {
	action := domain.AuditActionTopup
	if currency == "" {
		currency = domain.CurrencyDinar
	}
	details := map[string]interface{}{
		"change":   change,
		"currency": string(currency),
		"reason":   reason,
	}
	s.Log(ctx, userID, action, domain.AuditCategoryWallet, details)
}

// LogAdjustment logs a signed operator correction
func (s *AuditService) LogAdjustment(ctx context.Context, userID int64, change int64, reason string) {
	details := map[string]interface{}{
		"change": change,
		"reason": reason,
	}
	s.Log(ctx, userID, domain.AuditActionAdjust, domain.AuditCategoryWallet, details)
}

// LogFinalize logs a finalize run triggered by an operator
func (s *AuditService) LogFinalize(ctx context.Context, res *domain.FinalizeResult) {
	details := map[string]interface{}{
		"season_id":  res.SeasonID,
		"winners":    len(res.Winners),
		"payouts":    len(res.Payouts),
		"paid_minor": res.PaidMinor,
		"forced":     res.Forced,
	}
	s.Log(ctx, 0, domain.AuditActionFinalize, domain.AuditCategoryLeaderboard, details)
}

// GetUserAuditLogs returns audit logs for a user
func (s *AuditService) GetUserAuditLogs(ctx context.Context, userID int64, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.Audit().ListByUser(ctx, userID, limit)
}
