package subscription

import (
	"context"
	"errors"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("subscription.module",
	fx.Provide(NewService),
)

type Service struct {
	db *gorm.DB
}

type Params struct {
	fx.In
	DB *gorm.DB
}

func NewService(p Params) *Service {
	return &Service{db: p.DB}
}

// ActiveForUser returns the user's active subscription, or nil when the user
// has none.
func (s *Service) ActiveForUser(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, StatusActive).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// IncrementQuota bumps quota_used by one with an atomic column expression, so
// concurrent workers never lose an update.
func (s *Service) IncrementQuota(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", id).
		Update("quota_used", gorm.Expr("quota_used + 1")).Error
}

// DecrementQuota reverts one unit of usage. The floor guard keeps a stray
// duplicate rollback from driving the counter negative.
func (s *Service) DecrementQuota(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&Subscription{}).
		Where("id = ? AND quota_used > 0", id).
		Update("quota_used", gorm.Expr("quota_used - 1")).Error
}
