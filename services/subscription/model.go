package subscription

import "time"

type Subscription struct {
	ID         string    `gorm:"column:id;primaryKey;type:char(26)"`
	UserID     string    `gorm:"column:user_id;index;not null"`
	Tier       string    `gorm:"column:tier;type:varchar(30);not null"`
	Status     string    `gorm:"column:status;type:varchar(20);default:'active';index"`
	QuotaLimit int64     `gorm:"column:quota_limit;default:0"`
	QuotaUsed  int64     `gorm:"column:quota_used;default:0"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }

const StatusActive = "active"
