package model

import "time"

// WebhookKey maps an opaque per-user secret to its owner.
type WebhookKey struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Secret    string    `gorm:"size:128;not null;uniqueIndex" json:"-"`
	Label     string    `gorm:"size:100" json:"label"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WebhookKey) TableName() string {
	return "webhook_keys"
}
