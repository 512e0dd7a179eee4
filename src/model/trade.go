package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
	TradeStatusFailed = "failed"
)

// Trade is the broker-side result of an executed signal. Close fields are filled
// later by position synchronisation, or immediately for close actions.
type Trade struct {
	ID              uint                `gorm:"primaryKey" json:"id"`
	UserID          uint                `gorm:"not null;index" json:"user_id"`
	SignalID        *uint               `gorm:"uniqueIndex" json:"signal_id"`
	BrokerAccountID uint                `gorm:"not null;index" json:"broker_account_id"`
	BrokerTicket    int64               `gorm:"index" json:"broker_ticket"`
	Symbol          string              `gorm:"size:50;not null" json:"symbol"`
	Action          string              `gorm:"size:20;not null" json:"action"`
	Volume          decimal.Decimal     `gorm:"type:numeric(20,8);not null" json:"volume"`
	OpenPrice       decimal.Decimal     `gorm:"type:numeric(20,8)" json:"open_price"`
	ClosePrice      decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"close_price"`
	Profit          decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"profit"`
	Commission      decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"commission"`
	Swap            decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"swap"`
	Status          string              `gorm:"size:20;not null;default:open" json:"status"`
	OpenedAt        time.Time           `json:"opened_at"`
	ClosedAt        *time.Time          `json:"closed_at"`
	CreatedAt       time.Time           `json:"created_at"`
}

// TableName keeps the table name stable.
func (Trade) TableName() string {
	return "trades"
}
