package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SignalStatusPending    = "pending"
	SignalStatusProcessing = "processing"
	SignalStatusExecuted   = "executed"
	SignalStatusFailed     = "failed"
)

const (
	ActionBuy       = "buy"
	ActionSell      = "sell"
	ActionCloseBuy  = "close_buy"
	ActionCloseSell = "close_sell"
	ActionCloseAll  = "close_all"
)

// Actions lists every side a signal may carry, in display order.
var Actions = []string{ActionBuy, ActionSell, ActionCloseBuy, ActionCloseSell, ActionCloseAll}

// Failure reasons recorded in Signal.ErrorMessage.
const (
	ReasonWebhookKeyMissing    = "webhook_key_missing"
	ReasonWebhookKeyDisabled   = "webhook_key_disabled"
	ReasonAccountNotFound      = "account_not_found"
	ReasonAccountInactive      = "account_inactive"
	ReasonAccountOwnerMismatch = "account_owner_mismatch"
	ReasonNoAccountAvailable   = "no_account_available"
	ReasonInvalidVolume        = "invalid_volume"
	ReasonCorruptCredential    = "corrupt_credential"
	ReasonBrokerTimeout        = "broker_timeout"
	ReasonBrokerRejected       = "broker_rejected"
	ReasonBrokerError          = "broker_error"
	ReasonWorkerTimeout        = "worker_timeout"
	ReasonInternalError        = "internal_error"
)

// Signal is one inbound alert recorded by the ledger. Status only moves forward:
// pending -> processing -> executed|failed.
type Signal struct {
	ID              uint                `gorm:"primaryKey" json:"id"`
	UserID          uint                `gorm:"not null;index" json:"user_id"`
	WebhookKeyID    uint                `gorm:"not null;index:idx_signal_idempotency,unique,priority:1" json:"webhook_key_id"`
	BrokerAccountID *uint               `gorm:"index" json:"broker_account_id"`
	Symbol          string              `gorm:"size:50;not null" json:"symbol"`
	Action          string              `gorm:"size:20;not null" json:"action"`
	Volume          decimal.Decimal     `gorm:"type:numeric(20,8);not null" json:"volume"`
	StopLoss        decimal.NullDecimal `gorm:"type:numeric(20,8);column:sl" json:"sl"`
	TakeProfit      decimal.NullDecimal `gorm:"type:numeric(20,8);column:tp" json:"tp"`
	Status          string              `gorm:"size:20;not null;default:pending;index" json:"status"`
	RawPayload      string              `gorm:"type:text;not null" json:"raw_payload"`
	ErrorMessage    *string             `gorm:"type:text" json:"error_message"`

	// IdempotencyToken is an optional caller supplied token; duplicates per key are rejected.
	IdempotencyToken *string `gorm:"size:191;index:idx_signal_idempotency,unique,priority:2" json:"idempotency_token,omitempty"`

	ClaimedBy   string     `gorm:"size:64" json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName keeps the table name stable.
func (Signal) TableName() string {
	return "signals"
}

// IsTerminal reports whether the signal reached executed or failed.
func (s *Signal) IsTerminal() bool {
	return s.Status == SignalStatusExecuted || s.Status == SignalStatusFailed
}

// CanTransitionTo reports whether moving from the current status to next is allowed.
func (s *Signal) CanTransitionTo(next string) bool {
	switch s.Status {
	case SignalStatusPending:
		return next == SignalStatusProcessing
	case SignalStatusProcessing:
		return next == SignalStatusExecuted || next == SignalStatusFailed
	default:
		return false
	}
}

// IsCloseAction reports whether action closes positions instead of opening one.
func IsCloseAction(action string) bool {
	return action == ActionCloseBuy || action == ActionCloseSell || action == ActionCloseAll
}

// IsValidAction reports whether action is one of the five supported sides.
func IsValidAction(action string) bool {
	for _, a := range Actions {
		if a == action {
			return true
		}
	}
	return false
}
