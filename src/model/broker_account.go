package model

import "time"

// BrokerAccount is a trading terminal login. EncryptedCredential is vault
// ciphertext; the plaintext password is never stored.
type BrokerAccount struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	UserID              uint      `gorm:"not null;index" json:"user_id"`
	AccountName         string    `gorm:"size:100;not null;default:Default" json:"account_name"`
	Server              string    `gorm:"size:255;not null" json:"server"`
	Login               int64     `gorm:"not null" json:"login"`
	EncryptedCredential string    `gorm:"type:text;not null" json:"-"`
	IsActive            bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt           time.Time `gorm:"index" json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (BrokerAccount) TableName() string {
	return "broker_accounts"
}

// AccountLease marks a broker account as busy with one processing signal.
// The primary key on BrokerAccountID allows a single lease per account.
type AccountLease struct {
	BrokerAccountID uint      `gorm:"primaryKey;autoIncrement:false" json:"broker_account_id"`
	SignalID        uint      `gorm:"not null;uniqueIndex" json:"signal_id"`
	ClaimedBy       string    `gorm:"size:64" json:"claimed_by"`
	ClaimedAt       time.Time `json:"claimed_at"`
}

func (AccountLease) TableName() string {
	return "account_leases"
}
