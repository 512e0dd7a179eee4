package repository

import (
	"context"
	"errors"

	"signalbridge/src/database"
	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// BrokerAccountRepository handles broker account lookups. The execution core only
// reads accounts; Create and SetActive exist for the operator CLI.
type BrokerAccountRepository struct {
	db *gorm.DB
}

func NewBrokerAccountRepository() *BrokerAccountRepository {
	logger.WithField("component", "BrokerAccountRepository").
		Info("Creating new BrokerAccountRepository with MainDB")

	return &BrokerAccountRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *BrokerAccountRepository) WithDB(db *gorm.DB) *BrokerAccountRepository {
	return &BrokerAccountRepository{db: db}
}

// Create inserts a new broker account. EncryptedCredential must already be vault ciphertext.
func (r *BrokerAccountRepository) Create(ctx context.Context, account *model.BrokerAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// FindByID fetches an account by its primary ID.
// Returns (nil, nil) if not found.
func (r *BrokerAccountRepository) FindByID(ctx context.Context, id uint) (*model.BrokerAccount, error) {
	var account model.BrokerAccount

	err := r.db.WithContext(ctx).First(&account, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "BrokerAccountRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Broker account not found")
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "BrokerAccountRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch broker account by ID")

		return nil, err
	}

	return &account, nil
}

// FindLatestActiveByUser returns the most recently created active account of the user,
// newest insertion first on equal timestamps.
// Returns (nil, nil) if the user has no active account.
func (r *BrokerAccountRepository) FindLatestActiveByUser(ctx context.Context, userID uint) (*model.BrokerAccount, error) {
	var account model.BrokerAccount

	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Order("id DESC").
		First(&account).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":    "BrokerAccountRepository",
			"op":      "FindLatestActiveByUser",
			"user_id": userID,
		}).WithError(err).Error("Failed to fetch latest active broker account")

		return nil, err
	}

	return &account, nil
}

// SetActive toggles is_active for the given account.
func (r *BrokerAccountRepository) SetActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.BrokerAccount{}).
		Where("id = ?", id).
		Update("is_active", active)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
