package repository

import (
	"context"
	"errors"

	"signalbridge/src/database"
	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WebhookKeyRepository reads and administers webhook keys.
type WebhookKeyRepository struct {
	db *gorm.DB
}

// NewWebhookKeyRepository creates a repository bound to the main database.
func NewWebhookKeyRepository() *WebhookKeyRepository {
	logger.WithField("component", "WebhookKeyRepository").
		Info("Creating new WebhookKeyRepository with MainDB")

	return &WebhookKeyRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *WebhookKeyRepository) WithDB(db *gorm.DB) *WebhookKeyRepository {
	return &WebhookKeyRepository{db: db}
}

// Create inserts a new webhook key.
func (r *WebhookKeyRepository) Create(ctx context.Context, key *model.WebhookKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

// FindBySecret fetches a key by its exact secret.
// Returns (nil, nil) if not found.
func (r *WebhookKeyRepository) FindBySecret(ctx context.Context, secret string) (*model.WebhookKey, error) {
	var key model.WebhookKey

	err := r.db.WithContext(ctx).
		Where("secret = ?", secret).
		First(&key).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "WebhookKeyRepository",
			"op":   "FindBySecret",
		}).WithError(err).Error("Failed to fetch webhook key by secret")

		return nil, err
	}

	return &key, nil
}

// FindByID fetches a key by its primary ID.
// Returns (nil, nil) if not found.
func (r *WebhookKeyRepository) FindByID(ctx context.Context, id uint) (*model.WebhookKey, error) {
	var key model.WebhookKey

	err := r.db.WithContext(ctx).First(&key, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "WebhookKeyRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch webhook key by ID")

		return nil, err
	}

	return &key, nil
}

// UpdateSecret replaces the secret in a single statement, so the old value stops
// resolving at the same instant the new one starts.
func (r *WebhookKeyRepository) UpdateSecret(ctx context.Context, id uint, secret string) error {
	res := r.db.WithContext(ctx).
		Model(&model.WebhookKey{}).
		Where("id = ?", id).
		Update("secret", secret)

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "WebhookKeyRepository",
			"op":   "UpdateSecret",
			"id":   id,
		}).WithError(res.Error).Error("Failed to rotate webhook key secret")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}

	logger.WithFields(map[string]interface{}{
		"repo": "WebhookKeyRepository",
		"op":   "UpdateSecret",
		"id":   id,
	}).Info("Webhook key secret rotated")

	return nil
}

// SetActive toggles is_active for the given key.
func (r *WebhookKeyRepository) SetActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.WebhookKey{}).
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
