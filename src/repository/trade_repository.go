package repository

import (
	"context"
	"errors"

	"signalbridge/src/database"
	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TradeRepository reads trades. Trades are written only by SignalRepository.Finalize,
// inside the same transaction that marks the signal executed.
type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository() *TradeRepository {
	return &TradeRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// FindBySignalID returns the trade produced by a signal.
// Returns (nil, nil) if not found.
func (r *TradeRepository) FindBySignalID(ctx context.Context, signalID uint) (*model.Trade, error) {
	var trade model.Trade

	err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		First(&trade).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":      "TradeRepository",
			"op":        "FindBySignalID",
			"signal_id": signalID,
		}).WithError(err).Error("Failed to fetch trade by signal ID")

		return nil, err
	}

	return &trade, nil
}

// CountBySignalID returns how many trades reference the signal. Anything above one
// means the exactly-once guarantee was broken.
func (r *TradeRepository) CountBySignalID(ctx context.Context, signalID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("signal_id = ?", signalID).
		Count(&count).Error
	return count, err
}
