package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalbridge/src/database"
	"signalbridge/src/model"
	"signalbridge/src/resolver"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrInvariantViolation is returned when a terminal write finds the signal in an
// unexpected state (already terminal, never claimed, or missing).
var ErrInvariantViolation = errors.New("signal ledger invariant violation")

var (
	errAccountBusy = errors.New("broker account busy")
	errLostRace    = errors.New("signal claimed by another worker")
)

const (
	defaultClaimScanLimit    = 50
	defaultIdempotencyWindow = 24 * time.Hour
)

// AccountResolver picks the broker account for a signal that arrived without one.
type AccountResolver interface {
	Resolve(ctx context.Context, userID uint, explicitRef *uint) (uint, error)
}

// SignalSearchOptions defines filters for listing signals.
type SignalSearchOptions struct {
	UserID        uint
	Status        *string
	Symbol        *string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

// Outcome is the terminal result written by Finalize.
type Outcome struct {
	Status       string
	ErrorMessage string
	Trade        *model.Trade

	recovered bool
}

// ExecutedWith records a successful broker execution together with its trade.
func ExecutedWith(trade *model.Trade) Outcome {
	return Outcome{Status: model.SignalStatusExecuted, Trade: trade}
}

// ExecutedRecovered marks a signal executed whose trade row already exists.
func ExecutedRecovered() Outcome {
	return Outcome{Status: model.SignalStatusExecuted, recovered: true}
}

// Failed records a failure reason.
func Failed(reason string) Outcome {
	return Outcome{Status: model.SignalStatusFailed, ErrorMessage: reason}
}

// SignalRepository is the signal ledger: durable store of every accepted signal,
// owner of the status lifecycle and of the per-account execution leases.
type SignalRepository struct {
	db       *gorm.DB
	resolver AccountResolver

	IdempotencyWindow time.Duration
	ClaimScanLimit    int

	now func() time.Time
}

// NewSignalRepository creates a ledger bound to the main database.
func NewSignalRepository(accounts AccountResolver) *SignalRepository {
	logger.WithField("component", "SignalRepository").
		Info("Creating new SignalRepository with MainDB")

	return &SignalRepository{
		db:                database.MainDB,
		resolver:          accounts,
		IdempotencyWindow: defaultIdempotencyWindow,
		ClaimScanLimit:    defaultClaimScanLimit,
		now:               time.Now,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *SignalRepository) WithDB(db *gorm.DB) *SignalRepository {
	clone := *r
	clone.db = db
	return &clone
}

func (r *SignalRepository) clock() time.Time {
	if r.now == nil {
		return time.Now().UTC()
	}
	return r.now().UTC()
}

// Create appends a pending signal. When the signal carries an idempotency token that
// was already used on the same webhook key inside the idempotency window, the
// earlier signal is returned with duplicate=true and nothing is written.
func (r *SignalRepository) Create(ctx context.Context, signal *model.Signal) (*model.Signal, bool, error) {
	signal.ID = 0
	signal.Status = model.SignalStatusPending
	signal.ClaimedBy = ""
	signal.ClaimedAt = nil
	signal.ProcessedAt = nil
	signal.ErrorMessage = nil

	if signal.IdempotencyToken != nil && strings.TrimSpace(*signal.IdempotencyToken) == "" {
		signal.IdempotencyToken = nil
	}

	if signal.IdempotencyToken != nil {
		existing, err := r.findByToken(ctx, signal.WebhookKeyID, *signal.IdempotencyToken)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if r.withinWindow(existing.CreatedAt) {
				logger.WithFields(map[string]interface{}{
					"repo":      "SignalRepository",
					"op":        "Create",
					"signal_id": existing.ID,
				}).Info("Duplicate idempotency token, returning existing signal")
				return existing, true, nil
			}

			// The token expired: release it so the new signal can take it.
			if err := r.db.WithContext(ctx).
				Model(&model.Signal{}).
				Where("id = ?", existing.ID).
				Update("idempotency_token", nil).Error; err != nil {
				return nil, false, fmt.Errorf("release expired idempotency token: %w", err)
			}
		}
	}

	if err := r.db.WithContext(ctx).Create(signal).Error; err != nil {
		if signal.IdempotencyToken != nil && isDuplicateKey(err) {
			existing, findErr := r.findByToken(ctx, signal.WebhookKeyID, *signal.IdempotencyToken)
			if findErr != nil {
				return nil, false, findErr
			}
			if existing != nil {
				return existing, true, nil
			}
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "SignalRepository",
			"op":     "Create",
			"user":   signal.UserID,
			"symbol": signal.Symbol,
		}).WithError(err).Error("Failed to insert signal")

		return nil, false, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "SignalRepository",
		"op":        "Create",
		"signal_id": signal.ID,
		"user_id":   signal.UserID,
		"symbol":    signal.Symbol,
		"action":    signal.Action,
	}).Info("Signal recorded")

	return signal, false, nil
}

func (r *SignalRepository) withinWindow(createdAt time.Time) bool {
	window := r.IdempotencyWindow
	if window <= 0 {
		window = defaultIdempotencyWindow
	}
	return r.clock().Sub(createdAt) <= window
}

func (r *SignalRepository) findByToken(ctx context.Context, webhookKeyID uint, token string) (*model.Signal, error) {
	var signal model.Signal

	err := r.db.WithContext(ctx).
		Where("webhook_key_id = ? AND idempotency_token = ?", webhookKeyID, token).
		First(&signal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &signal, nil
}

// ClaimNextPending moves the oldest claimable pending signal to processing and returns
// it, or (nil, nil) when nothing is claimable. A signal is claimable when its broker
// account (explicit or resolved now) holds no lease; older signals of an account are
// always claimed before newer ones. accountID scopes the scan to one account.
//
// Signals of leased accounts are filtered out by the query. The scan pages through the
// rest in ClaimScanLimit batches until a claim succeeds or the pending set runs out,
// so unresolvable or busy signals never hide a claimable one.
func (r *SignalRepository) ClaimNextPending(ctx context.Context, accountID *uint, workerID string) (*model.Signal, error) {
	limit := r.ClaimScanLimit
	if limit <= 0 {
		limit = defaultClaimScanLimit
	}

	busy := make(map[uint]bool)
	resolved := make(map[uint]resolvedAccount)

	var after *model.Signal
	for {
		candidates, err := r.pendingPage(ctx, accountID, after, limit)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"repo": "SignalRepository",
				"op":   "ClaimNextPending",
			}).WithError(err).Error("Failed to scan pending signals")
			return nil, err
		}

		for i := range candidates {
			candidate := &candidates[i]

			account, ok, err := r.accountFor(ctx, candidate, resolved)
			if err != nil {
				return nil, err
			}
			if !ok || busy[account] {
				continue
			}

			err = r.claim(ctx, candidate, account, workerID)
			switch {
			case err == nil:
				logger.WithFields(map[string]interface{}{
					"repo":       "SignalRepository",
					"op":         "ClaimNextPending",
					"signal_id":  candidate.ID,
					"account_id": account,
					"worker":     workerID,
				}).Debug("Signal claimed")
				return candidate, nil
			case errors.Is(err, errAccountBusy):
				busy[account] = true
			case errors.Is(err, errLostRace):
				continue
			default:
				logger.WithFields(map[string]interface{}{
					"repo":      "SignalRepository",
					"op":        "ClaimNextPending",
					"signal_id": candidate.ID,
				}).WithError(err).Error("Failed to claim signal")
				return nil, err
			}
		}

		if len(candidates) < limit {
			return nil, nil
		}
		last := candidates[len(candidates)-1]
		after = &last
	}
}

// pendingPage returns the next batch of pending signals ordered oldest first, starting
// after the given signal. Signals pinned to a leased account are left out.
func (r *SignalRepository) pendingPage(ctx context.Context, accountID *uint, after *model.Signal, limit int) ([]model.Signal, error) {
	leased := r.db.Model(&model.AccountLease{}).Select("broker_account_id")

	query := r.db.WithContext(ctx).
		Where("status = ?", model.SignalStatusPending).
		Where("(broker_account_id IS NULL OR broker_account_id NOT IN (?))", leased)
	if accountID != nil {
		query = query.Where("broker_account_id = ?", *accountID)
	}
	if after != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))",
			after.CreatedAt, after.CreatedAt, after.ID)
	}

	var candidates []model.Signal
	if err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&candidates).Error; err != nil {
		return nil, err
	}
	return candidates, nil
}

type resolvedAccount struct {
	id uint
	ok bool
}

// accountFor returns the account a candidate executes against. ok is false when the
// owner has no active account yet; the signal then stays pending. Resolutions are
// cached per user for the duration of one scan.
func (r *SignalRepository) accountFor(ctx context.Context, signal *model.Signal, resolved map[uint]resolvedAccount) (uint, bool, error) {
	if signal.BrokerAccountID != nil {
		return *signal.BrokerAccountID, true, nil
	}
	if r.resolver == nil {
		return 0, false, nil
	}
	if cached, seen := resolved[signal.UserID]; seen {
		return cached.id, cached.ok, nil
	}

	account, err := r.resolver.Resolve(ctx, signal.UserID, nil)
	if err != nil {
		if errors.Is(err, resolver.ErrNoAccountAvailable) {
			resolved[signal.UserID] = resolvedAccount{}
			return 0, false, nil
		}
		return 0, false, err
	}
	resolved[signal.UserID] = resolvedAccount{id: account, ok: true}
	return account, true, nil
}

// claim moves a signal to processing. The account lease is only taken when the account
// is missing or belongs to the signal's owner; a signal aimed at another user's account
// is claimed without touching that account, and the dispatcher then fails it.
func (r *SignalRepository) claim(ctx context.Context, signal *model.Signal, account uint, workerID string) error {
	now := r.clock()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target model.BrokerAccount
		found := tx.Select("id", "user_id").Where("id = ?", account).Limit(1).Find(&target)
		if found.Error != nil {
			return found.Error
		}

		if found.RowsAffected == 0 || target.UserID == signal.UserID {
			lease := &model.AccountLease{
				BrokerAccountID: account,
				SignalID:        signal.ID,
				ClaimedBy:       workerID,
				ClaimedAt:       now,
			}
			if err := tx.Create(lease).Error; err != nil {
				if isDuplicateKey(err) {
					return errAccountBusy
				}
				return err
			}
		}

		res := tx.Model(&model.Signal{}).
			Where("id = ? AND status = ?", signal.ID, model.SignalStatusPending).
			Updates(map[string]interface{}{
				"status":            model.SignalStatusProcessing,
				"broker_account_id": account,
				"claimed_by":        workerID,
				"claimed_at":        now,
				"updated_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errLostRace
		}
		return nil
	})
	if err != nil {
		return err
	}

	signal.Status = model.SignalStatusProcessing
	signal.BrokerAccountID = &account
	signal.ClaimedBy = workerID
	signal.ClaimedAt = &now
	signal.UpdatedAt = now
	return nil
}

// Finalize writes the terminal status of a processing signal. For executed outcomes the
// trade row is inserted in the same transaction, and the account lease is released.
// A signal that is not processing yields ErrInvariantViolation and nothing is written.
func (r *SignalRepository) Finalize(ctx context.Context, id uint, outcome Outcome) error {
	switch outcome.Status {
	case model.SignalStatusExecuted:
		if outcome.Trade == nil && !outcome.recovered {
			return fmt.Errorf("finalize signal %d: executed outcome without trade", id)
		}
	case model.SignalStatusFailed:
	default:
		return fmt.Errorf("finalize signal %d: %q is not a terminal status", id, outcome.Status)
	}

	now := r.clock()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":       outcome.Status,
			"processed_at": now,
			"updated_at":   now,
		}
		if outcome.Status == model.SignalStatusFailed {
			updates["error_message"] = outcome.ErrorMessage
		}

		res := tx.Model(&model.Signal{}).
			Where("id = ? AND status = ?", id, model.SignalStatusProcessing).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current model.Signal
			if err := tx.Select("id", "status").First(&current, id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: signal %d does not exist", ErrInvariantViolation, id)
				}
				return err
			}
			return fmt.Errorf("%w: signal %d is %s", ErrInvariantViolation, id, current.Status)
		}

		if outcome.Trade != nil {
			signalID := id
			outcome.Trade.SignalID = &signalID
			if err := tx.Create(outcome.Trade).Error; err != nil {
				return fmt.Errorf("insert trade for signal %d: %w", id, err)
			}
		}

		return tx.Where("signal_id = ?", id).Delete(&model.AccountLease{}).Error
	})

	if err != nil {
		level := logger.WarnLevel
		if errors.Is(err, ErrInvariantViolation) {
			level = logger.ErrorLevel
		}
		logger.WithFields(map[string]interface{}{
			"repo":      "SignalRepository",
			"op":        "Finalize",
			"signal_id": id,
			"status":    outcome.Status,
		}).WithError(err).Log(level, "Failed to finalize signal")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":      "SignalRepository",
		"op":        "Finalize",
		"signal_id": id,
		"status":    outcome.Status,
	}).Info("Signal finalized")

	return nil
}

// FindByID fetches a signal by its primary ID.
// Returns (nil, nil) if not found.
func (r *SignalRepository) FindByID(ctx context.Context, id uint) (*model.Signal, error) {
	var signal model.Signal

	err := r.db.WithContext(ctx).First(&signal, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "SignalRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch signal by ID")

		return nil, err
	}

	return &signal, nil
}

// Search lists signals of one owner, newest first.
func (r *SignalRepository) Search(ctx context.Context, options SignalSearchOptions) ([]model.Signal, error) {
	query := r.db.WithContext(ctx).Where("user_id = ?", options.UserID)

	if options.Status != nil {
		query = query.Where("status = ?", *options.Status)
	}
	if options.Symbol != nil {
		query = query.Where("symbol = ?", *options.Symbol)
	}
	if options.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *options.CreatedAfter)
	}
	if options.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *options.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")

	if options.Limit > 0 {
		query = query.Limit(options.Limit)
	}
	if options.Offset > 0 {
		query = query.Offset(options.Offset)
	}

	var signals []model.Signal
	if err := query.Find(&signals).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "SignalRepository",
			"op":      "Search",
			"user_id": options.UserID,
		}).WithError(err).Error("Failed to search signals")
		return nil, err
	}

	return signals, nil
}

// FindStaleProcessing returns processing signals claimed before the given instant.
func (r *SignalRepository) FindStaleProcessing(ctx context.Context, claimedBefore time.Time) ([]model.Signal, error) {
	var signals []model.Signal
	err := r.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", model.SignalStatusProcessing, claimedBefore).
		Order("claimed_at ASC, id ASC").
		Find(&signals).Error
	return signals, err
}

// FindStalePending returns pending signals without a broker account created before
// the given instant.
func (r *SignalRepository) FindStalePending(ctx context.Context, createdBefore time.Time) ([]model.Signal, error) {
	var signals []model.Signal
	err := r.db.WithContext(ctx).
		Where("status = ? AND broker_account_id IS NULL AND created_at < ?", model.SignalStatusPending, createdBefore).
		Order("created_at ASC, id ASC").
		Find(&signals).Error
	return signals, err
}

// HasTrade reports whether a trade row references the signal.
func (r *SignalRepository) HasTrade(ctx context.Context, signalID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("signal_id = ?", signalID).
		Count(&count).Error
	return count > 0, err
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
