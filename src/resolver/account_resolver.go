package resolver

import (
	"context"
	"errors"

	"signalbridge/src/model"

	logger "github.com/sirupsen/logrus"
)

// ErrNoAccountAvailable means the owner has no active broker account right now.
// The signal stays pending and is resolved again at claim time.
var ErrNoAccountAvailable = errors.New("no active broker account available")

type accountFinder interface {
	FindLatestActiveByUser(ctx context.Context, userID uint) (*model.BrokerAccount, error)
}

// AccountResolver picks the broker account a signal should execute against.
// It reads account state and never mutates it.
type AccountResolver struct {
	accounts accountFinder
}

func NewAccountResolver(accounts accountFinder) *AccountResolver {
	return &AccountResolver{accounts: accounts}
}

// Resolve returns explicitRef as-is when given; ownership and activity are checked
// by the dispatcher at claim time. Otherwise the owner's newest active account wins.
func (r *AccountResolver) Resolve(ctx context.Context, userID uint, explicitRef *uint) (uint, error) {
	if explicitRef != nil {
		return *explicitRef, nil
	}

	account, err := r.accounts.FindLatestActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	if account == nil {
		logger.WithField("user_id", userID).Debug("No active broker account to resolve")
		return 0, ErrNoAccountAvailable
	}

	return account.ID, nil
}
