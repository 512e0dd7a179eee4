package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"signalbridge/src/events"
	"signalbridge/src/mapper"
	"signalbridge/src/model"
	"signalbridge/src/resolver"

	logger "github.com/sirupsen/logrus"
)

type keyResolver interface {
	Resolve(ctx context.Context, secret string) (*model.WebhookKey, error)
}

type accountResolver interface {
	Resolve(ctx context.Context, userID uint, explicitRef *uint) (uint, error)
}

type signalCreator interface {
	Create(ctx context.Context, signal *model.Signal) (*model.Signal, bool, error)
}

// Waker is notified after a new signal is stored. Implementations must not block.
type Waker interface {
	Wake()
}

// IngestResult is the stored signal and whether it was a replay of an earlier one.
type IngestResult struct {
	Signal    *model.Signal
	Duplicate bool
}

// Ingestor turns an authenticated webhook body into a pending signal.
type Ingestor struct {
	keys     keyResolver
	accounts accountResolver
	ledger   signalCreator
	waker    Waker
	hub      *events.Hub
}

func NewIngestor(keys keyResolver, accounts accountResolver, ledger signalCreator, waker Waker, hub *events.Hub) *Ingestor {
	return &Ingestor{
		keys:     keys,
		accounts: accounts,
		ledger:   ledger,
		waker:    waker,
		hub:      hub,
	}
}

// Ingest validates the key, normalizes the body, picks an account when none was
// given and records the signal as pending. Registry errors and *mapper.ValidationError
// are returned unchanged so the caller can map them to a response.
func (i *Ingestor) Ingest(ctx context.Context, secret, contentType string, body []byte, idempotencyKey string) (*IngestResult, error) {
	key, err := i.keys.Resolve(ctx, secret)
	if err != nil {
		return nil, err
	}

	req, err := mapper.Normalize(body, mapper.KindFromContentType(contentType))
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"controller":     "Ingestor",
			"webhook_key_id": key.ID,
			"user_id":        key.UserID,
		}).WithError(err).Info("Rejected webhook payload")
		return nil, err
	}

	signal := &model.Signal{
		UserID:          key.UserID,
		WebhookKeyID:    key.ID,
		BrokerAccountID: req.AccountRef,
		Symbol:          req.Symbol,
		Action:          req.Action,
		Volume:          req.Volume,
		StopLoss:        req.StopLoss,
		TakeProfit:      req.TakeProfit,
		RawPayload:      req.RawPayload,
	}

	token := strings.TrimSpace(idempotencyKey)
	if token == "" {
		token = req.IdempotencyKey
	}
	if token != "" {
		signal.IdempotencyToken = &token
	}

	if signal.BrokerAccountID == nil && i.accounts != nil {
		accountID, err := i.accounts.Resolve(ctx, key.UserID, nil)
		switch {
		case err == nil:
			signal.BrokerAccountID = &accountID
		case errors.Is(err, resolver.ErrNoAccountAvailable):
			// Stays unresolved; the dispatcher resolves again at claim time.
		default:
			return nil, fmt.Errorf("resolve account: %w", err)
		}
	}

	stored, duplicate, err := i.ledger.Create(ctx, signal)
	if err != nil {
		return nil, fmt.Errorf("store signal: %w", err)
	}

	if !duplicate {
		if i.waker != nil {
			i.waker.Wake()
		}
		i.hub.Publish(events.Event{
			Type:      events.TypeAccepted,
			SignalID:  stored.ID,
			UserID:    stored.UserID,
			AccountID: stored.BrokerAccountID,
			Status:    stored.Status,
		})
	}

	return &IngestResult{Signal: stored, Duplicate: duplicate}, nil
}
