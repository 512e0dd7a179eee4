package executors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalbridge/src/connectors"
	"signalbridge/src/controller"
	"signalbridge/src/events"
	"signalbridge/src/model"
	"signalbridge/src/registry"
	"signalbridge/src/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	serviceName = "dispatcher"
	ledgerName  = "signal_ledger"
)

type signalLedger interface {
	ClaimNextPending(ctx context.Context, accountID *uint, workerID string) (*model.Signal, error)
	Finalize(ctx context.Context, id uint, outcome repository.Outcome) error
}

type keyChecker interface {
	KeyActive(ctx context.Context, keyID uint) (*model.WebhookKey, error)
}

type accountLoader interface {
	FindByID(ctx context.Context, id uint) (*model.BrokerAccount, error)
}

type credentialDecrypter interface {
	DecryptString(ciphertext string) (string, error)
}

type exceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Deps groups the collaborators of a Dispatcher.
type Deps struct {
	Ledger     signalLedger
	Keys       keyChecker
	Accounts   accountLoader
	Vault      credentialDecrypter
	Bridge     connectors.Bridge
	Exceptions exceptionStore
	Hub        *events.Hub
}

// Dispatcher claims pending signals and executes them through the bridge.
type Dispatcher struct {
	Deps
	config   Config
	wake     chan struct{}
	instance string
}

func NewDispatcher(deps Deps, config Config) *Dispatcher {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.BrokerTimeout <= 0 {
		config.BrokerTimeout = 30 * time.Second
	}
	if config.FinalizeTimeout <= 0 {
		config.FinalizeTimeout = 10 * time.Second
	}

	return &Dispatcher{
		Deps:     deps,
		config:   config,
		wake:     make(chan struct{}, config.WorkerCount),
		instance: strings.Split(uuid.NewString(), "-")[0],
	}
}

// Wake nudges an idle worker. It never blocks.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// ProcessOne claims at most one signal and drives it to a terminal state.
// It reports whether a signal was claimed.
func (d *Dispatcher) ProcessOne(ctx context.Context, workerID string) (bool, error) {
	signal, err := d.Ledger.ClaimNextPending(ctx, nil, workerID)
	if err != nil {
		return false, fmt.Errorf("claim: %w", err)
	}
	if signal == nil {
		return false, nil
	}

	d.Hub.Publish(events.Event{
		Type:      events.TypeClaimed,
		SignalID:  signal.ID,
		UserID:    signal.UserID,
		AccountID: signal.BrokerAccountID,
		Status:    signal.Status,
		WorkerID:  workerID,
	})

	// A claimed signal runs to completion; shutdown only stops new claims.
	work := context.WithoutCancel(ctx)
	outcome, bridgeResult := d.execute(work, signal)
	d.finalize(work, signal, outcome, bridgeResult, workerID)

	return true, nil
}

// execute runs every check and the bridge call. It never returns a non-terminal
// outcome; all failures are recorded on the signal.
func (d *Dispatcher) execute(ctx context.Context, signal *model.Signal) (repository.Outcome, *connectors.BridgeResult) {
	fields := map[string]interface{}{
		"executor":  "Dispatcher",
		"signal_id": signal.ID,
		"user_id":   signal.UserID,
		"symbol":    signal.Symbol,
		"action":    signal.Action,
	}

	if _, err := d.Keys.KeyActive(ctx, signal.WebhookKeyID); err != nil {
		switch {
		case errors.Is(err, registry.ErrKeyNotFound):
			return repository.Failed(model.ReasonWebhookKeyMissing), nil
		case errors.Is(err, registry.ErrKeyDisabled):
			return repository.Failed(model.ReasonWebhookKeyDisabled), nil
		default:
			logger.WithFields(fields).WithError(err).Error("Failed to re-check webhook key")
			return repository.Failed(model.ReasonInternalError + ": " + err.Error()), nil
		}
	}

	if signal.BrokerAccountID == nil {
		return repository.Failed(model.ReasonNoAccountAvailable), nil
	}

	account, err := d.Accounts.FindByID(ctx, *signal.BrokerAccountID)
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Failed to load broker account")
		return repository.Failed(model.ReasonInternalError + ": " + err.Error()), nil
	}
	if account == nil {
		return repository.Failed(model.ReasonAccountNotFound), nil
	}
	if account.UserID != signal.UserID {
		logger.WithFields(fields).WithField("account_owner", account.UserID).Warn("Signal targets another user's account")
		return repository.Failed(model.ReasonAccountOwnerMismatch), nil
	}
	if !account.IsActive {
		return repository.Failed(model.ReasonAccountInactive), nil
	}
	if !model.IsCloseAction(signal.Action) && !signal.Volume.IsPositive() {
		return repository.Failed(model.ReasonInvalidVolume), nil
	}

	password, err := d.Vault.DecryptString(account.EncryptedCredential)
	if err != nil {
		logger.WithFields(fields).WithField("account_id", account.ID).Error("Failed to decrypt broker credential")
		return repository.Failed(model.ReasonCorruptCredential), nil
	}

	req := connectors.BridgeRequest{
		Login:      account.Login,
		Server:     account.Server,
		Password:   password,
		Symbol:     signal.Symbol,
		Action:     signal.Action,
		Volume:     signal.Volume,
		StopLoss:   signal.StopLoss,
		TakeProfit: signal.TakeProfit,
		ClientID:   fmt.Sprintf("signal-%d", signal.ID),
	}

	callCtx, cancel := context.WithTimeout(ctx, d.config.BrokerTimeout)
	defer cancel()

	result, err := d.Bridge.Execute(callCtx, req)
	if err != nil {
		var rejection *connectors.RejectionError
		switch {
		case errors.As(err, &rejection):
			return repository.Failed(model.ReasonBrokerRejected + ": " + rejection.Error()), nil
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			logger.WithFields(req.LogFields()).WithField("signal_id", signal.ID).Warn("Bridge call timed out")
			return repository.Failed(model.ReasonBrokerTimeout), nil
		default:
			return repository.Failed(model.ReasonBrokerError + ": " + err.Error()), nil
		}
	}

	return repository.ExecutedWith(buildTrade(signal, account, result)), result
}

func buildTrade(signal *model.Signal, account *model.BrokerAccount, result *connectors.BridgeResult) *model.Trade {
	executedAt := result.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}

	volume := result.Volume
	if volume.IsZero() {
		volume = signal.Volume
	}

	trade := &model.Trade{
		UserID:          signal.UserID,
		BrokerAccountID: account.ID,
		BrokerTicket:    result.Ticket,
		Symbol:          signal.Symbol,
		Action:          signal.Action,
		Volume:          volume,
		OpenPrice:       result.Price,
		Status:          model.TradeStatusOpen,
		OpenedAt:        executedAt,
	}

	if model.IsCloseAction(signal.Action) {
		closedAt := executedAt
		trade.Status = model.TradeStatusClosed
		trade.ClosePrice = decimal.NewNullDecimal(result.Price)
		trade.Profit = decimal.NewNullDecimal(result.TotalProfit())
		trade.ClosedAt = &closedAt
	}

	return trade
}

func (d *Dispatcher) finalize(ctx context.Context, signal *model.Signal, outcome repository.Outcome, result *connectors.BridgeResult, workerID string) {
	// The outcome must be recorded even when shutdown cancelled ctx mid-call.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.FinalizeTimeout)
	defer cancel()

	fields := map[string]interface{}{
		"executor":  "Dispatcher",
		"signal_id": signal.ID,
		"status":    outcome.Status,
		"worker":    workerID,
	}

	err := d.Ledger.Finalize(finalizeCtx, signal.ID, outcome)
	if err != nil {
		if errors.Is(err, repository.ErrInvariantViolation) {
			contextData := map[string]interface{}{
				"signal_id": signal.ID,
				"worker":    workerID,
				"outcome":   outcome.Status,
				"reason":    outcome.ErrorMessage,
			}
			if result != nil {
				contextData["broker_ticket"] = result.Ticket
			}
			controller.Capture(finalizeCtx, d.Exceptions, serviceName, ledgerName, "Finalize", model.ExceptionLevelError, err, contextData)

			d.Hub.Publish(events.Event{
				Type:     events.TypeInvariantViolation,
				SignalID: signal.ID,
				UserID:   signal.UserID,
				Reason:   err.Error(),
				WorkerID: workerID,
			})
			return
		}

		// Left processing; the sweep settles it after the processing deadline.
		logger.WithFields(fields).WithError(err).Error("Failed to finalize signal")
		return
	}

	eventType := events.TypeExecuted
	if outcome.Status == model.SignalStatusFailed {
		eventType = events.TypeFailed
		logger.WithFields(fields).WithField("reason", outcome.ErrorMessage).Warn("Signal failed")
	} else {
		logger.WithFields(fields).Info("Signal executed")
	}

	d.Hub.Publish(events.Event{
		Type:      eventType,
		SignalID:  signal.ID,
		UserID:    signal.UserID,
		AccountID: signal.BrokerAccountID,
		Status:    outcome.Status,
		Reason:    outcome.ErrorMessage,
		WorkerID:  workerID,
	})
}
