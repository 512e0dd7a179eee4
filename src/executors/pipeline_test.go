package executors

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"signalbridge/src/connectors"
	"signalbridge/src/controller"
	"signalbridge/src/database"
	"signalbridge/src/events"
	"signalbridge/src/model"
	"signalbridge/src/registry"
	"signalbridge/src/repository"
	"signalbridge/src/resolver"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type pipeline struct {
	db         *gorm.DB
	ingestor   *controller.Ingestor
	dispatcher *Dispatcher
	signals    *repository.SignalRepository
	accounts   *repository.BrokerAccountRepository
	keys       *registry.Registry
	bridge     *connectors.PaperBridge
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "pipeline.db") + "?_busy_timeout=5000"
	db, err := database.Open(database.DriverSQLite, dsn, int(gormlogger.Silent))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	accounts := repository.NewBrokerAccountRepository().WithDB(db)
	accountResolver := resolver.NewAccountResolver(accounts)
	signals := repository.NewSignalRepository(accountResolver).WithDB(db)
	keys := registry.NewRegistry(repository.NewWebhookKeyRepository().WithDB(db))
	hub := events.NewHub(64)
	bridge := connectors.NewPaperBridge()

	dispatcher := NewDispatcher(Deps{
		Ledger:     signals,
		Keys:       keys,
		Accounts:   accounts,
		Vault:      newTestVault(t),
		Bridge:     bridge,
		Exceptions: repository.NewExceptionRepository().WithDB(db),
		Hub:        hub,
	}, Config{WorkerCount: 4, PollInterval: 10 * time.Millisecond, BrokerTimeout: time.Second})

	return &pipeline{
		db:         db,
		ingestor:   controller.NewIngestor(keys, accountResolver, signals, dispatcher, hub),
		dispatcher: dispatcher,
		signals:    signals,
		accounts:   accounts,
		keys:       keys,
		bridge:     bridge,
	}
}

func (p *pipeline) addAccount(t *testing.T, userID uint, login int64) *model.BrokerAccount {
	t.Helper()
	encrypted, err := newTestVault(t).EncryptString("pass-" + decimal.NewFromInt(login).String())
	require.NoError(t, err)

	account := &model.BrokerAccount{
		UserID:              userID,
		Server:              "Demo-Server",
		Login:               login,
		EncryptedCredential: encrypted,
		IsActive:            true,
	}
	require.NoError(t, p.accounts.Create(context.Background(), account))
	return account
}

func TestPipelineFreeformSignalExecutes(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)
	p.bridge.SetPrice("EURUSD", decimal.RequireFromString("1.0850"))

	key, err := p.keys.Create(ctx, 1, "tradingview")
	require.NoError(t, err)
	account := p.addAccount(t, 1, 5001234)

	result, err := p.ingestor.Ingest(ctx, key.Secret, "text/plain", []byte("EURUSD buy 0.1 sl=1.0800 tp=1.1000"), "")
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	assert.Equal(t, model.SignalStatusPending, result.Signal.Status)
	require.NotNil(t, result.Signal.BrokerAccountID)
	assert.Equal(t, account.ID, *result.Signal.BrokerAccountID)

	processed, err := p.dispatcher.ProcessOne(ctx, "w-0")
	require.NoError(t, err)
	require.True(t, processed)

	stored, err := p.signals.FindByID(ctx, result.Signal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SignalStatusExecuted, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)

	trade, err := repository.NewTradeRepository().WithDB(p.db).FindBySignalID(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, account.ID, trade.BrokerAccountID)
	assert.True(t, trade.OpenPrice.Equal(decimal.RequireFromString("1.085")))
	assert.True(t, trade.Volume.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, 1, p.bridge.OpenPositions(5001234, "EURUSD"))

	processed, err = p.dispatcher.ProcessOne(ctx, "w-0")
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestPipelineDisabledAfterIngestFails(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	key, err := p.keys.Create(ctx, 1, "")
	require.NoError(t, err)
	p.addAccount(t, 1, 42)

	result, err := p.ingestor.Ingest(ctx, key.Secret, "application/json", []byte(`{"symbol":"XAUUSD","action":"sell","volume":2}`), "")
	require.NoError(t, err)

	require.NoError(t, p.keys.SetActive(ctx, key.ID, false))

	processed, err := p.dispatcher.ProcessOne(ctx, "w-0")
	require.NoError(t, err)
	require.True(t, processed)

	stored, err := p.signals.FindByID(ctx, result.Signal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SignalStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, model.ReasonWebhookKeyDisabled, *stored.ErrorMessage)
	assert.Zero(t, p.bridge.OpenPositions(42, "XAUUSD"))
}

func TestPipelineConcurrentWorkersExecuteEachSignalOnce(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	key, err := p.keys.Create(ctx, 1, "")
	require.NoError(t, err)
	p.addAccount(t, 1, 7001)

	const total = 10
	for i := 0; i < total; i++ {
		_, err := p.ingestor.Ingest(ctx, key.Secret, "text/plain", []byte("EURUSD buy 0.1"), "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(workerID string) {
			defer wg.Done()
			for {
				processed, err := p.dispatcher.ProcessOne(ctx, workerID)
				if err != nil || !processed {
					return
				}
			}
		}(string(rune('a' + w)))
	}
	wg.Wait()

	// A worker may stop early when the only account is leased; drain the rest.
	for {
		processed, err := p.dispatcher.ProcessOne(ctx, "drain")
		require.NoError(t, err)
		if !processed {
			break
		}
	}

	executed, err := p.signals.Search(ctx, repository.SignalSearchOptions{UserID: 1, Status: ptr(model.SignalStatusExecuted)})
	require.NoError(t, err)
	assert.Len(t, executed, total)

	var trades int64
	require.NoError(t, p.db.Model(&model.Trade{}).Count(&trades).Error)
	assert.Equal(t, int64(total), trades)
	assert.Equal(t, total, p.bridge.OpenPositions(7001, "EURUSD"))

	var leases int64
	require.NoError(t, p.db.Model(&model.AccountLease{}).Count(&leases).Error)
	assert.Zero(t, leases)
}

func TestPipelineSweepRecoversStuckSignal(t *testing.T) {
	ctx := context.Background()
	p := newPipeline(t)

	key, err := p.keys.Create(ctx, 1, "")
	require.NoError(t, err)
	p.addAccount(t, 1, 9)

	result, err := p.ingestor.Ingest(ctx, key.Secret, "text/plain", []byte("EURUSD sell 0.2"), "")
	require.NoError(t, err)

	// A worker claims and then dies before finalizing.
	claimed, err := p.signals.ClaimNextPending(ctx, nil, "dead-worker")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, result.Signal.ID, claimed.ID)

	sweeper := NewSweeper(p.signals, repository.NewExceptionRepository().WithDB(p.db), nil, Config{ProcessingDeadline: time.Minute})
	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	swept, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{claimed.ID}, swept.TimedOut)

	stored, err := p.signals.FindByID(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SignalStatusFailed, stored.Status)
	assert.Equal(t, model.ReasonWorkerTimeout, *stored.ErrorMessage)

	// The lease is released, so new signals on the account run again.
	_, err = p.ingestor.Ingest(ctx, key.Secret, "text/plain", []byte("EURUSD sell 0.2"), "")
	require.NoError(t, err)
	processed, err := p.dispatcher.ProcessOne(ctx, "w-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func ptr(s string) *string { return &s }
