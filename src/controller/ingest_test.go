package controller

import (
	"context"
	"errors"
	"testing"

	"signalbridge/src/events"
	"signalbridge/src/mapper"
	"signalbridge/src/model"
	"signalbridge/src/registry"
	"signalbridge/src/resolver"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKeys struct {
	keys map[string]*model.WebhookKey
}

func (f *fakeKeys) Resolve(_ context.Context, secret string) (*model.WebhookKey, error) {
	key, ok := f.keys[secret]
	if !ok {
		return nil, registry.ErrKeyNotFound
	}
	if !key.IsActive {
		return key, registry.ErrKeyDisabled
	}
	return key, nil
}

type fakeAccounts struct {
	account uint
	err     error
	calls   int
}

func (f *fakeAccounts) Resolve(_ context.Context, _ uint, explicitRef *uint) (uint, error) {
	f.calls++
	if explicitRef != nil {
		return *explicitRef, nil
	}
	return f.account, f.err
}

type fakeLedger struct {
	created []*model.Signal
	byToken map[string]*model.Signal
	err     error
}

func (f *fakeLedger) Create(_ context.Context, signal *model.Signal) (*model.Signal, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	if signal.IdempotencyToken != nil {
		if existing, ok := f.byToken[*signal.IdempotencyToken]; ok {
			return existing, true, nil
		}
	}
	signal.ID = uint(len(f.created) + 1)
	signal.Status = model.SignalStatusPending
	f.created = append(f.created, signal)
	if signal.IdempotencyToken != nil {
		if f.byToken == nil {
			f.byToken = map[string]*model.Signal{}
		}
		f.byToken[*signal.IdempotencyToken] = signal
	}
	return signal, false, nil
}

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func newTestIngestor(accounts *fakeAccounts) (*Ingestor, *fakeLedger, *countingWaker, *events.Hub) {
	keys := &fakeKeys{keys: map[string]*model.WebhookKey{
		"live":     {ID: 1, UserID: 10, IsActive: true},
		"disabled": {ID: 2, UserID: 11, IsActive: false},
	}}
	ledger := &fakeLedger{}
	waker := &countingWaker{}
	hub := events.NewHub(8)
	return NewIngestor(keys, accounts, ledger, waker, hub), ledger, waker, hub
}

func TestIngestTextSignal(t *testing.T) {
	ingestor, ledger, waker, hub := newTestIngestor(&fakeAccounts{account: 5})
	feed, cancel := hub.Subscribe()
	defer cancel()

	result, err := ingestor.Ingest(context.Background(), "live", "text/plain", []byte("EURUSD buy 0.1 sl=1.0800 tp=1.1000"), "")
	require.NoError(t, err)
	require.False(t, result.Duplicate)
	require.Len(t, ledger.created, 1)

	signal := result.Signal
	assert.Equal(t, uint(10), signal.UserID)
	assert.Equal(t, uint(1), signal.WebhookKeyID)
	assert.Equal(t, "EURUSD", signal.Symbol)
	assert.Equal(t, model.ActionBuy, signal.Action)
	assert.True(t, signal.Volume.Equal(decimal.RequireFromString("0.1")))
	assert.True(t, signal.StopLoss.Decimal.Equal(decimal.RequireFromString("1.08")))
	require.NotNil(t, signal.BrokerAccountID)
	assert.Equal(t, uint(5), *signal.BrokerAccountID)
	assert.Nil(t, signal.IdempotencyToken)
	assert.Equal(t, 1, waker.n)

	e := <-feed
	assert.Equal(t, events.TypeAccepted, e.Type)
	assert.Equal(t, signal.ID, e.SignalID)
}

func TestIngestLeavesAccountUnresolved(t *testing.T) {
	ingestor, ledger, _, _ := newTestIngestor(&fakeAccounts{err: resolver.ErrNoAccountAvailable})

	result, err := ingestor.Ingest(context.Background(), "live", "application/json", []byte(`{"symbol":"xauusd","action":"SELL","volume":"2"}`), "")
	require.NoError(t, err)
	assert.Nil(t, result.Signal.BrokerAccountID)
	assert.Equal(t, "XAUUSD", result.Signal.Symbol)
	assert.Len(t, ledger.created, 1)
}

func TestIngestExplicitAccountSkipsResolution(t *testing.T) {
	accounts := &fakeAccounts{account: 5}
	ingestor, _, _, _ := newTestIngestor(accounts)

	result, err := ingestor.Ingest(context.Background(), "live", "application/json", []byte(`{"symbol":"EURUSD","action":"buy","mt5_account_id":"42"}`), "")
	require.NoError(t, err)
	assert.Equal(t, uint(42), *result.Signal.BrokerAccountID)
	assert.Zero(t, accounts.calls)
}

func TestIngestResolverFailure(t *testing.T) {
	ingestor, ledger, _, _ := newTestIngestor(&fakeAccounts{err: errors.New("db down")})

	_, err := ingestor.Ingest(context.Background(), "live", "text/plain", []byte("EURUSD buy"), "")
	require.Error(t, err)
	assert.Empty(t, ledger.created)
}

func TestIngestRejectsWithoutWriting(t *testing.T) {
	ingestor, ledger, waker, _ := newTestIngestor(&fakeAccounts{account: 5})
	ctx := context.Background()

	_, err := ingestor.Ingest(ctx, "missing", "text/plain", []byte("EURUSD buy"), "")
	assert.ErrorIs(t, err, registry.ErrKeyNotFound)

	_, err = ingestor.Ingest(ctx, "disabled", "text/plain", []byte("EURUSD buy"), "")
	assert.ErrorIs(t, err, registry.ErrKeyDisabled)

	_, err = ingestor.Ingest(ctx, "live", "text/plain", []byte("EURUSD hold 0.1"), "")
	var verr *mapper.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, mapper.CodeUnknownAction, verr.Code)

	assert.Empty(t, ledger.created)
	assert.Zero(t, waker.n)
}

func TestIngestIdempotencyHeaderWins(t *testing.T) {
	ingestor, ledger, waker, _ := newTestIngestor(&fakeAccounts{account: 5})
	ctx := context.Background()
	body := []byte(`{"symbol":"EURUSD","action":"buy","idempotency_key":"from-body"}`)

	first, err := ingestor.Ingest(ctx, "live", "application/json", body, "from-header")
	require.NoError(t, err)
	require.NotNil(t, first.Signal.IdempotencyToken)
	assert.Equal(t, "from-header", *first.Signal.IdempotencyToken)

	again, err := ingestor.Ingest(ctx, "live", "application/json", body, "from-header")
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Signal.ID, again.Signal.ID)
	assert.Len(t, ledger.created, 1)
	assert.Equal(t, 1, waker.n)

	fromBody, err := ingestor.Ingest(ctx, "live", "application/json", body, "")
	require.NoError(t, err)
	assert.False(t, fromBody.Duplicate)
	assert.Equal(t, "from-body", *fromBody.Signal.IdempotencyToken)
}

func TestIngestStorageFailure(t *testing.T) {
	ingestor, ledger, waker, _ := newTestIngestor(&fakeAccounts{account: 5})
	ledger.err = errors.New("disk full")

	_, err := ingestor.Ingest(context.Background(), "live", "text/plain", []byte("EURUSD buy"), "")
	require.Error(t, err)
	assert.Zero(t, waker.n)
}
