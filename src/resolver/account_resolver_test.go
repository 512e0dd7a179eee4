package resolver

import (
	"context"
	"errors"
	"testing"

	"signalbridge/src/model"

	"github.com/stretchr/testify/require"
)

type fakeFinder struct {
	account *model.BrokerAccount
	err     error
	calls   int
	userID  uint
}

func (f *fakeFinder) FindLatestActiveByUser(_ context.Context, userID uint) (*model.BrokerAccount, error) {
	f.calls++
	f.userID = userID
	return f.account, f.err
}

func TestResolveExplicitRefSkipsLookup(t *testing.T) {
	finder := &fakeFinder{}
	r := NewAccountResolver(finder)

	ref := uint(77)
	id, err := r.Resolve(context.Background(), 1, &ref)
	require.NoError(t, err)
	require.Equal(t, uint(77), id)
	require.Zero(t, finder.calls)
}

func TestResolveFallsBackToLatestActive(t *testing.T) {
	finder := &fakeFinder{account: &model.BrokerAccount{ID: 9, UserID: 3, IsActive: true}}
	r := NewAccountResolver(finder)

	id, err := r.Resolve(context.Background(), 3, nil)
	require.NoError(t, err)
	require.Equal(t, uint(9), id)
	require.Equal(t, uint(3), finder.userID)
}

func TestResolveNoAccount(t *testing.T) {
	r := NewAccountResolver(&fakeFinder{})

	_, err := r.Resolve(context.Background(), 3, nil)
	require.ErrorIs(t, err, ErrNoAccountAvailable)
}

func TestResolvePropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	r := NewAccountResolver(&fakeFinder{err: boom})

	_, err := r.Resolve(context.Background(), 3, nil)
	require.ErrorIs(t, err, boom)
}
