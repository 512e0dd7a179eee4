package registry

import (
	"context"
	"errors"
	"testing"

	"signalbridge/src/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memoryKeys struct {
	byID   map[uint]*model.WebhookKey
	nextID uint
	err    error
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{byID: map[uint]*model.WebhookKey{}}
}

func (m *memoryKeys) Create(_ context.Context, key *model.WebhookKey) error {
	if m.err != nil {
		return m.err
	}
	m.nextID++
	key.ID = m.nextID
	stored := *key
	m.byID[key.ID] = &stored
	return nil
}

func (m *memoryKeys) FindBySecret(_ context.Context, secret string) (*model.WebhookKey, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, key := range m.byID {
		if key.Secret == secret {
			found := *key
			return &found, nil
		}
	}
	return nil, nil
}

func (m *memoryKeys) FindByID(_ context.Context, id uint) (*model.WebhookKey, error) {
	key, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	found := *key
	return &found, nil
}

func (m *memoryKeys) UpdateSecret(_ context.Context, id uint, secret string) error {
	key, ok := m.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	key.Secret = secret
	return nil
}

func (m *memoryKeys) SetActive(_ context.Context, id uint, active bool) error {
	key, ok := m.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	key.IsActive = active
	return nil
}

func TestGenerateSecret(t *testing.T) {
	a := GenerateSecret()
	b := GenerateSecret()

	assert.Len(t, a, 64)
	assert.NotContains(t, a, "-")
	assert.NotEqual(t, a, b)
}

func TestResolve(t *testing.T) {
	keys := newMemoryKeys()
	reg := NewRegistry(keys)
	ctx := context.Background()

	created, err := reg.Create(ctx, 7, "tradingview")
	require.NoError(t, err)
	require.True(t, created.IsActive)

	key, err := reg.Resolve(ctx, created.Secret)
	require.NoError(t, err)
	assert.Equal(t, uint(7), key.UserID)

	_, err = reg.Resolve(ctx, "nope")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = reg.Resolve(ctx, "")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, reg.SetActive(ctx, created.ID, false))
	key, err = reg.Resolve(ctx, created.Secret)
	assert.ErrorIs(t, err, ErrKeyDisabled)
	require.NotNil(t, key)
	assert.Equal(t, created.ID, key.ID)
}

func TestResolveWrapsStoreErrors(t *testing.T) {
	keys := newMemoryKeys()
	keys.err = errors.New("connection refused")

	_, err := NewRegistry(keys).Resolve(context.Background(), "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRotateInvalidatesOldSecret(t *testing.T) {
	keys := newMemoryKeys()
	reg := NewRegistry(keys)
	ctx := context.Background()

	created, err := reg.Create(ctx, 1, "")
	require.NoError(t, err)
	old := created.Secret

	fresh, err := reg.Rotate(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	_, err = reg.Resolve(ctx, old)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	key, err := reg.Resolve(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, created.ID, key.ID)

	_, err = reg.Rotate(ctx, 999)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestKeyActive(t *testing.T) {
	keys := newMemoryKeys()
	reg := NewRegistry(keys)
	ctx := context.Background()

	created, err := reg.Create(ctx, 1, "")
	require.NoError(t, err)

	_, err = reg.KeyActive(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, reg.SetActive(ctx, created.ID, false))
	_, err = reg.KeyActive(ctx, created.ID)
	assert.ErrorIs(t, err, ErrKeyDisabled)

	_, err = reg.KeyActive(ctx, 404)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
