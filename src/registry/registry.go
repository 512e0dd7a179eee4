package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"signalbridge/src/model"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

var (
	// ErrKeyNotFound means no key carries the given secret.
	ErrKeyNotFound = errors.New("webhook key not found")
	// ErrKeyDisabled means the key exists but is_active is false.
	ErrKeyDisabled = errors.New("webhook key disabled")
)

type keyStore interface {
	Create(ctx context.Context, key *model.WebhookKey) error
	FindBySecret(ctx context.Context, secret string) (*model.WebhookKey, error)
	FindByID(ctx context.Context, id uint) (*model.WebhookKey, error)
	UpdateSecret(ctx context.Context, id uint, secret string) error
	SetActive(ctx context.Context, id uint, active bool) error
}

// Registry maps webhook secrets to their owners.
type Registry struct {
	keys      keyStore
	newSecret func() string
}

func NewRegistry(keys keyStore) *Registry {
	return &Registry{keys: keys, newSecret: GenerateSecret}
}

// GenerateSecret returns 64 hex characters of randomness.
func GenerateSecret() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// Resolve looks a key up by exact secret.
func (r *Registry) Resolve(ctx context.Context, secret string) (*model.WebhookKey, error) {
	if secret == "" {
		return nil, ErrKeyNotFound
	}

	key, err := r.keys.FindBySecret(ctx, secret)
	if err != nil {
		return nil, fmt.Errorf("resolve webhook key: %w", err)
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	if !key.IsActive {
		logger.WithFields(map[string]interface{}{
			"webhook_key_id": key.ID,
			"user_id":        key.UserID,
		}).Warn("Webhook hit on disabled key")
		return key, ErrKeyDisabled
	}

	return key, nil
}

// KeyActive re-checks a key by ID. Used by the dispatcher before execution.
func (r *Registry) KeyActive(ctx context.Context, keyID uint) (*model.WebhookKey, error) {
	key, err := r.keys.FindByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	if !key.IsActive {
		return key, ErrKeyDisabled
	}
	return key, nil
}

// Create issues a new active key for userID.
func (r *Registry) Create(ctx context.Context, userID uint, label string) (*model.WebhookKey, error) {
	key := &model.WebhookKey{
		UserID:   userID,
		Secret:   r.newSecret(),
		Label:    label,
		IsActive: true,
	}
	if err := r.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("create webhook key: %w", err)
	}
	return key, nil
}

// Rotate replaces the key's secret and returns the new value.
func (r *Registry) Rotate(ctx context.Context, keyID uint) (string, error) {
	secret := r.newSecret()
	if err := r.keys.UpdateSecret(ctx, keyID, secret); err != nil {
		return "", fmt.Errorf("rotate webhook key %d: %w", keyID, err)
	}
	return secret, nil
}

// SetActive enables or disables a key.
func (r *Registry) SetActive(ctx context.Context, keyID uint, active bool) error {
	return r.keys.SetActive(ctx, keyID, active)
}
