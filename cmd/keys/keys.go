package keys

import (
	"context"
	"fmt"
	"io"
	"strings"

	"signalbridge/src/model"
)

type keyManager interface {
	Create(ctx context.Context, userID uint, label string) (*model.WebhookKey, error)
	Rotate(ctx context.Context, keyID uint) (string, error)
	SetActive(ctx context.Context, keyID uint, active bool) error
}

// Keys implements the webhook key maintenance commands. The secret is printed once
// and never logged.
type Keys struct {
	Registry keyManager
	Out      io.Writer
	Config   Config
}

func (k *Keys) webhookURL(secret string) string {
	return strings.TrimRight(k.Config.PublicURL, "/") + "/webhook/" + secret
}

func (k *Keys) Create(ctx context.Context, userID uint, label string) error {
	if userID == 0 {
		return fmt.Errorf("user id is required")
	}
	key, err := k.Registry.Create(ctx, userID, label)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(k.Out, "key_id=%d user_id=%d\nwebhook_url=%s\n", key.ID, key.UserID, k.webhookURL(key.Secret))
	return err
}

func (k *Keys) Rotate(ctx context.Context, keyID uint) error {
	secret, err := k.Registry.Rotate(ctx, keyID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(k.Out, "key_id=%d\nwebhook_url=%s\n", keyID, k.webhookURL(secret))
	return err
}

func (k *Keys) SetActive(ctx context.Context, keyID uint, active bool) error {
	if err := k.Registry.SetActive(ctx, keyID, active); err != nil {
		return err
	}
	_, err := fmt.Fprintf(k.Out, "key_id=%d active=%t\n", keyID, active)
	return err
}
