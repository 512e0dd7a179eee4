package auth

import (
	"context"

	"signalbridge/src/model"
)

type contextKey string

const WebhookKeyKey contextKey = "webhook_key"

// WithWebhookKey returns ctx carrying the webhook key that authenticated the request.
func WithWebhookKey(ctx context.Context, key *model.WebhookKey) context.Context {
	return context.WithValue(ctx, WebhookKeyKey, key)
}

func GetWebhookKeyFromContext(ctx context.Context) (*model.WebhookKey, bool) {
	key, ok := ctx.Value(WebhookKeyKey).(*model.WebhookKey)
	return key, ok && key != nil
}
