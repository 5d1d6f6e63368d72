package api

import (
	"context"

	"github.com/terra-clan/roadmap-engine/internal/models"
)

type clientContextKey struct{}

// ContextWithClient stores the authenticated API client on the context
func ContextWithClient(ctx context.Context, client *models.ApiClient) context.Context {
	return context.WithValue(ctx, clientContextKey{}, client)
}

// ClientFromContext returns the authenticated API client, or nil
func ClientFromContext(ctx context.Context) *models.ApiClient {
	client, _ := ctx.Value(clientContextKey{}).(*models.ApiClient)
	return client
}
