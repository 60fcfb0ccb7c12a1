package resolver

import (
	"context"
	"errors"

	"hlsrelay/core/credential"
	"hlsrelay/core/upstream"
	"hlsrelay/logger"
)

// StreamResolver is the provider call used to turn a stream locator into a manifest URL.
type StreamResolver interface {
	ResolveStreamURL(ctx context.Context, locator, clientID string) (string, error)
}

// PoolResolver 从凭证池选取 client_id 调用上游，并回报结果
type PoolResolver struct {
	client StreamResolver
	pool   *credential.Pool
}

func NewPoolResolver(client StreamResolver, pool *credential.Pool) *PoolResolver {
	return &PoolResolver{client: client, pool: pool}
}

// ResolveManifestURL implements manifest.Resolver.
// Only a rejection by the provider marks the credential unhealthy.
func (r *PoolResolver) ResolveManifestURL(ctx context.Context, locator string) (string, error) {
	h, err := r.pool.Select()
	if err != nil {
		return "", err
	}

	manifestURL, err := r.client.ResolveStreamURL(ctx, locator, h.ID)
	switch {
	case errors.Is(err, upstream.ErrCredentialRejected):
		r.pool.ReportOutcome(h, false)
		return "", err
	case err != nil:
		logger.Debug("解析流地址失败", logger.String("locator", locator), logger.ErrorField(err))
		return "", err
	}

	r.pool.ReportOutcome(h, true)
	return manifestURL, nil
}
