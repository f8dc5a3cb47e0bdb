package cache

import (
	"context"
	"time"

	"warehouse/backend/internal/domain"
)

// TemplateCache holds template descriptors keyed by template id.
type TemplateCache interface {
	Get(ctx context.Context, id string) (*domain.ProductTemplate, bool, error)
	Set(ctx context.Context, tpl *domain.ProductTemplate, ttl time.Duration) error
	Invalidate(ctx context.Context, id string) error
}

type NoopTemplateCache struct{}

func (NoopTemplateCache) Get(_ context.Context, _ string) (*domain.ProductTemplate, bool, error) {
	return nil, false, nil
}

func (NoopTemplateCache) Set(_ context.Context, _ *domain.ProductTemplate, _ time.Duration) error {
	return nil
}

func (NoopTemplateCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func templateKey(id string) string {
	return "warehouse:template:" + id
}
