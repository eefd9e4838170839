package ports

import (
	"context"

	"sceneflow/internal/core/domain"
)

// OnlineCacheInterface manages finished products on the distribution cache.
type OnlineCacheInterface interface {
	Exists(ctx context.Context, orderID string) (bool, error)
	Delete(ctx context.Context, orderID string) error
	DeleteFile(ctx context.Context, orderID, filename string) error
	FileSize(ctx context.Context, orderID, filename string) (int64, error)
	Capacity(ctx context.Context) (domain.Capacity, error)
}
