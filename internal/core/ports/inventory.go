package ports

import (
	"context"
	"time"

	"sceneflow/internal/core/domain"
)

// InventoryInterface is the client boundary to the remote holding/ordering
// system. Every operation is independently failable; implementations hold
// the session token internally (cached with a TTL) so callers never manage
// credentials.
type InventoryInterface interface {
	Available(ctx context.Context) bool
	Login(ctx context.Context) (string, error)
	Logout(ctx context.Context) error

	// VerifyScenes reports, per id, whether the source data still exists in
	// the archive. Scoped per category so one slow dataset does not block
	// the others.
	VerifyScenes(ctx context.Context, category string, ids []string) (map[string]bool, error)
	DownloadURLs(ctx context.Context, category string, ids []string) (map[string]string, error)
	Search(ctx context.Context, category string, start, end time.Time, path, row int) ([]string, error)

	UpdateOrderStatus(ctx context.Context, remoteOrderID string, unitID int64, statusCode string) error
	GetAvailableOrders(ctx context.Context, contactID string) ([]domain.RemoteOrder, error)
	GetOrderStatus(ctx context.Context, remoteOrderID string) (*domain.RemoteOrder, error)
	GetUserDetails(ctx context.Context, contactID string) (username, email string, err error)
}
