package ports

import (
	"context"
	"time"

	"sceneflow/internal/core/domain"
)

// OrderFilter selects orders by predicate set. Zero values are skipped.
type OrderFilter struct {
	Status                 domain.OrderStatus
	UserID                 *int64
	InitialNoticeUnsent    bool
	CompletionNoticeUnsent bool
	CompletedBefore        *time.Time
	OrderedAfter           *time.Time
}

// SceneFilter selects scenes by predicate set. Zero values are skipped.
type SceneFilter struct {
	Statuses         []domain.SceneStatus
	OrderIDs         []int64
	Names            []string
	Categories       []string
	RetryBefore      *time.Time // retry_after <
	ModifiedBefore   *time.Time // status_modified <
	HasPendingPush   bool
	HasRemoteUnit    bool
	ZeroDownloadSize bool
}

type RepositoryInterface interface {
	// orders
	FindOrder(ctx context.Context, orderID string) (*domain.Order, error)
	FindOrderByID(ctx context.Context, id int64) (*domain.Order, error)
	FindOrderByRemoteID(ctx context.Context, remoteOrderID string) (*domain.Order, error)
	OrdersWhere(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	InsertOrder(ctx context.Context, order *domain.Order) error
	SetOrderStatus(ctx context.Context, id int64, from, to domain.OrderStatus, completed *time.Time) error
	// SetOrderNoticeSent flips the one-shot notice flag. It reports false
	// when another invocation already claimed it.
	SetOrderNoticeSent(ctx context.Context, id int64, kind string, at time.Time) (bool, error)

	// scenes
	SceneByNameOrder(ctx context.Context, name string, orderID int64) (*domain.Scene, error)
	ScenesWhere(ctx context.Context, f SceneFilter) ([]domain.Scene, error)
	InsertScenes(ctx context.Context, scenes []domain.Scene) error
	// BulkUpdateScenes applies upd to the listed scenes, but only rows still
	// in one of the expected statuses. Returns the number of rows changed.
	BulkUpdateScenes(ctx context.Context, ids []int64, expect []domain.SceneStatus, upd domain.SceneUpdate) (int64, error)
	UpdateScene(ctx context.Context, id int64, upd domain.SceneUpdate) error
	UnsettledSceneCount(ctx context.Context, orderID int64) (int, error)
	SceneStatusCounts(ctx context.Context, orderID int64) (map[domain.SceneStatus]int, error)

	// fairness work-selection queue (raw joined query)
	FairnessQueue(ctx context.Context, limit int, submitter, priority string, categories []string) ([]domain.FairnessRow, error)

	// ClaimLock atomically claims a named time-lock shared by every
	// invocation, cron-spawned or long-lived. The claim succeeds when no
	// invocation holds the lock or the previous claim is at least ttl old.
	ClaimLock(ctx context.Context, name string, at time.Time, ttl time.Duration) (bool, error)

	// users
	UserByUsername(ctx context.Context, username string) (*domain.User, error)
	UserByContactID(ctx context.Context, contactID string) (*domain.User, error)
	InsertUser(ctx context.Context, user *domain.User) error
}
