package production

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sceneflow/internal/adapters/cache"
	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/services"
	"sceneflow/pkg/logger"
)

func (h *testHarness) addPendingOrder(orderID string) *domain.Order {
	return h.repo.addOrder(domain.Order{
		OrderID:   orderID,
		Email:     "user@host.gov",
		Source:    domain.SourceInternal,
		Status:    domain.OrderOrdered,
		Priority:  "normal",
		OrderDate: h.clock.Add(-time.Hour),
	})
}

func TestHandleOrdersNoPending(t *testing.T) {
	h := newHarness()

	handled, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestInitialNoticeSentOnce(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneOnCache})

	for i := 0; i < 3; i++ {
		_, err := h.p.HandleOrders(context.Background(), "")
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"order-1"}, h.notifier.initial, "initial notice must be one-shot")
	assert.NotNil(t, h.repo.order(order.ID).InitialNoticeSent)
}

func TestStuckJobRecovery(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	stale := h.repo.addScene(domain.Scene{
		Name: "LC08_A", OrderID: order.ID, Category: "landsat",
		Status:         domain.SceneProcessing,
		StatusModified: h.clock.Add(-7 * time.Hour),
		RetryCount:     3,
	})
	fresh := h.repo.addScene(domain.Scene{
		Name: "LC08_B", OrderID: order.ID, Category: "landsat",
		Status:         domain.SceneProcessing,
		StatusModified: h.clock.Add(-time.Hour),
	})

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	got := h.repo.scene(stale.ID)
	assert.Equal(t, domain.SceneOnCache, got.Status)
	assert.Equal(t, 0, got.RetryCount, "recovery grants a fresh retry budget")
	assert.Equal(t, domain.SceneProcessing, h.repo.scene(fresh.ID).Status, "recent in-flight work is left alone")
}

func TestRetryPromotionFlowsThroughValidation(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	after := h.clock.Add(-time.Minute)
	scene := h.repo.addScene(domain.Scene{
		Name: "LC08_A", OrderID: order.ID, Category: "landsat",
		Status: domain.SceneRetry, RetryAfter: &after, Note: "network error, retrying",
	})
	h.inv.verified["LC08_A"] = true

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	got := h.repo.scene(scene.ID)
	assert.Equal(t, domain.SceneOnCache, got.Status, "promoted to submitted and validated in the same pass")
	assert.Empty(t, got.Note)
}

func TestRetryNotYetElapsed(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	after := h.clock.Add(time.Hour)
	scene := h.repo.addScene(domain.Scene{
		Name: "LC08_A", OrderID: order.ID, Category: "landsat",
		Status: domain.SceneRetry, RetryAfter: &after,
	})

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.SceneRetry, h.repo.scene(scene.ID).Status)
}

func TestSubmittedValidationRejectsVanishedScene(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	good := h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneSubmitted})
	gone := h.repo.addScene(domain.Scene{Name: "LC08_B", OrderID: order.ID, Category: "landsat", Status: domain.SceneSubmitted})
	h.inv.verified["LC08_A"] = true

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.SceneOnCache, h.repo.scene(good.ID).Status)
	rejected := h.repo.scene(gone.ID)
	assert.Equal(t, domain.SceneUnavailable, rejected.Status)
	assert.NotEmpty(t, rejected.Note)
}

func TestSubmittedValidationSkippedWhenInventoryDown(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	scene := h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneSubmitted})
	h.inv.available = false

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.SceneSubmitted, h.repo.scene(scene.ID).Status, "nothing is rejected while the inventory is down")
}

func TestOrderCompletionNoticeOnce(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneComplete, DownloadSize: 10})
	h.repo.addScene(domain.Scene{Name: "LC08_B", OrderID: order.ID, Category: "landsat", Status: domain.SceneUnavailable})

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	got := h.repo.order(order.ID)
	assert.Equal(t, domain.OrderComplete, got.Status)
	require.NotNil(t, got.CompletionDate)
	assert.Equal(t, []string{"order-1"}, h.notifier.completion)

	// a second pass finds nothing pending and never re-sends
	handled, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Len(t, h.notifier.completion, 1)
}

func TestExternalOrderCompletesWithoutNotice(t *testing.T) {
	h := newHarness()
	remoteID := "0101707300234"
	order := h.repo.addOrder(domain.Order{
		OrderID: "jdoe@host.gov-0101707300234", Email: "jdoe@host.gov",
		Source: domain.SourceExternal, Status: domain.OrderOrdered,
		Priority: "normal", OrderDate: h.clock.Add(-time.Hour), RemoteOrderID: &remoteID,
	})
	h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneComplete, DownloadSize: 10})

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, domain.OrderComplete, h.repo.order(order.ID).Status)
	assert.Empty(t, h.notifier.completion, "remote submitters are notified through status pushes")
}

func TestCancelledOrderCleanup(t *testing.T) {
	h := newHarness()
	order := h.repo.addOrder(domain.Order{
		OrderID: "order-c", Email: "user@host.gov", Source: domain.SourceInternal,
		Status: domain.OrderCancelled, Priority: "normal", OrderDate: h.clock.Add(-time.Hour),
	})
	h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneCancelled})
	h.online.existing["order-c"] = true

	// a pending order is needed for the pass to run at all
	other := h.addPendingOrder("order-p")
	h.repo.addScene(domain.Scene{Name: "LC08_B", OrderID: other.ID, Category: "landsat", Status: domain.SceneOnCache})

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	assert.Contains(t, h.online.deleted, "order-c")
	assert.Equal(t, []string{"order-c"}, h.notifier.cancellation)

	// second pass: notice flag already claimed
	_, err = h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, h.notifier.cancellation, 1)
}

func TestCancelledOrderWaitsForInFlightScenes(t *testing.T) {
	h := newHarness()
	order := h.repo.addOrder(domain.Order{
		OrderID: "order-c", Email: "user@host.gov", Source: domain.SourceInternal,
		Status: domain.OrderCancelled, Priority: "normal", OrderDate: h.clock.Add(-time.Hour),
	})
	h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneProcessing})
	h.online.existing["order-c"] = true

	other := h.addPendingOrder("order-p")
	h.repo.addScene(domain.Scene{Name: "LC08_B", OrderID: other.ID, Category: "landsat", Status: domain.SceneOnCache})

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)

	assert.NotContains(t, h.online.deleted, "order-c", "cleanup must wait until nothing is in flight")
	assert.Empty(t, h.notifier.cancellation)
}

func TestPlotSceneWaitsForRasters(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	plot := h.repo.addScene(domain.Scene{Name: "plot", OrderID: order.ID, Category: "plot", Status: domain.SceneSubmitted})
	raster := h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneProcessing})

	p := h.p
	p.handleSubmittedPlotScenes(context.Background(), []domain.Scene{h.repo.scene(plot.ID)})
	assert.Equal(t, domain.SceneSubmitted, h.repo.scene(plot.ID).Status, "raster still running")

	status := domain.SceneComplete
	_, err := h.repo.BulkUpdateScenes(context.Background(), []int64{raster.ID}, nil, domain.SceneUpdate{Status: &status})
	require.NoError(t, err)

	p.handleSubmittedPlotScenes(context.Background(), []domain.Scene{h.repo.scene(plot.ID)})
	assert.Equal(t, domain.SceneOnCache, h.repo.scene(plot.ID).Status)
}

func TestPlotSceneUnavailableWithoutInputs(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	plot := h.repo.addScene(domain.Scene{Name: "plot", OrderID: order.ID, Category: "plot", Status: domain.SceneSubmitted})
	h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneUnavailable})

	h.p.handleSubmittedPlotScenes(context.Background(), []domain.Scene{h.repo.scene(plot.ID)})

	got := h.repo.scene(plot.ID)
	assert.Equal(t, domain.SceneUnavailable, got.Status)
	assert.NotEmpty(t, got.Note)
}

func TestDownloadSizeBackfill(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	scene := h.repo.addScene(domain.Scene{
		Name: "LC08_A", OrderID: order.ID, Category: "landsat",
		Status: domain.SceneComplete, ProductDistroLocation: "/cache/order-1/LC08_A.tar.gz",
	})
	h.online.sizes["order-1/LC08_A.tar.gz"] = 9999

	h.p.calcSceneDownloadSizes(context.Background(), []int64{order.ID})

	assert.Equal(t, int64(9999), h.repo.scene(scene.ID).DownloadSize)
}

func TestDownloadSizeBackfillMissingArtifact(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	scene := h.repo.addScene(domain.Scene{
		Name: "LC08_A", OrderID: order.ID, Category: "landsat",
		Status: domain.SceneComplete, ProductDistroLocation: "/cache/order-1/LC08_A.tar.gz",
	})

	h.p.calcSceneDownloadSizes(context.Background(), []int64{order.ID})

	got := h.repo.scene(scene.ID)
	assert.Equal(t, domain.SceneError, got.Status, "a complete scene without its artifact is flagged")
}

func TestPurgeTimeLock(t *testing.T) {
	h := newHarness()
	completed := h.clock.Add(-11 * 24 * time.Hour)
	expired := h.repo.addOrder(domain.Order{
		OrderID: "order-old", Email: "user@host.gov", Source: domain.SourceInternal,
		Status: domain.OrderComplete, Priority: "normal",
		OrderDate: completed.Add(-time.Hour), CompletionDate: &completed,
	})

	pending := h.addPendingOrder("order-p")
	h.repo.addScene(domain.Scene{Name: "LC08_B", OrderID: pending.ID, Category: "landsat", Status: domain.SceneOnCache})

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPurged, h.repo.order(expired.ID).Status)

	// a second expired order inside the lock window is left alone
	expired2 := h.repo.addOrder(domain.Order{
		OrderID: "order-old-2", Email: "user@host.gov", Source: domain.SourceInternal,
		Status: domain.OrderComplete, Priority: "normal",
		OrderDate: completed.Add(-time.Hour), CompletionDate: &completed,
	})
	h.advance(time.Hour)
	_, err = h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderComplete, h.repo.order(expired2.ID).Status, "lock still armed")

	// once the lock expires the next pass purges again
	h.advance(240 * time.Minute)
	_, err = h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPurged, h.repo.order(expired2.ID).Status)
}

func TestPurgeLockSharedAcrossInvocations(t *testing.T) {
	h := newHarness()
	completed := h.clock.Add(-11 * 24 * time.Hour)
	expired := h.repo.addOrder(domain.Order{
		OrderID: "order-old", Email: "user@host.gov", Source: domain.SourceInternal,
		Status: domain.OrderComplete, Priority: "normal",
		OrderDate: completed.Add(-time.Hour), CompletionDate: &completed,
	})

	pending := h.addPendingOrder("order-p")
	h.repo.addScene(domain.Scene{Name: "LC08_B", OrderID: pending.ID, Category: "landsat", Status: domain.SceneOnCache})

	// a second cron-spawned runner: same status store, its own fresh
	// process-local cache
	second := NewProduction(h.repo, h.inv, cache.NewMemoryWithClock(func() time.Time { return h.clock }),
		h.notifier, h.online, services.NewResolver(services.DefaultRules()), h.p.cfg, logger.NewLogger("test"))
	second.now = func() time.Time { return h.clock }

	_, err := h.p.HandleOrders(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, domain.OrderPurged, h.repo.order(expired.ID).Status)

	expired2 := h.repo.addOrder(domain.Order{
		OrderID: "order-old-2", Email: "user@host.gov", Source: domain.SourceInternal,
		Status: domain.OrderComplete, Priority: "normal",
		OrderDate: completed.Add(-time.Hour), CompletionDate: &completed,
	})
	h.advance(time.Minute)
	_, err = second.HandleOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderComplete, h.repo.order(expired2.ID).Status,
		"an invocation inside the lock window must skip the purge")
}

func TestResetProcessingStatus(t *testing.T) {
	h := newHarness()
	order := h.addPendingOrder("order-1")
	a := h.repo.addScene(domain.Scene{Name: "LC08_A", OrderID: order.ID, Category: "landsat", Status: domain.SceneProcessing})
	b := h.repo.addScene(domain.Scene{Name: "LC08_B", OrderID: order.ID, Category: "landsat", Status: domain.SceneTasked})
	c := h.repo.addScene(domain.Scene{Name: "LC08_C", OrderID: order.ID, Category: "landsat", Status: domain.SceneOnCache})

	reset, err := h.p.ResetProcessingStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, reset)

	assert.Equal(t, domain.SceneSubmitted, h.repo.scene(a.ID).Status)
	assert.Equal(t, domain.SceneSubmitted, h.repo.scene(b.ID).Status)
	assert.Equal(t, domain.SceneOnCache, h.repo.scene(c.ID).Status)

	reset, err = h.p.ResetProcessingStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, reset, "nothing left in flight")
}
