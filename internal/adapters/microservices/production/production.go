package production

import (
	"context"
	"fmt"
	"time"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/internal/core/services"
	"sceneflow/internal/metrics"
	"sceneflow/pkg/config"
	"sceneflow/pkg/logger"
)

const purgeLockName = "orders_last_purged"

// Production drives every order and scene through its lifecycle. One call
// to HandleOrders is one full pass; each step is idempotent and a failure
// on any single order or scene never aborts the pass.
type Production struct {
	repo     ports.RepositoryInterface
	inv      ports.InventoryInterface
	cache    ports.CacheInterface
	notifier ports.NotifierInterface
	online   ports.OnlineCacheInterface
	resolver *services.Resolver
	cfg      config.Config
	logger   *logger.Logger
	now      func() time.Time
}

var _ ports.ProductionInterface = (*Production)(nil)

func NewProduction(
	repo ports.RepositoryInterface,
	inv ports.InventoryInterface,
	cache ports.CacheInterface,
	notifier ports.NotifierInterface,
	online ports.OnlineCacheInterface,
	resolver *services.Resolver,
	cfg config.Config,
	logger *logger.Logger,
) *Production {
	return &Production{
		repo:     repo,
		inv:      inv,
		cache:    cache,
		notifier: notifier,
		online:   online,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleOrders runs one pass over all pending work. Returns false when
// there was nothing to do.
func (p *Production) HandleOrders(ctx context.Context, submitter string) (bool, error) {
	metrics.ProductionPassesTotal.Inc()

	var user *domain.User
	if submitter != "" {
		u, err := p.repo.UserByUsername(ctx, submitter)
		if err != nil {
			return false, fmt.Errorf("handle orders: %w", err)
		}
		user = u
	}

	contactID := ""
	if user != nil {
		contactID = user.ContactID
	}
	if err := p.LoadRemoteOrders(ctx, contactID); err != nil {
		p.logger.Warn("", "load_remote_orders_failed", "Unable to pull remote orders this pass", err, nil)
	}

	filter := ports.OrderFilter{Status: domain.OrderOrdered}
	if user != nil {
		filter.UserID = &user.ID
	}
	pending, err := p.repo.OrdersWhere(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("handle orders: %w", err)
	}
	if len(pending) == 0 {
		p.logger.Info("", "no_pending_orders", "No pending orders found", nil)
		return false, nil
	}
	p.logger.Info("", "pass_started", "Handling pending orders", map[string]interface{}{"count": len(pending)})

	pendingIDs := make([]int64, len(pending))
	for i, o := range pending {
		pendingIDs[i] = o.ID
	}

	// 1. initial notices
	p.sendInitialNotices(ctx, pending)

	// 2. scenes still awaiting remote fulfillment
	if scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
		Statuses: []domain.SceneStatus{domain.SceneOnOrder},
		OrderIDs: pendingIDs, HasRemoteUnit: true,
	}); err != nil {
		p.logger.Error("", "onorder_query_failed", "Could not query onorder scenes", err, nil)
	} else {
		p.HandleOnOrderProducts(ctx, scenes)
	}

	// 3. stuck in-flight scenes
	stuckCutoff := p.cfg.StuckCutoff(p.now())
	if scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
		Statuses: domain.InFlightStatuses(), ModifiedBefore: &stuckCutoff,
	}); err != nil {
		p.logger.Error("", "stuck_query_failed", "Could not query stuck scenes", err, nil)
	} else {
		p.handleStuckJobs(ctx, scenes)
	}

	// 4. promote elapsed retries
	p.handleRetryProducts(ctx, pendingIDs)

	// 5. re-deliver failed remote pushes
	if scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
		HasPendingPush: true, OrderIDs: pendingIDs,
	}); err != nil {
		p.logger.Error("", "pending_push_query_failed", "Could not query pending pushes", err, nil)
	} else {
		p.HandleFailedPushes(ctx, scenes)
	}

	// 6. cancelled orders awaiting cleanup
	p.handleCancelledOrders(ctx, user)

	// 7. validate submitted scenes per category
	p.handleSubmittedScenes(ctx, pendingIDs)

	// 8. recompute missing download sizes
	p.calcSceneDownloadSizes(ctx, pendingIDs)

	// 9. finalize completed orders
	for i := range pending {
		if err := p.updateOrderIfComplete(ctx, &pending[i]); err != nil {
			p.logger.Error(pending[i].OrderID, "finalize_failed", "Could not finalize order", err, nil)
		}
	}

	// 10. purge behind the time-lock. The lock lives in the status store,
	// not process memory, so cron-spawned invocations contend on it too.
	if won, err := p.repo.ClaimLock(ctx, purgeLockName, p.now(), p.cfg.PurgeLockTTL()); err != nil {
		p.logger.Error("", "purge_lock_failed", "Could not claim purge lock", err, nil)
	} else if !won {
		p.logger.Info("", "purge_lock_armed", "Purge lock held by a recent invocation, skipping", nil)
	} else if err := p.PurgeOrders(ctx, true); err != nil {
		p.logger.Error("", "purge_failed", "Purge run failed", err, nil)
	}

	return true, nil
}

func (p *Production) sendInitialNotices(ctx context.Context, pending []domain.Order) {
	for _, order := range pending {
		if order.InitialNoticeSent != nil {
			continue
		}
		won, err := p.repo.SetOrderNoticeSent(ctx, order.ID, domain.NoticeInitial, p.now())
		if err != nil {
			p.logger.Error(order.OrderID, "initial_notice_failed", "Could not claim initial notice flag", err, nil)
			continue
		}
		if !won {
			continue
		}
		if err := p.notifier.SendInitial(ctx, order); err != nil {
			p.logger.Error(order.OrderID, "initial_notice_failed", "Could not send initial notice", err, nil)
		}
	}
}

// handleStuckJobs resets in-flight scenes the compute fleet silently
// dropped. They already passed the inventory check, so they go straight
// back to oncache with a fresh retry budget.
func (p *Production) handleStuckJobs(ctx context.Context, scenes []domain.Scene) {
	if len(scenes) == 0 {
		return
	}
	p.logger.Warn("", "stuck_scenes_found", "Found stuck in-flight scenes, resetting",
		nil, map[string]interface{}{"count": len(scenes)})

	status := domain.SceneOnCache
	empty := ""
	zero := 0
	n, err := p.repo.BulkUpdateScenes(ctx, sceneIDs(scenes), domain.InFlightStatuses(), domain.SceneUpdate{
		Status:          &status,
		LogFileContents: &empty,
		Note:            &empty,
		RetryCount:      &zero,
	})
	if err != nil {
		p.logger.Error("", "stuck_reset_failed", "Could not reset stuck scenes", err, nil)
		return
	}
	metrics.StuckScenesRecoveredTotal.Add(float64(n))
	metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneOnCache)).Add(float64(n))
}

// handleRetryProducts promotes scenes whose retry_after has elapsed.
func (p *Production) handleRetryProducts(ctx context.Context, pendingIDs []int64) {
	now := p.now()
	scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
		Statuses:    []domain.SceneStatus{domain.SceneRetry},
		RetryBefore: &now,
		OrderIDs:    pendingIDs,
	})
	if err != nil {
		p.logger.Error("", "retry_query_failed", "Could not query retry scenes", err, nil)
		return
	}
	if len(scenes) == 0 {
		return
	}

	status := domain.SceneSubmitted
	empty := ""
	n, err := p.repo.BulkUpdateScenes(ctx, sceneIDs(scenes),
		[]domain.SceneStatus{domain.SceneRetry},
		domain.SceneUpdate{Status: &status, Note: &empty})
	if err != nil {
		p.logger.Error("", "retry_promote_failed", "Could not promote retry scenes", err, nil)
		return
	}
	metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneSubmitted)).Add(float64(n))
}

// handleCancelledOrders reclaims cache space for cancelled orders once
// nothing is in flight, and sends the cancellation notice once.
func (p *Production) handleCancelledOrders(ctx context.Context, user *domain.User) {
	cutoff := p.cfg.PurgeCutoff(p.now())
	filter := ports.OrderFilter{
		Status:                 domain.OrderCancelled,
		CompletionNoticeUnsent: true,
		OrderedAfter:           &cutoff,
	}
	if user != nil {
		filter.UserID = &user.ID
	}

	orders, err := p.repo.OrdersWhere(ctx, filter)
	if err != nil {
		p.logger.Error("", "cancelled_query_failed", "Could not query cancelled orders", err, nil)
		return
	}

	for _, order := range orders {
		inFlight, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
			OrderIDs: []int64{order.ID},
			Statuses: domain.InFlightStatuses(),
		})
		if err != nil {
			p.logger.Error(order.OrderID, "cancelled_scene_query_failed", "Could not query cancelled order scenes", err, nil)
			continue
		}
		if len(inFlight) > 0 {
			p.logger.Warn(order.OrderID, "cancelled_order_busy", "Cancelled order has scenes processing, waiting to clean up",
				nil, map[string]interface{}{"in_flight": len(inFlight)})
			continue
		}

		if exists, err := p.online.Exists(ctx, order.OrderID); err != nil {
			p.logger.Warn(order.OrderID, "online_cache_check_failed", "Could not check online cache", err, nil)
		} else if exists {
			if err := p.online.Delete(ctx, order.OrderID); err != nil {
				p.logger.Error(order.OrderID, "online_cache_delete_failed", "Could not delete cancelled order from online cache", err, nil)
				continue
			}
		}

		won, err := p.repo.SetOrderNoticeSent(ctx, order.ID, domain.NoticeCancellation, p.now())
		if err != nil {
			p.logger.Error(order.OrderID, "cancellation_notice_failed", "Could not claim cancellation notice flag", err, nil)
			continue
		}
		if won && !order.External() {
			if err := p.notifier.SendCancellation(ctx, order); err != nil {
				p.logger.Error(order.OrderID, "cancellation_notice_failed", "Could not send cancellation notice", err, nil)
			}
		}
	}
}

// handleSubmittedScenes runs the per-category inventory validity check.
// Categories are handled independently so one slow dataset cannot stall
// the rest of the pass.
func (p *Production) handleSubmittedScenes(ctx context.Context, pendingIDs []int64) {
	scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
		Statuses: []domain.SceneStatus{domain.SceneSubmitted},
		OrderIDs: pendingIDs,
	})
	if err != nil {
		p.logger.Error("", "submitted_query_failed", "Could not query submitted scenes", err, nil)
		return
	}
	if len(scenes) == 0 {
		return
	}

	byCategory := make(map[string][]domain.Scene)
	for _, s := range scenes {
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}

	for category, batch := range byCategory {
		if category == "plot" {
			p.handleSubmittedPlotScenes(ctx, batch)
			continue
		}
		if len(batch) > p.cfg.Policy.SubmittedBatchCap {
			batch = batch[:p.cfg.Policy.SubmittedBatchCap]
		}
		p.handleSubmittedCategory(ctx, category, batch)
	}
}

func (p *Production) handleSubmittedCategory(ctx context.Context, category string, scenes []domain.Scene) {
	if !p.inv.Available(ctx) {
		p.logger.Warn("", "inventory_down", "Inventory system down, skipping submitted "+category+" scenes", nil, nil)
		return
	}

	names := make([]string, len(scenes))
	for i, s := range scenes {
		names[i] = s.Name
	}

	verified, err := p.inv.VerifyScenes(ctx, category, names)
	if err != nil {
		p.logger.Error("", "verify_failed", "Validity check failed for "+category, err, nil)
		return
	}

	var valid, invalid []domain.Scene
	for _, s := range scenes {
		if verified[s.Name] {
			valid = append(valid, s)
		} else {
			invalid = append(invalid, s)
		}
	}

	if len(valid) > 0 {
		status := domain.SceneOnCache
		empty := ""
		n, err := p.repo.BulkUpdateScenes(ctx, sceneIDs(valid),
			[]domain.SceneStatus{domain.SceneSubmitted},
			domain.SceneUpdate{Status: &status, Note: &empty})
		if err != nil {
			p.logger.Error("", "oncache_update_failed", "Could not move valid scenes to oncache", err, nil)
		} else {
			metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneOnCache)).Add(float64(n))
		}
	}
	if len(invalid) > 0 {
		if err := p.SetProductsUnavailable(ctx, invalid, "No longer found in the archive, please search again"); err != nil {
			p.logger.Error("", "unavailable_update_failed", "Could not mark invalid scenes unavailable", err, nil)
		}
	}
}

// handleSubmittedPlotScenes moves a plot scene to oncache once every other
// scene in its order is settled. Plotting runs over the finished rasters,
// so it must go last.
func (p *Production) handleSubmittedPlotScenes(ctx context.Context, plots []domain.Scene) {
	for _, plot := range plots {
		counts, err := p.repo.SceneStatusCounts(ctx, plot.OrderID)
		if err != nil {
			p.logger.Error("", "plot_count_failed", "Could not count scenes for plot order", err, nil)
			continue
		}
		total, complete, unavailable := 0, counts[domain.SceneComplete], counts[domain.SceneUnavailable]
		for _, n := range counts {
			total += n
		}
		if total-(complete+unavailable) != 1 {
			continue // rasters still running
		}

		upd := domain.SceneUpdate{}
		if complete == 0 {
			status := domain.SceneUnavailable
			note := "No input products were available for plotting and statistics"
			upd.Status, upd.Note = &status, &note
		} else {
			status := domain.SceneOnCache
			empty := ""
			upd.Status, upd.Note = &status, &empty
		}
		if _, err := p.repo.BulkUpdateScenes(ctx, []int64{plot.ID},
			[]domain.SceneStatus{domain.SceneSubmitted}, upd); err != nil {
			p.logger.Error("", "plot_update_failed", "Could not update plot scene", err, nil)
		}
	}
}

// calcSceneDownloadSizes backfills sizes for completions reported before
// the artifact was visible on the distribution cache.
func (p *Production) calcSceneDownloadSizes(ctx context.Context, pendingIDs []int64) {
	scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
		Statuses:         []domain.SceneStatus{domain.SceneComplete},
		OrderIDs:         pendingIDs,
		ZeroDownloadSize: true,
	})
	if err != nil {
		p.logger.Error("", "size_query_failed", "Could not query zero-size scenes", err, nil)
		return
	}

	for _, scene := range scenes {
		order, err := p.repo.FindOrderByID(ctx, scene.OrderID)
		if err != nil {
			p.logger.Error("", "size_order_lookup_failed", "Could not load order for size backfill", err, nil)
			continue
		}
		size, err := p.online.FileSize(ctx, order.OrderID, basename(scene.ProductDistroLocation))
		if err != nil {
			status := domain.SceneError
			note := "product download not found"
			if _, uerr := p.repo.BulkUpdateScenes(ctx, []int64{scene.ID},
				[]domain.SceneStatus{domain.SceneComplete},
				domain.SceneUpdate{Status: &status, Note: &note}); uerr != nil {
				p.logger.Error(order.OrderID, "size_error_update_failed", "Could not flag missing download", uerr, nil)
			}
			p.logger.Error(order.OrderID, "download_size_recalc_failed", "Completed product missing from online cache", err,
				map[string]interface{}{"scene": scene.Name})
			continue
		}
		if err := p.repo.UpdateScene(ctx, scene.ID, domain.SceneUpdate{DownloadSize: &size}); err != nil {
			p.logger.Error(order.OrderID, "size_update_failed", "Could not update download size", err, nil)
		}
	}
}

// updateOrderIfComplete finalizes an order once every scene is settled.
// Completion is always evaluated from the scenes, never cached; only the
// notice flag is one-shot.
func (p *Production) updateOrderIfComplete(ctx context.Context, order *domain.Order) error {
	unsettled, err := p.repo.UnsettledSceneCount(ctx, order.ID)
	if err != nil {
		return err
	}
	if unsettled > 0 {
		return nil
	}

	p.logger.Info(order.OrderID, "order_complete", "Completing order", nil)
	now := p.now()
	if err := p.repo.SetOrderStatus(ctx, order.ID, domain.OrderOrdered, domain.OrderComplete, &now); err != nil {
		return err
	}

	if order.External() {
		return nil // remote submitters are notified through status pushes
	}

	won, err := p.repo.SetOrderNoticeSent(ctx, order.ID, domain.NoticeCompletion, now)
	if err != nil {
		return err
	}
	if won {
		if err := p.notifier.SendCompletion(ctx, *order); err != nil {
			p.logger.Error(order.OrderID, "completion_notice_failed", "Could not send completion notice", err, nil)
		}
	}
	return nil
}

// ResetProcessingStatus sends every in-flight scene back to submitted.
// Operator tool for compute-fleet restarts.
func (p *Production) ResetProcessingStatus(ctx context.Context) (bool, error) {
	scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{Statuses: domain.InFlightStatuses()})
	if err != nil {
		return false, err
	}
	if len(scenes) == 0 {
		return false, nil
	}
	status := domain.SceneSubmitted
	_, err = p.repo.BulkUpdateScenes(ctx, sceneIDs(scenes), domain.InFlightStatuses(),
		domain.SceneUpdate{Status: &status})
	if err != nil {
		return false, err
	}
	return true, nil
}

func sceneIDs(scenes []domain.Scene) []int64 {
	ids := make([]int64, len(scenes))
	for i, s := range scenes {
		ids[i] = s.ID
	}
	return ids
}

func basename(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
