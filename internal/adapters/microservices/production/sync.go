package production

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/internal/metrics"
)

const pushFailureLogKey = "inventory.push.failing"

// pushRemoteStatus pushes a unit status for externally sourced orders.
// Failures are never retried inline: the scene's pending-push flag is set
// and step 5 of the pass delivers it later. Repeated failure logging is
// suppressed for a short window.
func (p *Production) pushRemoteStatus(ctx context.Context, scene *domain.Scene, order *domain.Order, code string) {
	if !order.External() || scene.RemoteUnitID == nil || order.RemoteOrderID == nil {
		return
	}

	err := p.inv.UpdateOrderStatus(ctx, *order.RemoteOrderID, *scene.RemoteUnitID, code)
	if err == nil {
		if scene.PendingPush != nil {
			if uerr := p.repo.UpdateScene(ctx, scene.ID, domain.SceneUpdate{ClearPendingPush: true}); uerr != nil {
				p.logger.Error(order.OrderID, "pending_push_clear_failed", "Could not clear pending push flag", uerr, nil)
			}
		}
		return
	}

	metrics.RemotePushFailuresTotal.Inc()
	if _, suppressed := p.cache.Get(pushFailureLogKey); !suppressed {
		p.logger.Warn(order.OrderID, "remote_push_failed", "Could not push unit status to inventory system, deferring",
			err, map[string]interface{}{"scene": scene.Name, "status_code": code})
	}
	p.cache.Set(pushFailureLogKey, p.now().UTC().Format(time.RFC3339), 10*time.Minute)

	if uerr := p.repo.UpdateScene(ctx, scene.ID, domain.SceneUpdate{PendingPush: &code}); uerr != nil {
		p.logger.Error(order.OrderID, "pending_push_flag_failed", "Could not record pending push", uerr, nil)
	}
}

// HandleFailedPushes re-delivers status pushes that previously failed.
// Still-failing pushes stay flagged and are reported for operators rather
// than retried unboundedly here.
func (p *Production) HandleFailedPushes(ctx context.Context, scenes []domain.Scene) {
	if len(scenes) == 0 {
		return
	}
	p.logger.Warn("", "pending_pushes_found", "Re-delivering failed inventory status pushes",
		nil, map[string]interface{}{"count": len(scenes)})

	for i := range scenes {
		scene := &scenes[i]
		if scene.PendingPush == nil || scene.RemoteUnitID == nil {
			continue
		}
		order, err := p.repo.FindOrderByID(ctx, scene.OrderID)
		if err != nil {
			p.logger.Error("", "pending_push_order_lookup_failed", "Could not load order for pending push", err, nil)
			continue
		}
		if order.RemoteOrderID == nil {
			continue
		}
		if err := p.inv.UpdateOrderStatus(ctx, *order.RemoteOrderID, *scene.RemoteUnitID, *scene.PendingPush); err != nil {
			// still down, it will be tried again next pass
			metrics.RemotePushFailuresTotal.Inc()
			p.logger.Warn(order.OrderID, "pending_push_retry_failed", "Pending push failed again",
				err, map[string]interface{}{"scene": scene.Name})
			continue
		}
		if err := p.repo.UpdateScene(ctx, scene.ID, domain.SceneUpdate{ClearPendingPush: true}); err != nil {
			p.logger.Error(order.OrderID, "pending_push_clear_failed", "Could not clear pending push flag", err, nil)
		}
	}
}

// LoadRemoteOrders pulls externally placed orders into the local store.
// Orders and scenes are de-duplicated by remote correlation ids, so
// re-pulling is safe.
func (p *Production) LoadRemoteOrders(ctx context.Context, contactID string) error {
	if !p.inv.Available(ctx) {
		p.logger.Warn("", "inventory_down", "Inventory system down, skipping remote order pull", nil, nil)
		return nil
	}

	remoteOrders, err := p.inv.GetAvailableOrders(ctx, contactID)
	if err != nil {
		return fmt.Errorf("load remote orders: %w", err)
	}
	p.logger.Info("", "remote_orders_pulled", "Pulled remote orders", map[string]interface{}{"count": len(remoteOrders)})

	for _, remote := range remoteOrders {
		existing, err := p.repo.FindOrderByRemoteID(ctx, remote.OrderNumber)
		if err == nil {
			p.UpdateRemoteOrders(ctx, remote.Units, existing)
			continue
		}
		if err != pgx.ErrNoRows {
			p.logger.Error("", "remote_order_lookup_failed", "Could not look up remote order", err,
				map[string]interface{}{"remote_order": remote.OrderNumber})
			continue
		}

		order, err := p.createRemoteOrder(ctx, remote)
		if err != nil {
			p.logger.Error("", "remote_order_create_failed", "Could not create order from remote pull", err,
				map[string]interface{}{"remote_order": remote.OrderNumber})
			continue
		}
		if err := p.loadRemoteScenes(ctx, remote.Units, order.ID); err != nil {
			p.logger.Error(order.OrderID, "remote_scene_load_failed", "Could not load remote scenes", err, nil)
			continue
		}
		p.UpdateRemoteOrders(ctx, remote.Units, order)
	}
	return nil
}

// createRemoteOrder builds the local order and, when needed, the local
// submitter record for an externally placed order.
func (p *Production) createRemoteOrder(ctx context.Context, remote domain.RemoteOrder) (*domain.Order, error) {
	user, err := p.repo.UserByContactID(ctx, remote.ContactID)
	if err == pgx.ErrNoRows {
		username, email, derr := p.inv.GetUserDetails(ctx, remote.ContactID)
		if derr != nil {
			return nil, fmt.Errorf("resolve remote submitter %s: %w", remote.ContactID, derr)
		}
		user = &domain.User{Username: username, Email: email, ContactID: remote.ContactID}
		if ierr := p.repo.InsertUser(ctx, user); ierr != nil {
			return nil, ierr
		}
		p.logger.Debug("", "remote_user_created", "Created submitter from remote contact", map[string]interface{}{
			"username": username, "contact_id": remote.ContactID,
		})
	} else if err != nil {
		return nil, err
	}

	remoteNum := remote.OrderNumber
	order := &domain.Order{
		OrderID:       domain.GenerateRemoteOrderID(user.Email, remote.OrderNumber),
		UserID:        user.ID,
		Email:         user.Email,
		Source:        domain.SourceExternal,
		Status:        domain.OrderOrdered,
		Priority:      "normal",
		Note:          fmt.Sprintf("remote order id: %s", remote.OrderNumber),
		OrderDate:     p.now(),
		RemoteOrderID: &remoteNum,
	}
	if err := p.repo.InsertOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// loadRemoteScenes inserts the remote units as local scenes. Remote
// orders arrive pre-verified, so units go straight to oncache.
func (p *Production) loadRemoteScenes(ctx context.Context, units []domain.RemoteUnit, orderID int64) error {
	scenes := make([]domain.Scene, 0, len(units))
	for _, unit := range units {
		unitNum := unit.UnitNumber
		scenes = append(scenes, domain.Scene{
			Name:         unit.ID,
			OrderID:      orderID,
			Category:     categoryFor(unit.ID),
			Status:       domain.SceneOnCache,
			RetryLimit:   p.cfg.Policy.RetryLimit,
			RemoteUnitID: &unitNum,
		})
	}
	return p.repo.InsertScenes(ctx, scenes)
}

// UpdateRemoteOrders pushes the current status of each unit back to the
// inventory system, and backfills units that were missed on the initial
// pull.
func (p *Production) UpdateRemoteOrders(ctx context.Context, units []domain.RemoteUnit, order *domain.Order) {
	scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
		OrderIDs: []int64{order.ID}, HasRemoteUnit: true,
	})
	if err != nil {
		p.logger.Error(order.OrderID, "remote_scene_query_failed", "Could not query scenes for remote order", err, nil)
		return
	}
	byUnit := make(map[int64]*domain.Scene, len(scenes))
	for i := range scenes {
		byUnit[*scenes[i].RemoteUnitID] = &scenes[i]
	}

	var missing []domain.RemoteUnit
	for _, unit := range units {
		scene, ok := byUnit[unit.UnitNumber]
		if !ok {
			missing = append(missing, unit)
			continue
		}

		var code string
		switch scene.Status {
		case domain.SceneComplete:
			code = domain.RemoteStatusComplete
		case domain.SceneUnavailable, domain.SceneCancelled:
			code = domain.RemoteStatusRejected
		default:
			continue // no need to push in-progress units
		}
		p.pushRemoteStatus(ctx, scene, order, code)
	}

	if len(missing) > 0 {
		// units missed on the first pull, add them now
		p.logger.Warn(order.OrderID, "remote_units_missing", "Backfilling units missed on initial pull",
			nil, map[string]interface{}{"count": len(missing)})
		if err := p.loadRemoteScenes(ctx, missing, order.ID); err != nil {
			p.logger.Error(order.OrderID, "remote_scene_backfill_failed", "Could not backfill remote scenes", err, nil)
		}
	}
}

// HandleOnOrderProducts reconciles scenes still awaiting remote
// fulfillment by polling the remote order status. Remote ids sort like
// timestamps, so polling oldest-first approximates their FIFO.
func (p *Production) HandleOnOrderProducts(ctx context.Context, scenes []domain.Scene) {
	if len(scenes) == 0 {
		return
	}
	if !p.inv.Available(ctx) {
		p.logger.Warn("", "inventory_down", "Inventory system down, skipping onorder reconciliation", nil, nil)
		return
	}

	remoteIDs := make(map[string]bool)
	for _, s := range scenes {
		order, err := p.repo.FindOrderByID(ctx, s.OrderID)
		if err != nil || order.RemoteOrderID == nil {
			continue
		}
		remoteIDs[*order.RemoteOrderID] = true
	}
	sorted := make([]string, 0, len(remoteIDs))
	for id := range remoteIDs {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	if len(sorted) > p.cfg.Policy.OnOrderPollLimit {
		sorted = sorted[:p.cfg.Policy.OnOrderPollLimit]
	}

	var rejected, available []string
	for _, remoteID := range sorted {
		status, err := p.inv.GetOrderStatus(ctx, remoteID)
		if err != nil {
			p.logger.Warn("", "remote_status_poll_failed", "Could not poll remote order status",
				err, map[string]interface{}{"remote_order": remoteID})
			continue
		}
		// only R and C matter here; duplicates flip to C when the first
		// copy completes, and everything else is still in progress
		for _, unit := range status.Units {
			switch unit.StatusCode {
			case domain.RemoteStatusRejected:
				rejected = append(rejected, unit.ID)
			case domain.RemoteStatusComplete:
				available = append(available, unit.ID)
			}
		}
	}

	if len(rejected) > 0 {
		if err := p.SetProductsUnavailable(ctx, scenesNamed(scenes, rejected),
			"Level 1 product could not be produced"); err != nil {
			p.logger.Error("", "onorder_reject_failed", "Could not mark rejected onorder scenes", err, nil)
		}
	}
	if ready := scenesNamed(scenes, available); len(ready) > 0 {
		status := domain.SceneOnCache
		empty := ""
		n, err := p.repo.BulkUpdateScenes(ctx, sceneIDs(ready),
			[]domain.SceneStatus{domain.SceneOnOrder},
			domain.SceneUpdate{Status: &status, Note: &empty})
		if err != nil {
			p.logger.Error("", "onorder_promote_failed", "Could not promote fulfilled onorder scenes", err, nil)
			return
		}
		metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneOnCache)).Add(float64(n))
	}
}

// categoryFor classifies a scene id into its sensor family by prefix.
func categoryFor(name string) string {
	switch {
	case strings.HasPrefix(name, "MOD"), strings.HasPrefix(name, "MYD"):
		return "modis"
	case strings.HasPrefix(name, "VNP"):
		return "viirs"
	case strings.HasPrefix(name, "S2"), strings.HasPrefix(name, "L1C"):
		return "sentinel"
	default:
		return "landsat"
	}
}

func scenesNamed(scenes []domain.Scene, names []string) []domain.Scene {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}
	var out []domain.Scene
	for _, s := range scenes {
		if wanted[s.Name] {
			out = append(out, s)
		}
	}
	return out
}
