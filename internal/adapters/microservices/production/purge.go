package production

import (
	"context"
	"fmt"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/internal/metrics"
)

// PurgeOrders removes expired orders from the distribution cache and
// shrinks their scene rows to an audit trail. Each order is purged in
// isolation, so one failure never blocks reclaiming the rest.
func (p *Production) PurgeOrders(ctx context.Context, sendReport bool) error {
	report := domain.PurgeReport{Orders: make(map[string]int)}
	if capacity, err := p.online.Capacity(ctx); err != nil {
		p.logger.Warn("", "capacity_check_failed", "Could not read online cache capacity", err, nil)
	} else {
		report.StartCapacity = capacity
	}

	cutoff := p.cfg.PurgeCutoff(p.now())
	expired, err := p.repo.OrdersWhere(ctx, ports.OrderFilter{
		Status:          domain.OrderComplete,
		CompletedBefore: &cutoff,
	})
	if err != nil {
		return fmt.Errorf("purge orders: %w", err)
	}
	p.logger.Info("", "purge_started", "Purging expired orders", map[string]interface{}{
		"count": len(expired), "cutoff": cutoff,
	})

	for i := range expired {
		order := &expired[i]
		count, err := p.purgeOrder(ctx, order)
		if err != nil {
			p.logger.Error(order.OrderID, "purge_order_failed", "Could not purge order", err, nil)
			continue
		}
		metrics.OrdersPurgedTotal.Inc()
		report.Orders[order.OrderID] = count
	}

	if capacity, err := p.online.Capacity(ctx); err != nil {
		p.logger.Warn("", "capacity_check_failed", "Could not read online cache capacity", err, nil)
	} else {
		report.EndCapacity = capacity
		metrics.OnlineCacheFreeBytes.Set(float64(capacity.FreeBytes))
	}

	if sendReport && len(report.Orders) > 0 {
		if err := p.notifier.SendPurgeReport(ctx, report); err != nil {
			p.logger.Error("", "purge_report_failed", "Could not publish purge report", err, nil)
		}
	}
	return nil
}

// purgeOrder flips the order first so a crash mid-purge leaves it out of
// future expiry queries, then clears the scenes, then reclaims the cache.
func (p *Production) purgeOrder(ctx context.Context, order *domain.Order) (int, error) {
	if err := p.repo.SetOrderStatus(ctx, order.ID, domain.OrderComplete, domain.OrderPurged, nil); err != nil {
		return 0, err
	}

	scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{OrderIDs: []int64{order.ID}})
	if err != nil {
		return 0, err
	}
	status := domain.ScenePurged
	empty := ""
	if _, err := p.repo.BulkUpdateScenes(ctx, sceneIDs(scenes), nil, domain.SceneUpdate{
		Status:                &status,
		JobName:               &empty,
		Note:                  &empty,
		LogFileContents:       &empty,
		ProductDistroLocation: &empty,
		ProductDownloadURL:    &empty,
		CksumDistroLocation:   &empty,
		CksumDownloadURL:      &empty,
	}); err != nil {
		return 0, err
	}

	exists, err := p.online.Exists(ctx, order.OrderID)
	if err != nil {
		return 0, err
	}
	if exists {
		if err := p.online.Delete(ctx, order.OrderID); err != nil {
			return 0, err
		}
	}

	p.logger.Info(order.OrderID, "order_purged", "Purged expired order",
		map[string]interface{}{"scenes": len(scenes)})
	return len(scenes), nil
}
