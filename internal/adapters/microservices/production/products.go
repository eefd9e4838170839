package production

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sceneflow/internal/adapters/onlinecache"
	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/internal/core/services"
	"sceneflow/internal/metrics"
)

// ErrCompletedScene guards a known compute-fleet race: tasks occasionally
// exit abnormally after processing finished, and the fleet then reports an
// error for a scene that is already complete. A completed scene is never
// downgraded.
var ErrCompletedScene = errors.New("attempted to set scene to error that was already marked complete")

// UpdateProduct dispatches one status report from the compute fleet.
func (p *Production) UpdateProduct(ctx context.Context, req ports.UpdateRequest) error {
	switch req.Action {
	case ports.ActionUpdateStatus:
		return p.UpdateStatus(ctx, req.Name, req.OrderID, req.ProcessingLocation, req.Status)
	case ports.ActionSetError:
		return p.SetProductError(ctx, req.Name, req.OrderID, req.ProcessingLocation, req.Error)
	case ports.ActionSetUnavailable:
		return p.SetProductUnavailable(ctx, req.Name, req.OrderID, req.ProcessingLocation, req.Error, req.Note)
	case ports.ActionMarkComplete:
		return p.MarkProductComplete(ctx, req.Name, req.OrderID, req.ProcessingLocation,
			req.CompletedFileLocation, req.CksumFileLocation, req.LogFileContents)
	default:
		return fmt.Errorf("%q is not an accepted action for update_product", req.Action)
	}
}

// UpdateStatus moves a scene along its ordinary lifecycle edges. Reports
// against a cancelled order or scene apply the cancellation finalizer
// instead.
func (p *Production) UpdateStatus(ctx context.Context, name, orderID, processingLoc string, status domain.SceneStatus) error {
	order, err := p.repo.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	scene, err := p.repo.SceneByNameOrder(ctx, name, order.ID)
	if err != nil {
		return err
	}

	if order.Status == domain.OrderCancelled || scene.Status == domain.SceneCancelled {
		return p.finalizeCancelled(ctx, scene)
	}

	if !domain.ValidSceneStatus(status) {
		return fmt.Errorf("unknown scene status %q", status)
	}
	if !domain.ValidTransition(scene.Status, status) {
		return fmt.Errorf("invalid transition %s -> %s for scene %s", scene.Status, status, name)
	}

	upd := domain.SceneUpdate{Status: &status}
	if processingLoc != "" {
		upd.ProcessingLocation = &processingLoc
	}
	if _, err := p.repo.BulkUpdateScenes(ctx, []int64{scene.ID},
		[]domain.SceneStatus{scene.Status}, upd); err != nil {
		return err
	}
	metrics.ScenesTransitionedTotal.WithLabelValues(string(status)).Inc()

	p.logger.Info(orderID, "scene_status_updated", "Scene status updated", map[string]interface{}{
		"scene": name, "status": string(status), "processing_location": processingLoc,
	})
	return nil
}

// MarkProductComplete records a finished product and its artifacts.
func (p *Production) MarkProductComplete(ctx context.Context, name, orderID, processingLoc,
	completedFileLocation, cksumFileLocation, logFileContents string) error {

	order, err := p.repo.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	scene, err := p.repo.SceneByNameOrder(ctx, name, order.ID)
	if err != nil {
		return err
	}

	productFile := basename(completedFileLocation)
	cksumFile := basename(cksumFileLocation)

	if order.Status == domain.OrderCancelled || scene.Status == domain.SceneCancelled {
		// the order went away mid-processing: drop the artifacts and finalize
		if err := p.online.DeleteFile(ctx, orderID, productFile); err != nil {
			p.logger.Warn(orderID, "cancelled_artifact_delete_failed", "Could not delete product file", err, nil)
		}
		if err := p.online.DeleteFile(ctx, orderID, cksumFile); err != nil {
			p.logger.Warn(orderID, "cancelled_artifact_delete_failed", "Could not delete cksum file", err, nil)
		}
		return p.finalizeCancelled(ctx, scene)
	}

	size, err := p.online.FileSize(ctx, orderID, productFile)
	if err != nil {
		// completion sometimes arrives before the artifact is visible;
		// step 8 of the pass backfills the size later
		if !errors.Is(err, onlinecache.ErrFileNotFound) {
			p.logger.Warn(orderID, "download_size_unavailable", "Could not stat completed product, marking zero for now", err,
				map[string]interface{}{"scene": name})
		}
		size = 0
	}

	status := domain.SceneComplete
	now := p.now()
	downloadURL := fmt.Sprintf("%s/orders/%s/%s", p.cfg.OnlineCache.DownloadURL, orderID, productFile)
	cksumURL := fmt.Sprintf("%s/orders/%s/%s", p.cfg.OnlineCache.DownloadURL, orderID, cksumFile)

	n, err := p.repo.BulkUpdateScenes(ctx, []int64{scene.ID},
		[]domain.SceneStatus{scene.Status},
		domain.SceneUpdate{
			Status:                &status,
			ProcessingLocation:    &processingLoc,
			LogFileContents:       &logFileContents,
			CompletionDate:        &now,
			DownloadSize:          &size,
			ProductDistroLocation: &completedFileLocation,
			ProductDownloadURL:    &downloadURL,
			CksumDistroLocation:   &cksumFileLocation,
			CksumDownloadURL:      &cksumURL,
		})
	if err != nil {
		return err
	}
	if n == 0 {
		p.logger.Warn(orderID, "stale_completion_report", "Scene changed status mid-report, completion not applied",
			nil, map[string]interface{}{"scene": name})
		return nil
	}
	metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneComplete)).Inc()

	p.pushRemoteStatus(ctx, scene, order, domain.RemoteStatusComplete)
	return nil
}

// SetProductUnavailable gives up on a scene with a user-facing reason.
func (p *Production) SetProductUnavailable(ctx context.Context, name, orderID, processingLoc, errText, note string) error {
	order, err := p.repo.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	scene, err := p.repo.SceneByNameOrder(ctx, name, order.ID)
	if err != nil {
		return err
	}
	if scene.Status == domain.SceneCancelled {
		return p.finalizeCancelled(ctx, scene)
	}

	status := domain.SceneUnavailable
	now := p.now()
	n, err := p.repo.BulkUpdateScenes(ctx, []int64{scene.ID},
		[]domain.SceneStatus{scene.Status},
		domain.SceneUpdate{
			Status:             &status,
			ProcessingLocation: &processingLoc,
			CompletionDate:     &now,
			LogFileContents:    &errText,
			Note:               &note,
		})
	if err != nil {
		return err
	}
	if n == 0 {
		p.logger.Warn(orderID, "stale_unavailable_report", "Scene changed status mid-report, rejection not applied",
			nil, map[string]interface{}{"scene": name})
		return nil
	}
	metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneUnavailable)).Inc()

	p.pushRemoteStatus(ctx, scene, order, domain.RemoteStatusRejected)
	return nil
}

// SetProductsUnavailable bulk-rejects scenes with one shared reason and
// pushes the rejection for externally sourced orders.
func (p *Production) SetProductsUnavailable(ctx context.Context, scenes []domain.Scene, reason string) error {
	if len(scenes) == 0 {
		return nil
	}

	status := domain.SceneUnavailable
	now := p.now()
	n, err := p.repo.BulkUpdateScenes(ctx, sceneIDs(scenes), nil, domain.SceneUpdate{
		Status:         &status,
		CompletionDate: &now,
		Note:           &reason,
	})
	if err != nil {
		return fmt.Errorf("set products unavailable: %w", err)
	}
	metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneUnavailable)).Add(float64(n))

	for i := range scenes {
		order, err := p.repo.FindOrderByID(ctx, scenes[i].OrderID)
		if err != nil {
			p.logger.Error("", "unavailable_order_lookup_failed", "Could not load order for rejection push", err, nil)
			continue
		}
		p.pushRemoteStatus(ctx, &scenes[i], order, domain.RemoteStatusRejected)
	}
	return nil
}

// SetProductError classifies a failure report through the retry/error
// policy and applies the resolution.
func (p *Production) SetProductError(ctx context.Context, name, orderID, processingLoc, errText string) error {
	order, err := p.repo.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	scene, err := p.repo.SceneByNameOrder(ctx, name, order.ID)
	if err != nil {
		return err
	}

	if scene.Status == domain.SceneComplete {
		p.logger.Error(orderID, "error_for_complete_scene", "Received error report for a complete scene",
			ErrCompletedScene, map[string]interface{}{"scene": name})
		return ErrCompletedScene
	}
	if scene.Status == domain.SceneCancelled {
		return p.finalizeCancelled(ctx, scene)
	}

	resolution := p.resolver.Resolve(errText, name)
	p.logger.Info(orderID, "error_resolved", "Classified failure signature", map[string]interface{}{
		"scene": name, "resolution": resolution.Kind.String(),
	})

	switch resolution.Kind {
	case services.Resubmit:
		status := domain.SceneSubmitted
		empty := ""
		_, err := p.repo.BulkUpdateScenes(ctx, []int64{scene.ID},
			[]domain.SceneStatus{scene.Status},
			domain.SceneUpdate{Status: &status, Note: &empty})
		return err

	case services.Unavailable:
		return p.SetProductUnavailable(ctx, name, orderID, processingLoc, errText, resolution.Reason)

	case services.Retry:
		err := p.SetProductRetry(ctx, name, orderID, processingLoc, errText, resolution.Reason,
			p.now().Add(resolution.RetryAfter), resolution.RetryLimit)
		if err == nil {
			return nil
		}
		if !services.IsRetryLimitError(err) {
			return err
		}
		p.logger.Warn(orderID, "retry_limit_exceeded", "Retry ceiling reached, escalating scene to error",
			err, map[string]interface{}{"scene": name})
		fallthrough

	default: // Escalate
		status := domain.SceneError
		_, err := p.repo.BulkUpdateScenes(ctx, []int64{scene.ID},
			[]domain.SceneStatus{scene.Status},
			domain.SceneUpdate{
				Status:             &status,
				ProcessingLocation: &processingLoc,
				LogFileContents:    &errText,
			})
		return err
	}
}

// SetProductRetry defers a scene for another attempt. Exceeding the retry
// ceiling is a hard error, not a silent clamp.
func (p *Production) SetProductRetry(ctx context.Context, name, orderID, processingLoc, errText, note string,
	retryAfter time.Time, retryLimit int) error {

	order, err := p.repo.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	scene, err := p.repo.SceneByNameOrder(ctx, name, order.ID)
	if err != nil {
		return err
	}

	limit := scene.RetryLimit
	if retryLimit > 0 {
		limit = retryLimit
	}
	count := scene.RetryCount + 1
	if count > limit {
		return &services.RetryLimitError{Scene: name, RetryCount: count, RetryLimit: limit}
	}

	status := domain.SceneRetry
	if _, err := p.repo.BulkUpdateScenes(ctx, []int64{scene.ID},
		[]domain.SceneStatus{scene.Status},
		domain.SceneUpdate{
			Status:             &status,
			RetryCount:         &count,
			RetryLimit:         &limit,
			RetryAfter:         &retryAfter,
			LogFileContents:    &errText,
			ProcessingLocation: &processingLoc,
			Note:               &note,
		}); err != nil {
		return err
	}
	metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneRetry)).Inc()
	return nil
}

// QueueProducts places products into queued status in bulk for handoff to
// the compute fleet.
func (p *Production) QueueProducts(ctx context.Context, items []domain.QueueItem, processingLocation, jobName string) error {
	byOrder := make(map[string][]string)
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item.Scene)
	}

	for orderID, names := range byOrder {
		order, err := p.repo.FindOrder(ctx, orderID)
		if err != nil {
			return err
		}
		scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
			OrderIDs: []int64{order.ID},
			Names:    names,
		})
		if err != nil {
			return err
		}

		status := domain.SceneQueued
		empty := ""
		n, err := p.repo.BulkUpdateScenes(ctx, sceneIDs(scenes),
			[]domain.SceneStatus{domain.SceneOnCache},
			domain.SceneUpdate{
				Status:             &status,
				ProcessingLocation: &processingLocation,
				JobName:            &jobName,
				LogFileContents:    &empty,
				Note:               &empty,
			})
		if err != nil {
			return err
		}
		metrics.ScenesTransitionedTotal.WithLabelValues(string(domain.SceneQueued)).Add(float64(n))
	}
	return nil
}

// finalizeCancelled applies the cancellation finalizer: clear processing
// fields and stop. Cancelled scenes never advance through ordinary edges.
func (p *Production) finalizeCancelled(ctx context.Context, scene *domain.Scene) error {
	_, err := p.repo.BulkUpdateScenes(ctx, []int64{scene.ID}, nil, domain.CancelUpdate())
	return err
}
