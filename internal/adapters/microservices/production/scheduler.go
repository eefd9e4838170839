package production

import (
	"context"
	"fmt"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/internal/metrics"
)

// GetProductsToProcess selects the next batch of work for the compute
// fleet. Selection is fairness-ordered: submitters with the fewest scenes
// already running come first, FIFO within a submitter. Every candidate is
// re-verified against the archive at handoff, so a scene retired after
// passing the submitted check is caught here instead of failing on a
// worker.
func (p *Production) GetProductsToProcess(ctx context.Context, limit int, submitter, priority string, categories []string) ([]domain.ProductToProcess, error) {
	if len(categories) == 0 {
		categories = domain.DefaultCategories()
	}
	rows, err := p.repo.FairnessQueue(ctx, limit, submitter, priority, categories)
	if err != nil {
		return nil, fmt.Errorf("get products to process: %w", err)
	}
	if len(rows) == 0 {
		return []domain.ProductToProcess{}, nil
	}

	if !p.inv.Available(ctx) {
		p.logger.Warn("", "inventory_down", "Inventory system down, withholding work", nil, nil)
		return []domain.ProductToProcess{}, nil
	}

	byCategory := make(map[string][]domain.FairnessRow)
	for _, row := range rows {
		byCategory[row.Category] = append(byCategory[row.Category], row)
	}

	var products []domain.ProductToProcess
	for category, batch := range byCategory {
		if category == "plot" {
			// plot inputs are our own finished rasters, nothing to verify
			for _, row := range batch {
				products = append(products, handoff(row, ""))
			}
			continue
		}
		ready, err := p.verifyHandoffBatch(ctx, category, batch)
		if err != nil {
			p.logger.Error("", "handoff_verify_failed", "Could not verify "+category+" scenes for handoff", err, nil)
			continue
		}
		products = append(products, ready...)
	}

	metrics.ProductsHandedOffTotal.Add(float64(len(products)))
	return products, nil
}

// verifyHandoffBatch drops candidates whose source data vanished from the
// archive and resolves download locations for the rest.
func (p *Production) verifyHandoffBatch(ctx context.Context, category string, batch []domain.FairnessRow) ([]domain.ProductToProcess, error) {
	names := make([]string, len(batch))
	for i, row := range batch {
		names[i] = row.Name
	}

	verified, err := p.inv.VerifyScenes(ctx, category, names)
	if err != nil {
		return nil, err
	}

	var valid []domain.FairnessRow
	var gone []string
	for _, row := range batch {
		if verified[row.Name] {
			valid = append(valid, row)
		} else {
			gone = append(gone, row.Name)
		}
	}
	if len(gone) > 0 {
		p.retireHandoffScenes(ctx, gone)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	validNames := make([]string, len(valid))
	for i, row := range valid {
		validNames[i] = row.Name
	}
	urls, err := p.inv.DownloadURLs(ctx, category, validNames)
	if err != nil {
		return nil, err
	}

	var products []domain.ProductToProcess
	for _, row := range valid {
		url, ok := urls[row.Name]
		if !ok || url == "" {
			// no source data location this round, leave it oncache for the next ask
			p.logger.Warn(row.OrderID, "download_url_missing", "No download location returned for scene",
				nil, map[string]interface{}{"scene": row.Name})
			continue
		}
		products = append(products, handoff(row, url))
	}
	return products, nil
}

// retireHandoffScenes marks scenes whose source data disappeared between
// the submitted check and handoff.
func (p *Production) retireHandoffScenes(ctx context.Context, names []string) {
	scenes, err := p.repo.ScenesWhere(ctx, ports.SceneFilter{
		Names:    names,
		Statuses: []domain.SceneStatus{domain.SceneOnCache},
	})
	if err != nil {
		p.logger.Error("", "retire_query_failed", "Could not query vanished scenes", err, nil)
		return
	}
	if err := p.SetProductsUnavailable(ctx, scenes, "Scene is no longer available in the archive"); err != nil {
		p.logger.Error("", "retire_update_failed", "Could not retire vanished scenes", err, nil)
	}
}

func handoff(row domain.FairnessRow, url string) domain.ProductToProcess {
	return domain.ProductToProcess{
		OrderID:     row.OrderID,
		Category:    row.Category,
		Scene:       row.Name,
		Priority:    row.Priority,
		Options:     row.Options,
		DownloadURL: url,
	}
}
