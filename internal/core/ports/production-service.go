package ports

import (
	"context"

	"sceneflow/internal/core/domain"
)

// UpdateProduct actions accepted from the compute fleet.
const (
	ActionUpdateStatus     = "update_status"
	ActionSetError         = "set_product_error"
	ActionSetUnavailable   = "set_product_unavailable"
	ActionMarkComplete     = "mark_product_complete"
)

// UpdateRequest is one status report from the compute fleet.
type UpdateRequest struct {
	Action                string             `json:"action"`
	Name                  string             `json:"name"`
	OrderID               string             `json:"orderid"`
	ProcessingLocation    string             `json:"processing_loc"`
	Status                domain.SceneStatus `json:"status"`
	Error                 string             `json:"error"`
	Note                  string             `json:"note"`
	CompletedFileLocation string             `json:"completed_file_location"`
	CksumFileLocation     string             `json:"cksum_file_location"`
	LogFileContents       string             `json:"log_file_contents"`
}

// ProductionInterface is the surface exposed upward to the API/CLI layer.
type ProductionInterface interface {
	HandleOrders(ctx context.Context, submitter string) (bool, error)
	GetProductsToProcess(ctx context.Context, limit int, submitter, priority string, categories []string) ([]domain.ProductToProcess, error)
	UpdateProduct(ctx context.Context, req UpdateRequest) error
	QueueProducts(ctx context.Context, items []domain.QueueItem, processingLocation, jobName string) error
	ResetProcessingStatus(ctx context.Context) (bool, error)
}
