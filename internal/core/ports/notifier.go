package ports

import (
	"context"

	"sceneflow/internal/core/domain"
)

// NotifierInterface publishes user-facing notices for the external mail
// relay to deliver. Notice formatting is out of scope here.
type NotifierInterface interface {
	SendInitial(ctx context.Context, order domain.Order) error
	SendCompletion(ctx context.Context, order domain.Order) error
	SendCancellation(ctx context.Context, order domain.Order) error
	SendPurgeReport(ctx context.Context, report domain.PurgeReport) error
}
