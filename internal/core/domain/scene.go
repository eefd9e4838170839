package domain

import "time"

type Scene struct {
	ID                 int64       `json:"id"` // serial
	Name               string      `json:"name"`
	OrderID            int64       `json:"order_id"`
	Category           string      `json:"category"` // landsat, modis, viirs, sentinel, plot
	Status             SceneStatus `json:"status"`
	ProcessingLocation string      `json:"processing_location"`
	JobName            string      `json:"job_name"`
	Note               string      `json:"note"`
	LogFileContents    string      `json:"log_file_contents"`
	RetryCount         int         `json:"retry_count"`
	RetryLimit         int         `json:"retry_limit"`
	RetryAfter         *time.Time  `json:"retry_after"` // nullable
	StatusModified     time.Time   `json:"status_modified"`
	CompletionDate     *time.Time  `json:"completion_date"` // nullable

	// completion artifacts
	ProductDistroLocation string `json:"product_distro_location"`
	ProductDownloadURL    string `json:"product_dload_url"`
	CksumDistroLocation   string `json:"cksum_distro_location"`
	CksumDownloadURL      string `json:"cksum_download_url"`
	DownloadSize          int64  `json:"download_size"`

	// set only for externally sourced orders
	RemoteUnitID *int64  `json:"remote_unit_id"` // nullable correlation id
	PendingPush  *string `json:"pending_push"`   // nullable remote status code awaiting delivery
}

// SceneUpdate carries the mutable fields for a bulk conditional update.
// Nil pointers mean "leave unchanged".
type SceneUpdate struct {
	Status             *SceneStatus
	ProcessingLocation *string
	JobName            *string
	Note               *string
	LogFileContents    *string
	RetryCount         *int
	RetryLimit         *int
	RetryAfter         *time.Time
	CompletionDate     *time.Time
	DownloadSize       *int64
	PendingPush        *string
	ClearPendingPush   bool
	ClearRetryAfter    bool

	ProductDistroLocation *string
	ProductDownloadURL    *string
	CksumDistroLocation   *string
	CksumDownloadURL      *string
}

// CancelUpdate is the cancellation finalizer applied to scenes whose order
// was cancelled out from under them: clear processing fields and stop.
func CancelUpdate() SceneUpdate {
	status := SceneCancelled
	empty := ""
	return SceneUpdate{
		Status:             &status,
		ProcessingLocation: &empty,
		JobName:            &empty,
		Note:               &empty,
		LogFileContents:    &empty,
		ClearRetryAfter:    true,
	}
}

// DefaultCategories lists the sensor families selected when a caller does
// not filter.
func DefaultCategories() []string {
	return []string{"landsat", "modis", "viirs", "sentinel"}
}
