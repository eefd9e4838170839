package domain

import "time"

// ProductToProcess is one unit of work handed to the compute fleet.
type ProductToProcess struct {
	OrderID     string `json:"orderid"`
	Category    string `json:"product_type"`
	Scene       string `json:"scene"`
	Priority    string `json:"priority"`
	Options     string `json:"options"`
	DownloadURL string `json:"download_url"`
}

// QueueItem identifies one (order, scene) pair for bulk queueing.
type QueueItem struct {
	OrderID string `json:"orderid"`
	Scene   string `json:"scene"`
}

// FairnessRow is one row of the work-selection queue query: an oncache
// scene joined to its order and submitter, with the submitter's running
// scene count.
type FairnessRow struct {
	ContactID string    `json:"contact_id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	OrderID   string    `json:"orderid"`
	Options   string    `json:"product_opts"`
	Priority  string    `json:"priority"`
	OrderDate time.Time `json:"order_date"`
	Running   int       `json:"running"`
}

// RemoteUnit is one processable unit of a remote order.
type RemoteUnit struct {
	ID         string `json:"orderingId"`
	UnitNumber int64  `json:"unitNumber"`
	StatusCode string `json:"statusCode"`
}

// RemoteOrder is an order pulled from the inventory system.
type RemoteOrder struct {
	OrderNumber string       `json:"orderNumber"`
	ContactID   string       `json:"contactId"`
	Units       []RemoteUnit `json:"units"`
}

// Notice kinds published to the notification exchange.
const (
	NoticeInitial      = "initial"
	NoticeCompletion   = "completion"
	NoticeCancellation = "cancellation"
	NoticePurgeReport  = "purge_report"
)

// Notice is the message handed to the external mail relay.
type Notice struct {
	Kind      string    `json:"kind"`
	OrderID   string    `json:"order_id,omitempty"`
	Email     string    `json:"email,omitempty"`
	TimeStamp time.Time `json:"timestamp"`
	Extra     any       `json:"extra,omitempty"`
}

// PurgeReport summarizes one purge run for operators.
type PurgeReport struct {
	StartCapacity Capacity       `json:"start_capacity"`
	EndCapacity   Capacity       `json:"end_capacity"`
	Orders        map[string]int `json:"orders"` // order id -> scene count
}

// Capacity is a distribution-cache disk usage report.
type Capacity struct {
	TotalBytes int64  `json:"total_bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	FreeBytes  int64  `json:"free_bytes"`
	UsedPct    string `json:"used_pct"`
}
