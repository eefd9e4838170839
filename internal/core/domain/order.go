package domain

import (
	"fmt"
	"strings"
	"time"
)

type Order struct {
	ID                   int64       `json:"id"` // serial
	OrderID              string      `json:"order_id"`
	UserID               int64       `json:"user_id"`
	Email                string      `json:"email"`
	Source               string      `json:"order_source"` // internal, external-inventory
	Status               OrderStatus `json:"status"`
	Priority             string      `json:"priority"`
	Note                 string      `json:"note"`
	ProductOpts          string      `json:"product_opts"` // raw json, opaque to the orchestrator
	OrderDate            time.Time   `json:"order_date"`
	CompletionDate       *time.Time  `json:"completion_date"`       // nullable
	InitialNoticeSent    *time.Time  `json:"initial_notice_sent"`   // nullable
	CompletionNoticeSent *time.Time  `json:"completion_notice_sent"` // nullable
	RemoteOrderID        *string     `json:"remote_order_id"`       // nullable, set on external orders
}

// External reports whether the order came through the inventory system and
// therefore carries remote status-push obligations.
func (o *Order) External() bool {
	return o.Source == SourceExternal
}

type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	ContactID string `json:"contact_id"`
}

// GenerateOrderID derives an order identifier from the submitter's email
// and the submission instant, e.g. "user@host.gov-010226153004".
func GenerateOrderID(email string, at time.Time) string {
	return fmt.Sprintf("%s-%s", email, at.Format("010206150405"))
}

// GenerateRemoteOrderID derives the local identifier for an order pulled
// from the inventory system, keyed by the remote order number so pulls
// de-duplicate naturally.
func GenerateRemoteOrderID(email, remoteOrderNumber string) string {
	return fmt.Sprintf("%s-%s", strings.ToLower(email), remoteOrderNumber)
}
