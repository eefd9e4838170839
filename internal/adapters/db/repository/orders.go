package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, order_id, user_id, email, order_source, status, priority,
note, product_opts, order_date, completion_date, initial_notice_sent,
completion_notice_sent, remote_order_id`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.OrderID, &o.UserID, &o.Email, &o.Source, &o.Status, &o.Priority,
		&o.Note, &o.ProductOpts, &o.OrderDate, &o.CompletionDate, &o.InitialNoticeSent,
		&o.CompletionNoticeSent, &o.RemoteOrderID,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) FindOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	sql := fmt.Sprintf(`SELECT %s FROM ordering_order WHERE order_id = $1`, orderColumns)
	order, err := scanOrder(r.Conn.QueryRow(ctx, sql, orderID))
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", orderID, err)
	}
	return order, nil
}

func (r *Repository) FindOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	sql := fmt.Sprintf(`SELECT %s FROM ordering_order WHERE id = $1`, orderColumns)
	order, err := scanOrder(r.Conn.QueryRow(ctx, sql, id))
	if err != nil {
		return nil, fmt.Errorf("order id %d: %w", id, err)
	}
	return order, nil
}

func (r *Repository) FindOrderByRemoteID(ctx context.Context, remoteOrderID string) (*domain.Order, error) {
	sql := fmt.Sprintf(`SELECT %s FROM ordering_order WHERE remote_order_id = $1`, orderColumns)
	order, err := scanOrder(r.Conn.QueryRow(ctx, sql, remoteOrderID))
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("order remote id %s: %w", remoteOrderID, err)
	}
	return order, nil
}

func (r *Repository) OrdersWhere(ctx context.Context, f ports.OrderFilter) ([]domain.Order, error) {
	where := []string{"true"}
	args := []interface{}{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.UserID != nil {
		where = append(where, "user_id = "+arg(*f.UserID))
	}
	if f.InitialNoticeUnsent {
		where = append(where, "initial_notice_sent IS NULL")
	}
	if f.CompletionNoticeUnsent {
		where = append(where, "completion_notice_sent IS NULL")
	}
	if f.CompletedBefore != nil {
		where = append(where, "completion_date < "+arg(*f.CompletedBefore))
	}
	if f.OrderedAfter != nil {
		where = append(where, "order_date > "+arg(*f.OrderedAfter))
	}

	sql := fmt.Sprintf("SELECT %s FROM ordering_order WHERE %s ORDER BY order_date",
		orderColumns, strings.Join(where, " AND "))

	rows, err := r.Conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("orders where: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("orders where: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (r *Repository) InsertOrder(ctx context.Context, order *domain.Order) error {
	const sql = `
INSERT INTO ordering_order
  (order_id, user_id, email, order_source, status, priority, note, product_opts, order_date, remote_order_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id`
	err := r.Conn.QueryRow(ctx, sql,
		order.OrderID, order.UserID, order.Email, order.Source, string(order.Status),
		order.Priority, order.Note, order.ProductOpts, order.OrderDate, order.RemoteOrderID,
	).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.OrderID, err)
	}
	return nil
}

// SetOrderStatus moves an order between statuses, guarded by the expected
// prior status so concurrent passes cannot double-apply.
func (r *Repository) SetOrderStatus(ctx context.Context, id int64, from, to domain.OrderStatus, completed *time.Time) error {
	const sql = `
UPDATE ordering_order
SET status = $1, completion_date = COALESCE($2, completion_date)
WHERE id = $3 AND status = $4`
	if _, err := r.Conn.Exec(ctx, sql, string(to), completed, id, string(from)); err != nil {
		return fmt.Errorf("set order %d status %s: %w", id, to, err)
	}
	return nil
}

func (r *Repository) SetOrderNoticeSent(ctx context.Context, id int64, kind string, at time.Time) (bool, error) {
	var column string
	switch kind {
	case domain.NoticeInitial:
		column = "initial_notice_sent"
	case domain.NoticeCompletion, domain.NoticeCancellation:
		column = "completion_notice_sent"
	default:
		return false, fmt.Errorf("unknown notice kind %q", kind)
	}

	// the IS NULL guard makes the flag one-shot across concurrent passes
	sql := fmt.Sprintf("UPDATE ordering_order SET %s = $1 WHERE id = $2 AND %s IS NULL", column, column)
	tag, err := r.Conn.Exec(ctx, sql, at, id)
	if err != nil {
		return false, fmt.Errorf("set order %d %s notice sent: %w", id, kind, err)
	}
	return tag.RowsAffected() == 1, nil
}
