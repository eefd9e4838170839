package repository

import (
	"context"
	"fmt"
	"strings"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const sceneColumns = `id, name, order_id, category, status, processing_location,
job_name, note, log_file_contents, retry_count, retry_limit, retry_after,
status_modified, completion_date, product_distro_location, product_dload_url,
cksum_distro_location, cksum_download_url, download_size, remote_unit_id, pending_push`

func scanScene(row pgx.Row) (*domain.Scene, error) {
	var s domain.Scene
	err := row.Scan(
		&s.ID, &s.Name, &s.OrderID, &s.Category, &s.Status, &s.ProcessingLocation,
		&s.JobName, &s.Note, &s.LogFileContents, &s.RetryCount, &s.RetryLimit, &s.RetryAfter,
		&s.StatusModified, &s.CompletionDate, &s.ProductDistroLocation, &s.ProductDownloadURL,
		&s.CksumDistroLocation, &s.CksumDownloadURL, &s.DownloadSize, &s.RemoteUnitID, &s.PendingPush,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repository) SceneByNameOrder(ctx context.Context, name string, orderID int64) (*domain.Scene, error) {
	sql := fmt.Sprintf(`SELECT %s FROM ordering_scene WHERE name = $1 AND order_id = $2`, sceneColumns)
	scene, err := scanScene(r.Conn.QueryRow(ctx, sql, name, orderID))
	if err != nil {
		return nil, fmt.Errorf("scene %s of order %d: %w", name, orderID, err)
	}
	return scene, nil
}

func (r *Repository) ScenesWhere(ctx context.Context, f ports.SceneFilter) ([]domain.Scene, error) {
	where := []string{"true"}
	args := []interface{}{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.Statuses) > 0 {
		where = append(where, "status = ANY("+arg(statusStrings(f.Statuses))+")")
	}
	if len(f.OrderIDs) > 0 {
		where = append(where, "order_id = ANY("+arg(f.OrderIDs)+")")
	}
	if len(f.Names) > 0 {
		where = append(where, "name = ANY("+arg(f.Names)+")")
	}
	if len(f.Categories) > 0 {
		where = append(where, "category = ANY("+arg(f.Categories)+")")
	}
	if f.RetryBefore != nil {
		where = append(where, "retry_after < "+arg(*f.RetryBefore))
	}
	if f.ModifiedBefore != nil {
		where = append(where, "status_modified < "+arg(*f.ModifiedBefore))
	}
	if f.HasPendingPush {
		where = append(where, "pending_push IS NOT NULL")
	}
	if f.HasRemoteUnit {
		where = append(where, "remote_unit_id IS NOT NULL")
	}
	if f.ZeroDownloadSize {
		where = append(where, "download_size = 0")
	}

	sql := fmt.Sprintf("SELECT %s FROM ordering_scene WHERE %s ORDER BY id",
		sceneColumns, strings.Join(where, " AND "))

	rows, err := r.Conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("scenes where: %w", err)
	}
	defer rows.Close()

	var scenes []domain.Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scenes where: %w", err)
		}
		scenes = append(scenes, *s)
	}
	return scenes, rows.Err()
}

func (r *Repository) InsertScenes(ctx context.Context, scenes []domain.Scene) error {
	if len(scenes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const sql = `
INSERT INTO ordering_scene
  (name, order_id, category, status, note, retry_limit, remote_unit_id, status_modified)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())`
	for _, s := range scenes {
		batch.Queue(sql, s.Name, s.OrderID, s.Category, string(s.Status), s.Note, s.RetryLimit, s.RemoteUnitID)
	}

	results := r.Conn.SendBatch(ctx, batch)
	defer results.Close()
	for range scenes {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert scenes: %w", err)
		}
	}
	return nil
}

// BulkUpdateScenes is the system's only concurrency control: the update
// carries the expected prior statuses, so a transition only applies to
// rows still in that state.
func (r *Repository) BulkUpdateScenes(ctx context.Context, ids []int64, expect []domain.SceneStatus, upd domain.SceneUpdate) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	set, args := buildSceneSet(upd)
	if len(set) == 0 {
		return 0, nil
	}

	args = append(args, ids)
	where := fmt.Sprintf("id = ANY($%d)", len(args))
	if len(expect) > 0 {
		args = append(args, statusStrings(expect))
		where += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}

	sql := fmt.Sprintf("UPDATE ordering_scene SET %s WHERE %s", strings.Join(set, ", "), where)
	tag, err := r.Conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk update scenes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) UpdateScene(ctx context.Context, id int64, upd domain.SceneUpdate) error {
	set, args := buildSceneSet(upd)
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE ordering_scene SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := r.Conn.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update scene %d: %w", id, err)
	}
	return nil
}

func buildSceneSet(upd domain.SceneUpdate) ([]string, []interface{}) {
	var set []string
	var args []interface{}

	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Status != nil {
		add("status", string(*upd.Status))
		set = append(set, "status_modified = now()")
	}
	if upd.ProcessingLocation != nil {
		add("processing_location", *upd.ProcessingLocation)
	}
	if upd.JobName != nil {
		add("job_name", *upd.JobName)
	}
	if upd.Note != nil {
		add("note", *upd.Note)
	}
	if upd.LogFileContents != nil {
		add("log_file_contents", *upd.LogFileContents)
	}
	if upd.RetryCount != nil {
		add("retry_count", *upd.RetryCount)
	}
	if upd.RetryLimit != nil {
		add("retry_limit", *upd.RetryLimit)
	}
	if upd.RetryAfter != nil {
		add("retry_after", *upd.RetryAfter)
	} else if upd.ClearRetryAfter {
		set = append(set, "retry_after = NULL")
	}
	if upd.CompletionDate != nil {
		add("completion_date", *upd.CompletionDate)
	}
	if upd.DownloadSize != nil {
		add("download_size", *upd.DownloadSize)
	}
	if upd.PendingPush != nil {
		add("pending_push", *upd.PendingPush)
	} else if upd.ClearPendingPush {
		set = append(set, "pending_push = NULL")
	}
	if upd.ProductDistroLocation != nil {
		add("product_distro_location", *upd.ProductDistroLocation)
	}
	if upd.ProductDownloadURL != nil {
		add("product_dload_url", *upd.ProductDownloadURL)
	}
	if upd.CksumDistroLocation != nil {
		add("cksum_distro_location", *upd.CksumDistroLocation)
	}
	if upd.CksumDownloadURL != nil {
		add("cksum_download_url", *upd.CksumDownloadURL)
	}

	return set, args
}

func (r *Repository) UnsettledSceneCount(ctx context.Context, orderID int64) (int, error) {
	const sql = `
SELECT count(*) FROM ordering_scene
WHERE order_id = $1 AND status NOT IN ('complete', 'unavailable')`
	var count int
	if err := r.Conn.QueryRow(ctx, sql, orderID).Scan(&count); err != nil {
		return 0, fmt.Errorf("unsettled scene count for order %d: %w", orderID, err)
	}
	return count, nil
}

func (r *Repository) SceneStatusCounts(ctx context.Context, orderID int64) (map[domain.SceneStatus]int, error) {
	const sql = `SELECT status, count(*) FROM ordering_scene WHERE order_id = $1 GROUP BY status`
	rows, err := r.Conn.Query(ctx, sql, orderID)
	if err != nil {
		return nil, fmt.Errorf("scene status counts for order %d: %w", orderID, err)
	}
	defer rows.Close()

	counts := make(map[domain.SceneStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[domain.SceneStatus(status)] = count
	}
	return counts, rows.Err()
}

// FairnessQueue selects oncache scenes for handoff, least-loaded submitter
// first, FIFO by submission time within a submitter.
func (r *Repository) FairnessQueue(ctx context.Context, limit int, submitter, priority string, categories []string) ([]domain.FairnessRow, error) {
	sql := []string{
		`WITH order_queue AS`,
		`  (SELECT u.email "email", count(s.name) "running"`,
		`   FROM ordering_scene s`,
		`   JOIN ordering_order o ON o.id = s.order_id`,
		`   JOIN ordering_user u ON u.id = o.user_id`,
		`   WHERE s.status = ANY($1)`,
		`   GROUP BY u.email)`,
		`SELECT u.contact_id, s.name, s.category, o.order_id,`,
		`  o.product_opts, o.priority, o.order_date, COALESCE(q.running, 0)`,
		`FROM ordering_scene s`,
		`JOIN ordering_order o ON o.id = s.order_id`,
		`JOIN ordering_user u ON u.id = o.user_id`,
		`LEFT JOIN order_queue q ON q.email = u.email`,
		`WHERE o.status = 'ordered' AND s.status = 'oncache'`,
	}
	args := []interface{}{statusStrings(domain.RunningStatuses())}

	if len(categories) > 0 {
		args = append(args, categories)
		sql = append(sql, fmt.Sprintf("AND s.category = ANY($%d)", len(args)))
	}
	if submitter != "" {
		args = append(args, submitter)
		sql = append(sql, fmt.Sprintf("AND u.username = $%d", len(args)))
	}
	if priority != "" {
		args = append(args, priority)
		sql = append(sql, fmt.Sprintf("AND o.priority = $%d", len(args)))
	}

	sql = append(sql, "ORDER BY q.running ASC NULLS FIRST, o.order_date ASC")
	args = append(args, limit)
	sql = append(sql, fmt.Sprintf("LIMIT $%d", len(args)))

	rows, err := r.Conn.Query(ctx, strings.Join(sql, " "), args...)
	if err != nil {
		return nil, fmt.Errorf("fairness queue: %w", err)
	}
	defer rows.Close()

	var results []domain.FairnessRow
	for rows.Next() {
		var row domain.FairnessRow
		if err := rows.Scan(&row.ContactID, &row.Name, &row.Category, &row.OrderID,
			&row.Options, &row.Priority, &row.OrderDate, &row.Running); err != nil {
			return nil, fmt.Errorf("fairness queue: %w", err)
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

func statusStrings(statuses []domain.SceneStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
