package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists stock records, ledger entries and alerts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the engine.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, id string) (StockRecord, error)
	InsertRecord(ctx context.Context, rec StockRecord) error
	UpdateRecord(ctx context.Context, rec StockRecord) error
	InsertEntry(ctx context.Context, entry TransactionEntry) error
	OpenAlerts(ctx context.Context, recordID string) ([]Alert, error)
	InsertAlert(ctx context.Context, alert Alert) (bool, error)
	ResolveAlertsByType(ctx context.Context, recordID string, types []AlertType, resolvedBy string, at time.Time) error
}

type txRepository struct {
	tx pgx.Tx
}

const recordColumns = `id, item_name, category, unit, current_stock, minimum_stock, maximum_stock,
reorder_quantity, cost_per_unit, total_value, status, supplier, last_purchase_price,
last_purchase_date, last_restock_date, expiry_date, storage_location, is_active, created_at, updated_at`

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetRecord fetches a single record by id.
func (r *Repository) GetRecord(ctx context.Context, id string) (StockRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE id=$1`, id)
	return scanRecord(row)
}

// ListRecords returns records matching the filter plus the unpaged total.
func (r *Repository) ListRecords(ctx context.Context, filter RecordFilter) ([]StockRecord, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.ActiveOnly {
		where += ` AND is_active`
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.LowStockOnly {
		where += ` AND current_stock <= minimum_stock`
	}
	if filter.ExpiringWithinDays > 0 {
		args = append(args, filter.ExpiringWithinDays)
		where += ` AND expiry_date IS NOT NULL AND expiry_date <= NOW() + ($` + strconv.Itoa(len(args)) + ` * INTERVAL '1 day')`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + recordColumns + ` FROM stock_records` + where + ` ORDER BY item_name ASC, id ASC`
	if filter.PerPage > 0 {
		args = append(args, filter.PerPage)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		offset := 0
		if filter.Page > 1 {
			offset = (filter.Page - 1) * filter.PerPage
		}
		args = append(args, offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []StockRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListTransactions returns the newest-first ledger slice for a record.
func (r *Repository) ListTransactions(ctx context.Context, recordID string, limit int) ([]TransactionEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT id, record_id, tx_type, quantity, unit, cost_per_unit, total_cost,
stock_before, stock_after, reason, reference_number, supplier, actor, created_at
FROM stock_transactions WHERE record_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, recordID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []TransactionEntry{}
	for rows.Next() {
		var e TransactionEntry
		var reason, refNumber, supplier *string
		if err := rows.Scan(&e.ID, &e.RecordID, &e.Type, &e.Quantity, &e.Unit, &e.CostPerUnit, &e.TotalCost,
			&e.StockBefore, &e.StockAfter, &reason, &refNumber, &supplier, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = derefString(reason)
		e.ReferenceNumber = derefString(refNumber)
		e.Supplier = derefString(supplier)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListAlerts returns alerts matching the filter, newest first.
func (r *Repository) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.RecordID != "" {
		args = append(args, filter.RecordID)
		where += ` AND record_id = $` + strconv.Itoa(len(args))
	}
	if filter.Resolved != nil {
		args = append(args, *filter.Resolved)
		where += ` AND is_resolved = $` + strconv.Itoa(len(args))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, `SELECT id, record_id, alert_type, severity, message, current_value, threshold,
is_resolved, resolved_at, resolved_by, created_at
FROM stock_alerts`+where+` ORDER BY created_at DESC, id DESC LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// ResolveAlert marks one open alert as resolved. The guard on is_resolved
// makes the update a no-op for already-resolved alerts.
func (r *Repository) ResolveAlert(ctx context.Context, alertID, resolvedBy string, at time.Time) (Alert, error) {
	row := r.pool.QueryRow(ctx, `UPDATE stock_alerts
SET is_resolved = TRUE, resolved_at = $2, resolved_by = $3
WHERE id = $1 AND NOT is_resolved
RETURNING id, record_id, alert_type, severity, message, current_value, threshold, is_resolved, resolved_at, resolved_by, created_at`,
		alertID, at, resolvedBy)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Alert{}, ErrAlertNotFound
		}
		return Alert{}, err
	}
	return alert, nil
}

func (r *txRepository) GetRecordForUpdate(ctx context.Context, id string) (StockRecord, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM stock_records WHERE id=$1 FOR UPDATE`, id)
	return scanRecord(row)
}

func (r *txRepository) InsertRecord(ctx context.Context, rec StockRecord) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_records (`+recordColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		rec.ID, rec.ItemName, rec.Category, rec.Unit, rec.CurrentStock, rec.MinimumStock, rec.MaximumStock,
		rec.ReorderQuantity, rec.CostPerUnit, rec.TotalValue, string(rec.Status), nullString(rec.Supplier),
		rec.LastPurchasePrice, rec.LastPurchaseDate, rec.LastRestockDate, rec.ExpiryDate,
		nullString(rec.StorageLocation), rec.IsActive, rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (r *txRepository) UpdateRecord(ctx context.Context, rec StockRecord) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_records SET item_name=$2, category=$3, unit=$4, current_stock=$5,
minimum_stock=$6, maximum_stock=$7, reorder_quantity=$8, cost_per_unit=$9, total_value=$10, status=$11,
supplier=$12, last_purchase_price=$13, last_purchase_date=$14, last_restock_date=$15, expiry_date=$16,
storage_location=$17, is_active=$18, updated_at=$19 WHERE id=$1`,
		rec.ID, rec.ItemName, rec.Category, rec.Unit, rec.CurrentStock,
		rec.MinimumStock, rec.MaximumStock, rec.ReorderQuantity, rec.CostPerUnit, rec.TotalValue, string(rec.Status),
		nullString(rec.Supplier), rec.LastPurchasePrice, rec.LastPurchaseDate, rec.LastRestockDate, rec.ExpiryDate,
		nullString(rec.StorageLocation), rec.IsActive, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry TransactionEntry) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_transactions (id, record_id, tx_type, quantity, unit, cost_per_unit,
total_cost, stock_before, stock_after, reason, reference_number, supplier, actor, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		entry.ID, entry.RecordID, string(entry.Type), entry.Quantity, entry.Unit, entry.CostPerUnit,
		entry.TotalCost, entry.StockBefore, entry.StockAfter, nullString(entry.Reason),
		nullString(entry.ReferenceNumber), nullString(entry.Supplier), entry.Actor, entry.CreatedAt)
	return err
}

func (r *txRepository) OpenAlerts(ctx context.Context, recordID string) ([]Alert, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, record_id, alert_type, severity, message, current_value, threshold,
is_resolved, resolved_at, resolved_by, created_at
FROM stock_alerts WHERE record_id=$1 AND NOT is_resolved`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// InsertAlert adds an open alert. The partial unique index on
// (record_id, alert_type) WHERE NOT is_resolved absorbs concurrent inserts;
// ON CONFLICT DO NOTHING reports those as inserted=false.
func (r *txRepository) InsertAlert(ctx context.Context, alert Alert) (bool, error) {
	tag, err := r.tx.Exec(ctx, `INSERT INTO stock_alerts (id, record_id, alert_type, severity, message,
current_value, threshold, is_resolved, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,$8)
ON CONFLICT (record_id, alert_type) WHERE NOT is_resolved DO NOTHING`,
		alert.ID, alert.RecordID, string(alert.Type), string(alert.Severity), alert.Message,
		alert.CurrentValue, alert.Threshold, alert.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *txRepository) ResolveAlertsByType(ctx context.Context, recordID string, types []AlertType, resolvedBy string, at time.Time) error {
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	_, err := r.tx.Exec(ctx, `UPDATE stock_alerts SET is_resolved = TRUE, resolved_at = $3, resolved_by = $4
WHERE record_id = $1 AND alert_type = ANY($2) AND NOT is_resolved`, recordID, names, at, resolvedBy)
	return err
}

func scanRecord(row pgx.Row) (StockRecord, error) {
	var rec StockRecord
	var category, supplier, location *string
	err := row.Scan(&rec.ID, &rec.ItemName, &category, &rec.Unit, &rec.CurrentStock, &rec.MinimumStock,
		&rec.MaximumStock, &rec.ReorderQuantity, &rec.CostPerUnit, &rec.TotalValue, &rec.Status, &supplier,
		&rec.LastPurchasePrice, &rec.LastPurchaseDate, &rec.LastRestockDate, &rec.ExpiryDate,
		&location, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, ErrRecordNotFound
		}
		return StockRecord{}, fmt.Errorf("stock: scan record: %w", err)
	}
	rec.Category = derefString(category)
	rec.Supplier = derefString(supplier)
	rec.StorageLocation = derefString(location)
	return rec, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var alert Alert
	var resolvedBy *string
	err := row.Scan(&alert.ID, &alert.RecordID, &alert.Type, &alert.Severity, &alert.Message,
		&alert.CurrentValue, &alert.Threshold, &alert.IsResolved, &alert.ResolvedAt, &resolvedBy, &alert.CreatedAt)
	if err != nil {
		return Alert{}, err
	}
	alert.ResolvedBy = derefString(resolvedBy)
	return alert, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
