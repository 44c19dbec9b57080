package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/larder-app/larder/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, id string) (StockRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]StockRecord, int, error)
	ListTransactions(ctx context.Context, recordID string, limit int) ([]TransactionEntry, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
	ResolveAlert(ctx context.Context, alertID, resolvedBy string, at time.Time) (Alert, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheBumper invalidates derived read-side caches after a mutation.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// Service is the stock ledger engine. It is the sole writer of the derived
// record fields (current stock, status, total value): every quantity change
// flows through applyMovement inside a single per-record transaction.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       CacheBumper
	logger      *slog.Logger
	maxRetries  int
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// MaxConflictRetries bounds internal retries of transient transaction
	// conflicts before ErrConcurrencyConflict is surfaced.
	MaxConflictRetries int
}

// NewService builds the ledger engine.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cache CacheBumper, logger *slog.Logger, cfg ServiceConfig) *Service {
	retries := cfg.MaxConflictRetries
	if retries <= 0 {
		retries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: cache, logger: logger, maxRetries: retries}
}

// Create seeds a new tracked record. Status and total value are derived from
// the initial quantity, never taken from the caller.
func (s *Service) Create(ctx context.Context, input CreateInput) (StockRecord, error) {
	if input.ItemName == "" || input.Unit == "" {
		return StockRecord{}, fmt.Errorf("%w: item name and unit required", ErrInvalidInput)
	}
	if input.CurrentStock < 0 || input.MinimumStock < 0 || input.MaximumStock < 0 || input.ReorderQuantity < 0 {
		return StockRecord{}, fmt.Errorf("%w: quantities must be >= 0", ErrInvalidInput)
	}
	if input.CostPerUnit < 0 {
		return StockRecord{}, ErrInvalidUnitCost
	}

	now := time.Now().UTC()
	rec := StockRecord{
		ID:              uuid.NewString(),
		ItemName:        input.ItemName,
		Category:        input.Category,
		Unit:            input.Unit,
		CurrentStock:    input.CurrentStock,
		MinimumStock:    input.MinimumStock,
		MaximumStock:    input.MaximumStock,
		ReorderQuantity: input.ReorderQuantity,
		CostPerUnit:     input.CostPerUnit,
		TotalValue:      input.CurrentStock * input.CostPerUnit,
		Status:          Classify(input.CurrentStock, input.MinimumStock, input.MaximumStock, input.ExpiryDate, now),
		Supplier:        input.Supplier,
		ExpiryDate:      input.ExpiryDate,
		StorageLocation: input.StorageLocation,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		s.reconcileAlerts(ctx, tx, rec, now, input.Actor)
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.afterMutation(ctx, input.Actor, "stock:create", rec.ID, map[string]any{
		"item_name":     rec.ItemName,
		"current_stock": rec.CurrentStock,
	})
	return rec, nil
}

// StockIn posts an inbound receipt, blending the unit cost into the
// weighted average when one is supplied.
func (s *Service) StockIn(ctx context.Context, input StockInInput) (StockRecord, error) {
	if input.Quantity <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	if input.CostPerUnit != nil && *input.CostPerUnit < 0 {
		return StockRecord{}, ErrInvalidUnitCost
	}
	return s.applyMovement(ctx, movementParams{
		RecordID:        input.RecordID,
		QtyChange:       input.Quantity,
		TxType:          TransactionTypeStockIn,
		UnitCost:        input.CostPerUnit,
		Supplier:        input.Supplier,
		ReferenceNumber: input.ReferenceNumber,
		Actor:           input.Actor,
	})
}

// StockOut posts an outbound issue. Decrements below zero are rejected with
// ErrInsufficientStock before any write.
func (s *Service) StockOut(ctx context.Context, input StockOutInput) (StockRecord, error) {
	if input.Quantity <= 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	if input.Reason == "" {
		return StockRecord{}, fmt.Errorf("%w: reason required", ErrInvalidInput)
	}
	return s.applyMovement(ctx, movementParams{
		RecordID:  input.RecordID,
		QtyChange: -input.Quantity,
		TxType:    TransactionTypeStockOut,
		Reason:    input.Reason,
		Actor:     input.Actor,
	})
}

// Adjust posts a signed correction of type ADJUSTMENT, TRANSFER, WASTAGE or
// RETURN. The sign of the delta decides the direction.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) (StockRecord, error) {
	if input.Delta == 0 {
		return StockRecord{}, ErrInvalidQuantity
	}
	switch input.Type {
	case TransactionTypeAdjustment, TransactionTypeTransfer, TransactionTypeWastage, TransactionTypeReturn:
	default:
		return StockRecord{}, fmt.Errorf("%w: unsupported adjustment type %q", ErrInvalidInput, input.Type)
	}
	if input.Reason == "" {
		return StockRecord{}, fmt.Errorf("%w: reason required", ErrInvalidInput)
	}
	return s.applyMovement(ctx, movementParams{
		RecordID:        input.RecordID,
		QtyChange:       input.Delta,
		TxType:          input.Type,
		Reason:          input.Reason,
		ReferenceNumber: input.ReferenceNumber,
		Actor:           input.Actor,
	})
}

// Update replaces thresholds and metadata, then recomputes the derived
// fields through the same classifier path as every movement. The quantity
// itself only changes through StockIn/StockOut/Adjust.
func (s *Service) Update(ctx context.Context, recordID string, input UpdateInput) (StockRecord, error) {
	if input.ItemName == "" || input.Unit == "" {
		return StockRecord{}, fmt.Errorf("%w: item name and unit required", ErrInvalidInput)
	}
	if input.MinimumStock < 0 || input.MaximumStock < 0 || input.ReorderQuantity < 0 {
		return StockRecord{}, fmt.Errorf("%w: thresholds must be >= 0", ErrInvalidInput)
	}
	if input.CostPerUnit < 0 {
		return StockRecord{}, ErrInvalidUnitCost
	}
	rec, err := s.mutateRecord(ctx, recordID, func(ctx context.Context, tx TxRepository, rec *StockRecord) error {
		now := time.Now().UTC()
		rec.ItemName = input.ItemName
		rec.Category = input.Category
		rec.Unit = input.Unit
		rec.MinimumStock = input.MinimumStock
		rec.MaximumStock = input.MaximumStock
		rec.ReorderQuantity = input.ReorderQuantity
		rec.CostPerUnit = input.CostPerUnit
		rec.Supplier = input.Supplier
		rec.ExpiryDate = input.ExpiryDate
		rec.StorageLocation = input.StorageLocation
		rec.TotalValue = rec.CurrentStock * rec.CostPerUnit
		rec.Status = Classify(rec.CurrentStock, rec.MinimumStock, rec.MaximumStock, rec.ExpiryDate, now)
		rec.UpdatedAt = now
		if err := tx.UpdateRecord(ctx, *rec); err != nil {
			return err
		}
		s.reconcileAlerts(ctx, tx, *rec, now, input.Actor)
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	s.afterMutation(ctx, input.Actor, "stock:update", rec.ID, map[string]any{"item_name": rec.ItemName})
	return rec, nil
}

// Deactivate soft-deletes a record. History and alerts stay untouched.
func (s *Service) Deactivate(ctx context.Context, recordID, actor string) error {
	rec, err := s.mutateRecord(ctx, recordID, func(ctx context.Context, tx TxRepository, rec *StockRecord) error {
		rec.IsActive = false
		rec.UpdatedAt = time.Now().UTC()
		return tx.UpdateRecord(ctx, *rec)
	})
	if err != nil {
		return err
	}
	s.afterMutation(ctx, actor, "stock:deactivate", rec.ID, nil)
	return nil
}

// RefreshStatus re-runs classification and alert evaluation without a
// quantity change. Used by the periodic expiry scan.
func (s *Service) RefreshStatus(ctx context.Context, recordID, actor string) (StockRecord, error) {
	rec, err := s.mutateRecord(ctx, recordID, func(ctx context.Context, tx TxRepository, rec *StockRecord) error {
		now := time.Now().UTC()
		status := Classify(rec.CurrentStock, rec.MinimumStock, rec.MaximumStock, rec.ExpiryDate, now)
		if status != rec.Status {
			rec.Status = status
			rec.UpdatedAt = now
			if err := tx.UpdateRecord(ctx, *rec); err != nil {
				return err
			}
		}
		s.reconcileAlerts(ctx, tx, *rec, now, actor)
		return nil
	})
	if err != nil {
		return StockRecord{}, err
	}
	return rec, nil
}

// Get fetches one record.
func (s *Service) Get(ctx context.Context, recordID string) (StockRecord, error) {
	if recordID == "" {
		return StockRecord{}, fmt.Errorf("%w: record id required", ErrInvalidInput)
	}
	return s.repo.GetRecord(ctx, recordID)
}

// List returns records matching the filter with the total count.
func (s *Service) List(ctx context.Context, filter RecordFilter) ([]StockRecord, int, error) {
	return s.repo.ListRecords(ctx, filter)
}

// ListByStatus returns active records carrying the given status.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]StockRecord, error) {
	recs, _, err := s.repo.ListRecords(ctx, RecordFilter{Status: &status, ActiveOnly: true})
	return recs, err
}

// ListLowStock returns active records at or below their minimum threshold.
func (s *Service) ListLowStock(ctx context.Context) ([]StockRecord, error) {
	recs, _, err := s.repo.ListRecords(ctx, RecordFilter{LowStockOnly: true, ActiveOnly: true})
	return recs, err
}

// ListExpiring returns active records whose expiry date falls within the
// given number of days, expired ones included.
func (s *Service) ListExpiring(ctx context.Context, days int) ([]StockRecord, error) {
	if days <= 0 {
		days = int(ExpiryWarningWindow / (24 * time.Hour))
	}
	recs, _, err := s.repo.ListRecords(ctx, RecordFilter{ExpiringWithinDays: days, ActiveOnly: true})
	return recs, err
}

// ListTransactions returns the newest-first ledger slice for a record.
func (s *Service) ListTransactions(ctx context.Context, recordID string, limit int) ([]TransactionEntry, error) {
	if recordID == "" {
		return nil, fmt.Errorf("%w: record id required", ErrInvalidInput)
	}
	return s.repo.ListTransactions(ctx, recordID, limit)
}

// ListAlerts returns alerts matching the filter.
func (s *Service) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	return s.repo.ListAlerts(ctx, filter)
}

// ResolveAlert marks a single open alert as resolved.
func (s *Service) ResolveAlert(ctx context.Context, alertID, resolvedBy string) (Alert, error) {
	if alertID == "" {
		return Alert{}, fmt.Errorf("%w: alert id required", ErrInvalidInput)
	}
	alert, err := s.repo.ResolveAlert(ctx, alertID, resolvedBy, time.Now().UTC())
	if err != nil {
		return Alert{}, err
	}
	s.afterMutation(ctx, resolvedBy, "stock:alert_resolve", alert.ID, map[string]any{"alert_type": alert.Type})
	return alert, nil
}

type movementParams struct {
	RecordID        string
	QtyChange       float64
	TxType          TransactionType
	UnitCost        *float64
	Reason          string
	Supplier        string
	ReferenceNumber string
	Actor           string
}

// applyMovement is the single choke point for quantity changes: validate the
// non-negativity invariant, append the ledger entry, update the record's
// derived fields and reconcile alerts, all inside one per-record transaction.
func (s *Service) applyMovement(ctx context.Context, params movementParams) (StockRecord, error) {
	if params.RecordID == "" {
		return StockRecord{}, fmt.Errorf("%w: record id required", ErrInvalidInput)
	}

	insertedKey := false
	idemKey := ""
	if s.idempotency != nil && params.ReferenceNumber != "" {
		idemKey = fmt.Sprintf("%s:%s:%s", params.TxType, params.ReferenceNumber, params.RecordID)
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "stock"); err != nil {
			return StockRecord{}, err
		}
		insertedKey = true
	}

	rec, err := s.mutateRecord(ctx, params.RecordID, func(ctx context.Context, tx TxRepository, rec *StockRecord) error {
		now := time.Now().UTC()
		newQty := rec.CurrentStock + params.QtyChange
		if newQty < 0 {
			return ErrInsufficientStock
		}

		entry := TransactionEntry{
			ID:              uuid.NewString(),
			RecordID:        rec.ID,
			Type:            params.TxType,
			Quantity:        absFloat(params.QtyChange),
			Unit:            rec.Unit,
			StockBefore:     rec.CurrentStock,
			StockAfter:      newQty,
			Reason:          params.Reason,
			ReferenceNumber: params.ReferenceNumber,
			Supplier:        params.Supplier,
			Actor:           params.Actor,
			CreatedAt:       now,
		}

		if params.QtyChange > 0 && params.UnitCost != nil {
			cost := *params.UnitCost
			if rec.CurrentStock <= 0 {
				rec.CostPerUnit = cost
			} else {
				rec.CostPerUnit = (rec.CurrentStock*rec.CostPerUnit + params.QtyChange*cost) / newQty
			}
			rec.LastPurchasePrice = cost
			rec.LastPurchaseDate = &now
			entry.CostPerUnit = &cost
			total := entry.Quantity * cost
			entry.TotalCost = &total
		} else {
			// Outbound and uncosted movements are priced at the running average.
			avg := rec.CostPerUnit
			entry.CostPerUnit = &avg
			total := entry.Quantity * avg
			entry.TotalCost = &total
		}

		// Ledger first: the entry and the record update commit or roll back together.
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}

		rec.CurrentStock = newQty
		rec.TotalValue = newQty * rec.CostPerUnit
		rec.Status = Classify(newQty, rec.MinimumStock, rec.MaximumStock, rec.ExpiryDate, now)
		rec.UpdatedAt = now
		if params.TxType == TransactionTypeStockIn {
			rec.LastRestockDate = &now
			if params.Supplier != "" {
				rec.Supplier = params.Supplier
			}
		}
		if err := tx.UpdateRecord(ctx, *rec); err != nil {
			return err
		}

		s.reconcileAlerts(ctx, tx, *rec, now, params.Actor)
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return StockRecord{}, err
	}

	s.afterMutation(ctx, params.Actor, fmt.Sprintf("stock:%s", params.TxType), rec.ID, map[string]any{
		"qty_change":  params.QtyChange,
		"stock_after": rec.CurrentStock,
		"reason":      params.Reason,
	})
	return rec, nil
}

// mutateRecord locks the record row, runs fn and commits, retrying transient
// transaction conflicts a bounded number of times.
func (s *Service) mutateRecord(ctx context.Context, recordID string, fn func(context.Context, TxRepository, *StockRecord) error) (StockRecord, error) {
	var out StockRecord
	for attempt := 1; ; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			rec, err := tx.GetRecordForUpdate(ctx, recordID)
			if err != nil {
				return err
			}
			if err := fn(ctx, tx, &rec); err != nil {
				return err
			}
			out = rec
			return nil
		})
		if err == nil {
			return out, nil
		}
		if !isRetryableConflict(err) {
			return StockRecord{}, err
		}
		if attempt >= s.maxRetries {
			return StockRecord{}, ErrConcurrencyConflict
		}
		s.logger.Warn("retrying stock mutation after conflict",
			slog.String("record_id", recordID),
			slog.Int("attempt", attempt))
	}
}

// reconcileAlerts diffs the open alerts against the desired set. Alert
// writes are best-effort relative to the authoritative ledger: failures are
// logged, never propagated, and duplicate inserts are absorbed by the
// one-open-alert-per-type uniqueness guarantee.
func (s *Service) reconcileAlerts(ctx context.Context, tx TxRepository, rec StockRecord, now time.Time, actor string) {
	open, err := tx.OpenAlerts(ctx, rec.ID)
	if err != nil {
		s.logger.Error("list open alerts", slog.String("record_id", rec.ID), slog.Any("error", err))
		return
	}

	desired := DesiredAlerts(rec, now)
	want := make(map[AlertType]AlertSpec, len(desired))
	for _, spec := range desired {
		want[spec.Type] = spec
	}

	// An open alert whose severity no longer matches the desired one (an
	// expiring warning entering the critical window) counts as stale so it
	// gets reissued at the right severity.
	var stale []AlertType
	have := make(map[AlertType]bool, len(open))
	for _, alert := range open {
		spec, ok := want[alert.Type]
		if !ok || spec.Severity != alert.Severity {
			stale = append(stale, alert.Type)
			continue
		}
		have[alert.Type] = true
	}
	if len(stale) > 0 {
		resolvedBy := actor
		if resolvedBy == "" {
			resolvedBy = "system"
		}
		if err := tx.ResolveAlertsByType(ctx, rec.ID, stale, resolvedBy, now); err != nil {
			s.logger.Error("resolve stale alerts", slog.String("record_id", rec.ID), slog.Any("error", err))
		}
	}

	for _, spec := range desired {
		if have[spec.Type] {
			continue
		}
		alert := Alert{
			ID:           uuid.NewString(),
			RecordID:     rec.ID,
			Type:         spec.Type,
			Severity:     spec.Severity,
			Message:      spec.Message,
			CurrentValue: spec.CurrentValue,
			Threshold:    spec.Threshold,
			CreatedAt:    now,
		}
		inserted, err := tx.InsertAlert(ctx, alert)
		if err != nil {
			s.logger.Error("insert alert", slog.String("record_id", rec.ID), slog.String("type", string(spec.Type)), slog.Any("error", err))
			continue
		}
		if !inserted {
			// An open alert of this type already exists; concurrent
			// evaluation reached the store first.
			continue
		}
	}
}

func (s *Service) afterMutation(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	entity := "stock_record"
	if action == "stock:alert_resolve" {
		entity = "stock_alert"
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   action,
			Entity:   entity,
			EntityID: entityID,
			Meta:     meta,
		}); err != nil {
			s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			s.logger.Warn("cache bump", slog.Any("error", err))
		}
	}
}

func isRetryableConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return errors.Is(err, ErrConcurrencyConflict)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
