package stock

import (
	"errors"
	"time"
)

// Status classifies a stock record from its quantity, thresholds and expiry.
type Status string

const (
	// StatusInStock means quantity sits between the configured thresholds.
	StatusInStock Status = "IN_STOCK"
	// StatusLowStock means quantity dropped to or below the minimum threshold.
	StatusLowStock Status = "LOW_STOCK"
	// StatusOutOfStock means quantity reached zero.
	StatusOutOfStock Status = "OUT_OF_STOCK"
	// StatusOverstock means quantity exceeds the maximum threshold.
	StatusOverstock Status = "OVERSTOCK"
	// StatusExpiring means the expiry date falls within the warning window.
	StatusExpiring Status = "EXPIRING"
)

// TransactionType enumerates supported stock movements.
type TransactionType string

const (
	// TransactionTypeStockIn represents an inbound movement (receiving).
	TransactionTypeStockIn TransactionType = "STOCK_IN"
	// TransactionTypeStockOut represents an outbound movement (usage, sales).
	TransactionTypeStockOut TransactionType = "STOCK_OUT"
	// TransactionTypeAdjustment indicates a manual correction.
	TransactionTypeAdjustment TransactionType = "ADJUSTMENT"
	// TransactionTypeTransfer moves stock between storage locations.
	TransactionTypeTransfer TransactionType = "TRANSFER"
	// TransactionTypeWastage records spoilage or breakage.
	TransactionTypeWastage TransactionType = "WASTAGE"
	// TransactionTypeReturn records stock returned by or to a supplier.
	TransactionTypeReturn TransactionType = "RETURN"
)

// AlertType enumerates alert categories raised by the ledger engine.
type AlertType string

const (
	AlertTypeLowStock      AlertType = "LOW_STOCK"
	AlertTypeOutOfStock    AlertType = "OUT_OF_STOCK"
	AlertTypeOverstock     AlertType = "OVERSTOCK"
	AlertTypeExpiringStock AlertType = "EXPIRING_STOCK"
	AlertTypeExpiredStock  AlertType = "EXPIRED_STOCK"
)

// AlertSeverity grades how urgent an alert is.
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// StockRecord is the current-state snapshot of one tracked item.
// CurrentStock, Status and TotalValue are derived fields owned by the
// ledger engine; callers never write them directly.
type StockRecord struct {
	ID                string     `json:"id"`
	ItemName          string     `json:"item_name"`
	Category          string     `json:"category"`
	Unit              string     `json:"unit"`
	CurrentStock      float64    `json:"current_stock"`
	MinimumStock      float64    `json:"minimum_stock"`
	MaximumStock      float64    `json:"maximum_stock"`
	ReorderQuantity   float64    `json:"reorder_quantity"`
	CostPerUnit       float64    `json:"cost_per_unit"`
	TotalValue        float64    `json:"total_value"`
	Status            Status     `json:"status"`
	Supplier          string     `json:"supplier,omitempty"`
	LastPurchasePrice float64    `json:"last_purchase_price,omitempty"`
	LastPurchaseDate  *time.Time `json:"last_purchase_date,omitempty"`
	LastRestockDate   *time.Time `json:"last_restock_date,omitempty"`
	ExpiryDate        *time.Time `json:"expiry_date,omitempty"`
	StorageLocation   string     `json:"storage_location,omitempty"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TransactionEntry is one immutable ledger row. StockBefore and StockAfter
// are captured at write time and never recomputed.
type TransactionEntry struct {
	ID              string          `json:"id"`
	RecordID        string          `json:"record_id"`
	Type            TransactionType `json:"type"`
	Quantity        float64         `json:"quantity"`
	Unit            string          `json:"unit"`
	CostPerUnit     *float64        `json:"cost_per_unit,omitempty"`
	TotalCost       *float64        `json:"total_cost,omitempty"`
	StockBefore     float64         `json:"stock_before"`
	StockAfter      float64         `json:"stock_after"`
	Reason          string          `json:"reason,omitempty"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	Supplier        string          `json:"supplier,omitempty"`
	Actor           string          `json:"actor"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Alert is an open or resolved notification tied to a stock record.
// At most one open alert per (record, type) exists at any time.
type Alert struct {
	ID           string        `json:"id"`
	RecordID     string        `json:"record_id"`
	Type         AlertType     `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	Message      string        `json:"message"`
	CurrentValue float64       `json:"current_value"`
	Threshold    float64       `json:"threshold"`
	IsResolved   bool          `json:"is_resolved"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy   string        `json:"resolved_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// CreateInput seeds a new stock record. Status and total value are derived.
type CreateInput struct {
	ItemName        string
	Category        string
	Unit            string
	CurrentStock    float64
	MinimumStock    float64
	MaximumStock    float64
	ReorderQuantity float64
	CostPerUnit     float64
	Supplier        string
	ExpiryDate      *time.Time
	StorageLocation string
	Actor           string
}

// UpdateInput replaces thresholds and metadata of an existing record.
// Quantity state is untouched; derived fields are recomputed.
type UpdateInput struct {
	ItemName        string
	Category        string
	Unit            string
	MinimumStock    float64
	MaximumStock    float64
	ReorderQuantity float64
	CostPerUnit     float64
	Supplier        string
	ExpiryDate      *time.Time
	StorageLocation string
	Actor           string
}

// StockInInput describes an inbound receipt.
type StockInInput struct {
	RecordID        string
	Quantity        float64
	CostPerUnit     *float64
	Supplier        string
	ReferenceNumber string
	Actor           string
}

// StockOutInput describes an outbound issue.
type StockOutInput struct {
	RecordID string
	Quantity float64
	Reason   string
	Actor    string
}

// AdjustInput describes a signed correction movement.
type AdjustInput struct {
	RecordID        string
	Delta           float64
	Type            TransactionType
	Reason          string
	ReferenceNumber string
	Actor           string
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	Status             *Status
	LowStockOnly       bool
	ExpiringWithinDays int
	ActiveOnly         bool
	Page               int
	PerPage            int
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	RecordID string
	Resolved *bool
	Limit    int
}

// Sentinel errors surfaced by the ledger engine.
var (
	// ErrRecordNotFound indicates the referenced stock record does not exist.
	ErrRecordNotFound = errors.New("stock: record not found")
	// ErrAlertNotFound indicates the referenced alert does not exist or is already resolved.
	ErrAlertNotFound = errors.New("stock: alert not found")
	// ErrInsufficientStock rejects a decrement that would drive stock negative.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")
	// ErrInvalidInput indicates a malformed request rejected before any write.
	ErrInvalidInput = errors.New("stock: invalid input")
	// ErrConcurrencyConflict is returned once transient conflict retries are exhausted.
	// The whole operation is safe to retry from the top.
	ErrConcurrencyConflict = errors.New("stock: concurrent update conflict")
)
