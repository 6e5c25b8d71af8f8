package ledger

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// quantityScale is the number of fractional digits carried by every
// ledger quantity. Inputs are rounded half-up to this scale once, at
// normalization; balance math never re-rounds.
const quantityScale = 3

// GeneralStoreID is the reserved reporting identity of the general store.
const GeneralStoreID int64 = 0

// GeneralStoreLabel is the fixed label the general store is reported under.
const GeneralStoreLabel = "General Store"

// ScopeKind discriminates the stock partition variants.
type ScopeKind int

const (
	// ScopeKindGeneral marks stock not tied to any project.
	ScopeKindGeneral ScopeKind = iota
	// ScopeKindProject marks stock owned by a specific project.
	ScopeKindProject
)

// Scope is the partition key for batches, issues and every derived
// statistic. Stock in one scope is invisible to all others.
type Scope struct {
	Kind      ScopeKind
	ProjectID int64
}

// ScopeProject returns the scope of a specific project.
func ScopeProject(projectID int64) Scope {
	return Scope{Kind: ScopeKindProject, ProjectID: projectID}
}

// ScopeGeneral returns the general store scope.
func ScopeGeneral() Scope {
	return Scope{Kind: ScopeKindGeneral}
}

// IsGeneral reports whether the scope is the general store.
func (s Scope) IsGeneral() bool {
	return s.Kind == ScopeKindGeneral
}

// ReportID returns the identity the scope is surfaced under in reports:
// the project id, or GeneralStoreID for the general store.
func (s Scope) ReportID() int64 {
	if s.IsGeneral() {
		return GeneralStoreID
	}
	return s.ProjectID
}

func (s Scope) String() string {
	if s.IsGeneral() {
		return "general"
	}
	return fmt.Sprintf("project:%d", s.ProjectID)
}

// MovementType enumerates ledger movement directions.
type MovementType string

const (
	// MovementIn represents a stock receipt.
	MovementIn MovementType = "IN"
	// MovementOut represents a stock issue.
	MovementOut MovementType = "OUT"
)

// Batch is one inward receipt tracked with its own remaining balance.
// Remaining starts equal to Quantity and only ever decreases, by
// allocator consumption; batches are never deleted.
type Batch struct {
	ID         int64
	Scope      Scope
	MaterialID int64
	Quantity   decimal.Decimal
	Remaining  decimal.Decimal
	ReceivedAt time.Time

	BatchLabel string
	Weight     decimal.NullDecimal
	Units      *int64

	Supplier      string
	InvoiceNumber string
	InvoiceDate   *time.Time
	VehicleNumber string
	Reference     string
	Remarks       string
	CreatedAt     time.Time
}

// Label returns the batch label, synthesizing "Batch-<id>" when none was
// recorded at receipt time.
func (b Batch) Label() string {
	if b.BatchLabel != "" {
		return b.BatchLabel
	}
	return fmt.Sprintf("Batch-%d", b.ID)
}

// Consumption records how much of one batch was drawn for one issue.
// Amount is always positive and a batch appears at most once per issue.
type Consumption struct {
	BatchID    int64
	BatchLabel string
	Amount     decimal.Decimal
}

// Issue is one outward movement together with the batch consumptions
// that satisfied it. The consumption amounts sum to Quantity exactly;
// an issue is written once, atomically with its consumptions, and is
// immutable afterwards.
type Issue struct {
	ID         int64
	Scope      Scope
	MaterialID int64
	Quantity   decimal.Decimal
	IssuedAt   time.Time

	Weight decimal.NullDecimal
	Units  *int64

	IssuedTo      string
	Designation   string
	StoreIncharge string
	HandoverDate  *time.Time
	Reference     string
	Remarks       string
	CreatedAt     time.Time

	Consumptions []Consumption
}

// BatchSummary renders the issue's batch draws for history views,
// e.g. "HEAP-4 (100.000), Batch-7 (20.000)".
func (i Issue) BatchSummary() string {
	out := ""
	for idx, c := range i.Consumptions {
		if idx > 0 {
			out += ", "
		}
		label := c.BatchLabel
		if label == "" {
			label = fmt.Sprintf("Batch-%d", c.BatchID)
		}
		out += fmt.Sprintf("%s (%s)", label, c.Amount.StringFixed(quantityScale))
	}
	return out
}

// Movement is the direction-neutral descriptor returned to callers and
// used for merged history views.
type Movement struct {
	ID         int64
	Type       MovementType
	Scope      Scope
	MaterialID int64
	Quantity   decimal.Decimal
	OccurredAt time.Time

	Weight decimal.NullDecimal
	Units  *int64

	// Receipt-only fields.
	BatchLabel    string
	Remaining     decimal.NullDecimal
	Supplier      string
	InvoiceNumber string
	InvoiceDate   *time.Time
	VehicleNumber string

	// Issue-only fields.
	IssuedTo      string
	Designation   string
	StoreIncharge string
	HandoverDate  *time.Time
	BatchSummary  string

	Reference string
	Remarks   string
}

// MaterialStats aggregates one (scope, material) partition. Every field
// is recomputed from the batch and issue histories on each call; weight
// and unit dimensions sum only the movements that carry them.
type MaterialStats struct {
	MaterialID int64

	TotalIn      decimal.Decimal
	TotalOut     decimal.Decimal
	CurrentStock decimal.Decimal

	WeightIn      decimal.Decimal
	WeightOut     decimal.Decimal
	CurrentWeight decimal.Decimal

	UnitsIn      int64
	UnitsOut     int64
	CurrentUnits int64

	LastReceiptAt *time.Time
	LastIssueAt   *time.Time
}

// MaterialDetail combines stats with the full movement record of one
// (scope, material) partition.
type MaterialDetail struct {
	Stats    MaterialStats
	Inwards  []Movement
	Outwards []Movement
	History  []Movement
}

// MaterialConsumption is the per-material slice of the analytics
// breakdown. Weight and Units are nil when the dimension total is zero
// so reports omit the figure instead of printing it.
type MaterialConsumption struct {
	MaterialID   int64
	MaterialName string
	Quantity     decimal.Decimal
	Weight       *decimal.Decimal
	Units        *int64
}

// ScopeConsumption groups issue totals by scope. The general store
// appears as a synthetic entry with GeneralStoreID and GeneralStoreLabel.
type ScopeConsumption struct {
	ScopeID   int64
	ScopeName string
	Materials []MaterialConsumption
}

// Analytics is the system-wide aggregate view across all scopes.
type Analytics struct {
	TotalProjects  int64
	TotalMaterials int64

	QuantityIn     decimal.Decimal
	QuantityOut    decimal.Decimal
	QuantityOnHand decimal.Decimal

	WeightIn     decimal.Decimal
	WeightOut    decimal.Decimal
	WeightOnHand decimal.Decimal

	UnitsIn     int64
	UnitsOut    int64
	UnitsOnHand int64

	Consumption []ScopeConsumption
}

// MovementReport is a scope-filtered history with in/out totals.
type MovementReport struct {
	Movements []Movement
	TotalIn   decimal.Decimal
	TotalOut  decimal.Decimal
}

// HistoryFilter narrows GetHistory. A nil Scope merges every partition;
// Limit <= 0 returns the full history.
type HistoryFilter struct {
	Scope *Scope
	Limit int
}

// ErrInvalidQuantity rejects non-positive, NaN or infinite quantities.
var ErrInvalidQuantity = errors.New("ledger: quantity must be positive and finite")

// ErrInsufficientStock is the errors.Is target for allocation shortfalls.
var ErrInsufficientStock = errors.New("ledger: insufficient stock")

// ErrInternalConsistency indicates the availability check and the
// allocation walk disagreed. It aborts the surrounding transaction and
// is never caller-triggerable.
var ErrInternalConsistency = errors.New("ledger: allocation residual after walk")

// InsufficientStockError carries the available quantity so the caller
// can adjust the request and retry.
type InsufficientStockError struct {
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock, available %s", e.Available.StringFixed(quantityScale))
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// NormalizeQuantity screens a raw quantity and fixes it to the ledger
// scale. All quantity input enters the ledger through here. Values that
// round to zero at ledger scale are rejected like any other
// non-positive quantity.
func NormalizeQuantity(quantity float64) (decimal.Decimal, error) {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) || quantity <= 0 {
		return decimal.Decimal{}, ErrInvalidQuantity
	}
	normalized := decimal.NewFromFloat(quantity).Round(quantityScale)
	if !normalized.IsPositive() {
		return decimal.Decimal{}, ErrInvalidQuantity
	}
	return normalized, nil
}

// NormalizeOptional rounds an optional dimension (weight) to ledger
// scale, returning the invalid NullDecimal when absent or unusable.
func NormalizeOptional(value *float64) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}
	v := *value
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return decimal.NullDecimal{}
	}
	normalized := decimal.NewFromFloat(v).Round(quantityScale)
	if !normalized.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: normalized, Valid: true}
}
