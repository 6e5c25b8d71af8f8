package materials

import (
	"time"

	"github.com/shopspring/decimal"
)

// Material is a stock item tracked by the ledger.
type Material struct {
	ID           int64
	Code         string
	Name         string
	Unit         string
	Category     string
	ReorderLevel decimal.NullDecimal
	DefaultStore string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
