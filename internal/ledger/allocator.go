package ledger

import (
	"github.com/shopspring/decimal"
)

// allocation is one batch draw produced by the FIFO walk.
type allocation struct {
	Batch        *Batch
	Amount       decimal.Decimal
	NewRemaining decimal.Decimal
}

// allocate satisfies requested against batches in the order given
// (receipt time ascending, id ascending for equal times). It checks
// total coverage before touching anything, then walks the list greedily
// consuming min(remaining, still-needed) per batch.
//
// On shortfall it returns InsufficientStockError with the available sum
// and no allocations. A nonzero residual after the walk means the
// coverage check and the walk disagreed over the same snapshot and
// surfaces as ErrInternalConsistency; callers must abort the
// transaction.
func allocate(batches []*Batch, requested decimal.Decimal) ([]allocation, error) {
	available := decimal.Zero
	for _, b := range batches {
		if b.Remaining.IsPositive() {
			available = available.Add(b.Remaining)
		}
	}
	if available.LessThan(requested) {
		return nil, &InsufficientStockError{Available: available}
	}

	stillNeeded := requested
	allocations := make([]allocation, 0, len(batches))
	for _, b := range batches {
		if !stillNeeded.IsPositive() {
			break
		}
		if !b.Remaining.IsPositive() {
			continue
		}
		consume := decimal.Min(b.Remaining, stillNeeded)
		allocations = append(allocations, allocation{
			Batch:        b,
			Amount:       consume,
			NewRemaining: b.Remaining.Sub(consume),
		})
		stillNeeded = stillNeeded.Sub(consume)
	}

	if !stillNeeded.IsZero() {
		return nil, ErrInternalConsistency
	}
	return allocations, nil
}
