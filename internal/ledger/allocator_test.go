package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func openBatch(id int64, remaining string) *Batch {
	r := dec(remaining)
	return &Batch{ID: id, Quantity: r, Remaining: r}
}

func TestAllocateWalksOldestFirst(t *testing.T) {
	batches := []*Batch{openBatch(1, "100"), openBatch(2, "50")}

	allocations, err := allocate(batches, dec("120"))
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	require.Equal(t, int64(1), allocations[0].Batch.ID)
	require.True(t, allocations[0].Amount.Equal(dec("100")))
	require.True(t, allocations[0].NewRemaining.IsZero())

	require.Equal(t, int64(2), allocations[1].Batch.ID)
	require.True(t, allocations[1].Amount.Equal(dec("20")))
	require.True(t, allocations[1].NewRemaining.Equal(dec("30")))
}

func TestAllocateExactCoverage(t *testing.T) {
	batches := []*Batch{openBatch(1, "25.500"), openBatch(2, "4.500")}

	allocations, err := allocate(batches, dec("30"))
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Amount)
	}
	require.True(t, total.Equal(dec("30")))
}

func TestAllocateShortfallMutatesNothing(t *testing.T) {
	batches := []*Batch{openBatch(1, "10"), openBatch(2, "20")}

	allocations, err := allocate(batches, dec("30.001"))
	require.Nil(t, allocations)

	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.Equal(dec("30")))
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.True(t, batches[0].Remaining.Equal(dec("10")))
	require.True(t, batches[1].Remaining.Equal(dec("20")))
}

func TestAllocateSkipsDepletedBatches(t *testing.T) {
	batches := []*Batch{openBatch(1, "0"), openBatch(2, "5"), openBatch(3, "5")}

	allocations, err := allocate(batches, dec("7"))
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	require.Equal(t, int64(2), allocations[0].Batch.ID)
	require.Equal(t, int64(3), allocations[1].Batch.ID)
	require.True(t, allocations[1].Amount.Equal(dec("2")))
}

func TestAllocateStopsOnceSatisfied(t *testing.T) {
	batches := []*Batch{openBatch(1, "50"), openBatch(2, "50")}

	allocations, err := allocate(batches, dec("50"))
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	require.Equal(t, int64(1), allocations[0].Batch.ID)
}

func TestInsufficientStockErrorMatching(t *testing.T) {
	err := error(&InsufficientStockError{Available: dec("12.5")})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.False(t, errors.Is(err, ErrInvalidQuantity))
}
