package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitestock/sitestock/internal/shared"
)

type memoryRepo struct {
	batches     []Batch
	issues      []Issue
	nextBatchID int64
	nextIssueID int64
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) BatchesByPartition(_ context.Context, scope Scope, materialID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if b.Scope == scope && b.MaterialID == materialID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) IssuesByPartition(_ context.Context, scope Scope, materialID int64) ([]Issue, error) {
	var out []Issue
	for _, i := range r.issues {
		if i.Scope == scope && i.MaterialID == materialID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (r *memoryRepo) Batches(_ context.Context, scope *Scope) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if scope == nil || b.Scope == *scope {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memoryRepo) Issues(_ context.Context, scope *Scope) ([]Issue, error) {
	var out []Issue
	for _, i := range r.issues {
		if scope == nil || i.Scope == *scope {
			out = append(out, i)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) InsertBatch(_ context.Context, batch Batch) (int64, error) {
	t.repo.nextBatchID++
	batch.ID = t.repo.nextBatchID
	t.repo.batches = append(t.repo.batches, batch)
	return batch.ID, nil
}

func (t *memoryTx) EligibleBatchesForUpdate(_ context.Context, scope Scope, materialID int64) ([]*Batch, error) {
	var out []*Batch
	for i := range t.repo.batches {
		b := &t.repo.batches[i]
		if b.Scope == scope && b.MaterialID == materialID && b.Remaining.IsPositive() {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].ReceivedAt.Equal(out[b].ReceivedAt) {
			return out[a].ReceivedAt.Before(out[b].ReceivedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out, nil
}

func (t *memoryTx) UpdateBatchRemaining(_ context.Context, batchID int64, remaining decimal.Decimal) error {
	for i := range t.repo.batches {
		if t.repo.batches[i].ID == batchID {
			t.repo.batches[i].Remaining = remaining
			return nil
		}
	}
	return fmt.Errorf("batch %d not found", batchID)
}

func (t *memoryTx) InsertIssue(_ context.Context, issue Issue) (int64, error) {
	t.repo.nextIssueID++
	issue.ID = t.repo.nextIssueID
	t.repo.issues = append(t.repo.issues, issue)
	return issue.ID, nil
}

type stubDirectory struct {
	projects  map[int64]string
	materials map[int64]string
}

func (d stubDirectory) ProjectNames(context.Context) (map[int64]string, error) {
	return d.projects, nil
}

func (d stubDirectory) MaterialNames(context.Context) (map[int64]string, error) {
	return d.materials, nil
}

type stubResolver struct {
	linked map[int64][]int64
}

func (r stubResolver) LinkedMaterialIDs(_ context.Context, projectID int64) ([]int64, error) {
	return r.linked[projectID], nil
}

type memoryAudit struct {
	entries []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }
func timePtr(t time.Time) *time.Time {
	return &t
}

func TestRecordReceiptRejectsInvalidQuantity(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	for _, quantity := range []float64{0, -5, math.NaN(), math.Inf(1)} {
		_, err := svc.RecordReceipt(ctx, ReceiptInput{
			Scope:      ScopeProject(1),
			MaterialID: 7,
			Quantity:   quantity,
		})
		require.ErrorIs(t, err, ErrInvalidQuantity, "quantity %v", quantity)
	}
	require.Empty(t, repo.batches)
}

func TestQuantitiesRoundingToZeroAreRejected(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	scope := ScopeProject(1)

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 10})
	require.NoError(t, err)

	// 0.0004 is positive but rounds to 0.000 at ledger scale; it must be
	// rejected, not recorded as a zero-quantity movement.
	_, err = svc.RecordIssue(ctx, IssueInput{Scope: scope, MaterialID: 7, Quantity: 0.0004})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Empty(t, repo.issues)
	require.Equal(t, "10.000", repo.batches[0].Remaining.StringFixed(3))

	_, err = svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 0.0004})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	require.Len(t, repo.batches, 1)

	// A weight that rounds to zero is dropped rather than stored as 0.000.
	movement, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 5, Weight: floatPtr(0.0004)})
	require.NoError(t, err)
	require.False(t, movement.Weight.Valid)
}

func TestRecordReceiptRoundsToLedgerScale(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)

	movement, err := svc.RecordReceipt(context.Background(), ReceiptInput{
		Scope:      ScopeGeneral(),
		MaterialID: 7,
		Quantity:   12.3456,
		Weight:     floatPtr(1.2345),
	})
	require.NoError(t, err)
	require.Equal(t, "12.346", movement.Quantity.StringFixed(3))
	require.True(t, movement.Weight.Valid)
	require.Equal(t, "1.235", movement.Weight.Decimal.StringFixed(3))
	require.Equal(t, "Batch-1", movement.BatchLabel)
	require.NotEmpty(t, movement.Reference)
}

func TestRecordIssueConsumesOldestBatchesFirst(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	scope := ScopeProject(1)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := svc.RecordReceipt(ctx, ReceiptInput{
		Scope: scope, MaterialID: 7, Quantity: 100,
		ReceivedAt: timePtr(base), BatchLabel: "HEAP-A",
	})
	require.NoError(t, err)
	_, err = svc.RecordReceipt(ctx, ReceiptInput{
		Scope: scope, MaterialID: 7, Quantity: 50,
		ReceivedAt: timePtr(base.Add(time.Hour)),
	})
	require.NoError(t, err)

	movement, err := svc.RecordIssue(ctx, IssueInput{
		Scope: scope, MaterialID: 7, Quantity: 120,
		IssuedAt: timePtr(base.Add(2 * time.Hour)),
	})
	require.NoError(t, err)
	require.Equal(t, MovementOut, movement.Type)
	require.Equal(t, "HEAP-A (100.000), Batch-2 (20.000)", movement.BatchSummary)

	require.True(t, repo.batches[0].Remaining.IsZero())
	require.Equal(t, "30.000", repo.batches[1].Remaining.StringFixed(3))

	require.Len(t, repo.issues, 1)
	consumed := decimal.Zero
	for _, c := range repo.issues[0].Consumptions {
		consumed = consumed.Add(c.Amount)
	}
	require.True(t, consumed.Equal(repo.issues[0].Quantity))

	stats, err := svc.GetStats(ctx, scope, 7)
	require.NoError(t, err)
	require.Equal(t, "150.000", stats.TotalIn.StringFixed(3))
	require.Equal(t, "120.000", stats.TotalOut.StringFixed(3))
	require.Equal(t, "30.000", stats.CurrentStock.StringFixed(3))
}

func TestRecordIssueInsufficientStockLeavesStateUntouched(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	scope := ScopeProject(1)

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 150})
	require.NoError(t, err)

	_, err = svc.RecordIssue(ctx, IssueInput{Scope: scope, MaterialID: 7, Quantity: 200})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "150.000", insufficient.Available.StringFixed(3))
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Empty(t, repo.issues)
	require.Equal(t, "150.000", repo.batches[0].Remaining.StringFixed(3))
}

func TestScopePartitionsAreIsolated(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: ScopeGeneral(), MaterialID: 7, Quantity: 500})
	require.NoError(t, err)
	_, err = svc.RecordReceipt(ctx, ReceiptInput{Scope: ScopeProject(1), MaterialID: 7, Quantity: 40})
	require.NoError(t, err)

	// Project 2 never received anything, so general-store stock must not
	// satisfy its issues.
	_, err = svc.RecordIssue(ctx, IssueInput{Scope: ScopeProject(2), MaterialID: 7, Quantity: 1})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Available.IsZero())

	stats, err := svc.GetStats(ctx, ScopeProject(1), 7)
	require.NoError(t, err)
	require.Equal(t, "40.000", stats.CurrentStock.StringFixed(3))

	stats, err = svc.GetStats(ctx, ScopeGeneral(), 7)
	require.NoError(t, err)
	require.Equal(t, "500.000", stats.CurrentStock.StringFixed(3))
}

func TestGetHistoryOrdersNewestFirstWithStableTieBreak(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	scope := ScopeProject(1)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 100, ReceivedAt: timePtr(base)})
	require.NoError(t, err)
	// Receipt and issue sharing one timestamp: the issue must sort first.
	_, err = svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 30, ReceivedAt: timePtr(base.Add(time.Hour))})
	require.NoError(t, err)
	_, err = svc.RecordIssue(ctx, IssueInput{Scope: scope, MaterialID: 7, Quantity: 20, IssuedAt: timePtr(base.Add(time.Hour))})
	require.NoError(t, err)

	history, err := svc.GetHistory(ctx, HistoryFilter{Scope: &scope})
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, MovementOut, history[0].Type)
	require.Equal(t, MovementIn, history[1].Type)
	require.Equal(t, "30.000", history[1].Quantity.StringFixed(3))
	require.Equal(t, "100.000", history[2].Quantity.StringFixed(3))

	limited, err := svc.GetHistory(ctx, HistoryFilter{Scope: &scope, Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, MovementOut, limited[0].Type)
}

func TestGetMaterialDetailMergesMovements(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	scope := ScopeGeneral()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 60, ReceivedAt: timePtr(base)})
	require.NoError(t, err)
	_, err = svc.RecordIssue(ctx, IssueInput{Scope: scope, MaterialID: 7, Quantity: 25, IssuedAt: timePtr(base.Add(time.Hour)), IssuedTo: "R. Kale"})
	require.NoError(t, err)

	detail, err := svc.GetMaterialDetail(ctx, scope, 7)
	require.NoError(t, err)
	require.Len(t, detail.Inwards, 1)
	require.Len(t, detail.Outwards, 1)
	require.Len(t, detail.History, 2)
	require.Equal(t, MovementOut, detail.History[0].Type)
	require.Equal(t, "R. Kale", detail.History[0].IssuedTo)
	require.Equal(t, "35.000", detail.Stats.CurrentStock.StringFixed(3))
	require.True(t, detail.Inwards[0].Remaining.Valid)
	require.Equal(t, "35.000", detail.Inwards[0].Remaining.Decimal.StringFixed(3))
}

func TestGetScopeStatsUsesLinkedMaterialsForProjects(t *testing.T) {
	repo := &memoryRepo{}
	resolver := stubResolver{linked: map[int64][]int64{1: {7, 9}}}
	svc := NewService(repo, nil, resolver, nil)
	ctx := context.Background()

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: ScopeProject(1), MaterialID: 7, Quantity: 10})
	require.NoError(t, err)

	stats, err := svc.GetScopeStats(ctx, ScopeProject(1))
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, int64(7), stats[0].MaterialID)
	require.Equal(t, "10.000", stats[0].CurrentStock.StringFixed(3))
	require.Equal(t, int64(9), stats[1].MaterialID)
	require.True(t, stats[1].CurrentStock.IsZero())
}

func TestGetScopeStatsDiscoversGeneralStoreMaterials(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: ScopeGeneral(), MaterialID: 9, Quantity: 5})
	require.NoError(t, err)
	_, err = svc.RecordReceipt(ctx, ReceiptInput{Scope: ScopeGeneral(), MaterialID: 7, Quantity: 10})
	require.NoError(t, err)

	stats, err := svc.GetScopeStats(ctx, ScopeGeneral())
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, int64(7), stats[0].MaterialID)
	require.Equal(t, int64(9), stats[1].MaterialID)
}

func TestGetMovementReportTotals(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	scope := ScopeProject(1)

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 100})
	require.NoError(t, err)
	_, err = svc.RecordIssue(ctx, IssueInput{Scope: scope, MaterialID: 7, Quantity: 40})
	require.NoError(t, err)

	report, err := svc.GetMovementReport(ctx, &scope)
	require.NoError(t, err)
	require.Len(t, report.Movements, 2)
	require.Equal(t, "100.000", report.TotalIn.StringFixed(3))
	require.Equal(t, "40.000", report.TotalOut.StringFixed(3))
}

func TestGetAnalyticsConsumptionBreakdown(t *testing.T) {
	repo := &memoryRepo{}
	directory := stubDirectory{
		projects:  map[int64]string{1: "Riverside Apartments"},
		materials: map[int64]string{7: "OPC Cement 53", 9: "TMT Steel 12mm"},
	}
	svc := NewService(repo, directory, nil, nil)
	ctx := context.Background()
	scope := ScopeProject(1)

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 7, Quantity: 100})
	require.NoError(t, err)
	_, err = svc.RecordReceipt(ctx, ReceiptInput{Scope: scope, MaterialID: 9, Quantity: 20, Weight: floatPtr(2)})
	require.NoError(t, err)
	_, err = svc.RecordReceipt(ctx, ReceiptInput{Scope: ScopeGeneral(), MaterialID: 7, Quantity: 50})
	require.NoError(t, err)

	_, err = svc.RecordIssue(ctx, IssueInput{Scope: scope, MaterialID: 7, Quantity: 30})
	require.NoError(t, err)
	_, err = svc.RecordIssue(ctx, IssueInput{Scope: scope, MaterialID: 9, Quantity: 5, Weight: floatPtr(0.5), Units: int64Ptr(12)})
	require.NoError(t, err)
	_, err = svc.RecordIssue(ctx, IssueInput{Scope: ScopeGeneral(), MaterialID: 7, Quantity: 10})
	require.NoError(t, err)

	analytics, err := svc.GetAnalytics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), analytics.TotalProjects)
	require.Equal(t, int64(2), analytics.TotalMaterials)
	require.Equal(t, "170.000", analytics.QuantityIn.StringFixed(3))
	require.Equal(t, "45.000", analytics.QuantityOut.StringFixed(3))
	require.Equal(t, "125.000", analytics.QuantityOnHand.StringFixed(3))
	require.Equal(t, int64(12), analytics.UnitsOut)

	require.Len(t, analytics.Consumption, 2)
	// Scope names collate alphabetically.
	general := analytics.Consumption[0]
	require.Equal(t, GeneralStoreID, general.ScopeID)
	require.Equal(t, GeneralStoreLabel, general.ScopeName)
	require.Len(t, general.Materials, 1)
	require.Nil(t, general.Materials[0].Weight)
	require.Nil(t, general.Materials[0].Units)

	project := analytics.Consumption[1]
	require.Equal(t, int64(1), project.ScopeID)
	require.Equal(t, "Riverside Apartments", project.ScopeName)
	require.Len(t, project.Materials, 2)
	require.Equal(t, "OPC Cement 53", project.Materials[0].MaterialName)
	require.Nil(t, project.Materials[0].Weight)
	require.Equal(t, "TMT Steel 12mm", project.Materials[1].MaterialName)
	require.NotNil(t, project.Materials[1].Weight)
	require.Equal(t, "0.500", project.Materials[1].Weight.StringFixed(3))
	require.NotNil(t, project.Materials[1].Units)
	require.Equal(t, int64(12), *project.Materials[1].Units)
}

type cancelAwareRepo struct {
	*memoryRepo
}

func (r *cancelAwareRepo) Batches(ctx context.Context, scope *Scope) ([]Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memoryRepo.Batches(ctx, scope)
}

func (r *cancelAwareRepo) Issues(ctx context.Context, scope *Scope) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.memoryRepo.Issues(ctx, scope)
}

func TestGetAnalyticsSurvivesCallerCancellation(t *testing.T) {
	repo := &cancelAwareRepo{memoryRepo: &memoryRepo{}}
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.RecordReceipt(context.Background(), ReceiptInput{Scope: ScopeGeneral(), MaterialID: 7, Quantity: 10})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	analytics, err := svc.GetAnalytics(ctx)
	require.NoError(t, err)
	require.Equal(t, "10.000", analytics.QuantityIn.StringFixed(3))
}

func TestMovementsAreAudited(t *testing.T) {
	repo := &memoryRepo{}
	audit := &memoryAudit{}
	svc := NewService(repo, nil, nil, audit)
	ctx := context.Background()

	_, err := svc.RecordReceipt(ctx, ReceiptInput{Scope: ScopeProject(1), MaterialID: 7, Quantity: 10, ActorID: 42})
	require.NoError(t, err)
	_, err = svc.RecordIssue(ctx, IssueInput{Scope: ScopeProject(1), MaterialID: 7, Quantity: 4, ActorID: 42})
	require.NoError(t, err)

	require.Len(t, audit.entries, 2)
	require.Equal(t, "ledger:receipt", audit.entries[0].Action)
	require.Equal(t, "ledger:issue", audit.entries[1].Action)
	require.Equal(t, int64(42), audit.entries[0].ActorID)
	require.Equal(t, "project:1", audit.entries[1].Meta["scope"])
	require.Equal(t, "4.000", audit.entries[1].Meta["quantity"])
}

