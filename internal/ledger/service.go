package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/sitestock/sitestock/internal/shared"
)

// RepositoryPort abstracts ledger persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	BatchesByPartition(ctx context.Context, scope Scope, materialID int64) ([]Batch, error)
	IssuesByPartition(ctx context.Context, scope Scope, materialID int64) ([]Issue, error)
	Batches(ctx context.Context, scope *Scope) ([]Batch, error)
	Issues(ctx context.Context, scope *Scope) ([]Issue, error)
}

// TxRepository exposes the mutating operations available inside one
// atomic unit of work.
type TxRepository interface {
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	// EligibleBatchesForUpdate loads and row-locks the partition's open
	// batches ordered by received_at ascending, id ascending.
	EligibleBatchesForUpdate(ctx context.Context, scope Scope, materialID int64) ([]*Batch, error)
	UpdateBatchRemaining(ctx context.Context, batchID int64, remaining decimal.Decimal) error
	InsertIssue(ctx context.Context, issue Issue) (int64, error)
}

// Directory resolves display names for analytics views.
type Directory interface {
	ProjectNames(ctx context.Context) (map[int64]string, error)
	MaterialNames(ctx context.Context) (map[int64]string, error)
}

// ScopeResolver reports which materials belong to a project scope.
type ScopeResolver interface {
	LinkedMaterialIDs(ctx context.Context, projectID int64) ([]int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates receipt recording, FIFO issue recording and the
// derived aggregate queries.
type Service struct {
	repo      RepositoryPort
	directory Directory
	resolver  ScopeResolver
	audit     AuditPort
	analytics singleflight.Group
}

// NewService builds Service. Directory, resolver and audit may be nil
// in tests.
func NewService(repo RepositoryPort, directory Directory, resolver ScopeResolver, audit AuditPort) *Service {
	return &Service{repo: repo, directory: directory, resolver: resolver, audit: audit}
}

// ReceiptInput describes an inward movement to record.
type ReceiptInput struct {
	Scope      Scope
	MaterialID int64
	Quantity   float64
	ReceivedAt *time.Time

	BatchLabel string
	Weight     *float64
	Units      *int64

	Supplier      string
	InvoiceNumber string
	InvoiceDate   *time.Time
	VehicleNumber string
	Reference     string
	Remarks       string

	ActorID int64
}

// IssueInput describes an outward movement to record.
type IssueInput struct {
	Scope      Scope
	MaterialID int64
	Quantity   float64
	IssuedAt   *time.Time

	Weight *float64
	Units  *int64

	IssuedTo      string
	Designation   string
	StoreIncharge string
	HandoverDate  *time.Time
	Reference     string
	Remarks       string

	ActorID int64
}

// RecordReceipt stores one new batch with remaining equal to the
// received quantity. Every call creates a fresh batch; deduplication is
// the caller's concern.
func (s *Service) RecordReceipt(ctx context.Context, input ReceiptInput) (Movement, error) {
	if input.MaterialID == 0 {
		return Movement{}, fmt.Errorf("ledger: material required")
	}
	quantity, err := NormalizeQuantity(input.Quantity)
	if err != nil {
		return Movement{}, err
	}

	receivedAt := time.Now().UTC()
	if input.ReceivedAt != nil {
		receivedAt = input.ReceivedAt.UTC()
	}

	reference := input.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	batch := Batch{
		Scope:         input.Scope,
		MaterialID:    input.MaterialID,
		Quantity:      quantity,
		Remaining:     quantity,
		ReceivedAt:    receivedAt,
		BatchLabel:    input.BatchLabel,
		Weight:        NormalizeOptional(input.Weight),
		Units:         input.Units,
		Supplier:      input.Supplier,
		InvoiceNumber: input.InvoiceNumber,
		InvoiceDate:   input.InvoiceDate,
		VehicleNumber: input.VehicleNumber,
		Reference:     reference,
		Remarks:       input.Remarks,
		CreatedAt:     time.Now().UTC(),
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		return nil
	})
	if err != nil {
		return Movement{}, err
	}

	s.recordAudit(ctx, input.ActorID, "ledger:receipt", batch.ID, input.Scope, input.MaterialID, quantity)
	return movementFromBatch(batch), nil
}

// RecordIssue allocates the requested quantity against the partition's
// oldest open batches and persists the issue, its consumptions and the
// updated batch remainders as one atomic unit.
func (s *Service) RecordIssue(ctx context.Context, input IssueInput) (Movement, error) {
	if input.MaterialID == 0 {
		return Movement{}, fmt.Errorf("ledger: material required")
	}
	quantity, err := NormalizeQuantity(input.Quantity)
	if err != nil {
		return Movement{}, err
	}

	issuedAt := time.Now().UTC()
	if input.IssuedAt != nil {
		issuedAt = input.IssuedAt.UTC()
	}

	reference := input.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	issue := Issue{
		Scope:         input.Scope,
		MaterialID:    input.MaterialID,
		Quantity:      quantity,
		IssuedAt:      issuedAt,
		Weight:        NormalizeOptional(input.Weight),
		Units:         input.Units,
		IssuedTo:      input.IssuedTo,
		Designation:   input.Designation,
		StoreIncharge: input.StoreIncharge,
		HandoverDate:  input.HandoverDate,
		Reference:     reference,
		Remarks:       input.Remarks,
		CreatedAt:     time.Now().UTC(),
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batches, err := tx.EligibleBatchesForUpdate(ctx, input.Scope, input.MaterialID)
		if err != nil {
			return err
		}
		allocations, err := allocate(batches, quantity)
		if err != nil {
			return err
		}
		for _, alloc := range allocations {
			if err := tx.UpdateBatchRemaining(ctx, alloc.Batch.ID, alloc.NewRemaining); err != nil {
				return err
			}
			issue.Consumptions = append(issue.Consumptions, Consumption{
				BatchID:    alloc.Batch.ID,
				BatchLabel: alloc.Batch.BatchLabel,
				Amount:     alloc.Amount,
			})
		}
		id, err := tx.InsertIssue(ctx, issue)
		if err != nil {
			return err
		}
		issue.ID = id
		return nil
	})
	if err != nil {
		return Movement{}, err
	}

	s.recordAudit(ctx, input.ActorID, "ledger:issue", issue.ID, input.Scope, input.MaterialID, quantity)
	return movementFromIssue(issue), nil
}

// GetStats recomputes the aggregate figures for one (scope, material)
// partition from its full batch and issue histories.
func (s *Service) GetStats(ctx context.Context, scope Scope, materialID int64) (MaterialStats, error) {
	batches, err := s.repo.BatchesByPartition(ctx, scope, materialID)
	if err != nil {
		return MaterialStats{}, err
	}
	issues, err := s.repo.IssuesByPartition(ctx, scope, materialID)
	if err != nil {
		return MaterialStats{}, err
	}
	return buildStats(materialID, batches, issues), nil
}

// GetMaterialDetail returns stats plus the partition's inward, outward
// and merged movement lists.
func (s *Service) GetMaterialDetail(ctx context.Context, scope Scope, materialID int64) (MaterialDetail, error) {
	batches, err := s.repo.BatchesByPartition(ctx, scope, materialID)
	if err != nil {
		return MaterialDetail{}, err
	}
	issues, err := s.repo.IssuesByPartition(ctx, scope, materialID)
	if err != nil {
		return MaterialDetail{}, err
	}

	inwards := make([]Movement, 0, len(batches))
	for _, b := range batches {
		inwards = append(inwards, movementFromBatch(b))
	}
	outwards := make([]Movement, 0, len(issues))
	for _, i := range issues {
		outwards = append(outwards, movementFromIssue(i))
	}
	sortMovementsDesc(outwards)

	history := make([]Movement, 0, len(inwards)+len(outwards))
	history = append(history, inwards...)
	history = append(history, outwards...)
	sortMovementsDesc(history)

	return MaterialDetail{
		Stats:    buildStats(materialID, batches, issues),
		Inwards:  inwards,
		Outwards: outwards,
		History:  history,
	}, nil
}

// GetScopeStats builds per-material stats for every material belonging
// to the scope: linked materials for a project, materials with recorded
// movements for the general store.
func (s *Service) GetScopeStats(ctx context.Context, scope Scope) ([]MaterialStats, error) {
	materialIDs, err := s.scopeMaterialIDs(ctx, scope)
	if err != nil {
		return nil, err
	}
	stats := make([]MaterialStats, 0, len(materialIDs))
	for _, id := range materialIDs {
		st, err := s.GetStats(ctx, scope, id)
		if err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, nil
}

// GetHistory merges receipts and issues, newest first. With equal
// timestamps issues sort before receipts, then higher ids first, which
// keeps merged pages stable across calls.
func (s *Service) GetHistory(ctx context.Context, filter HistoryFilter) ([]Movement, error) {
	batches, err := s.repo.Batches(ctx, filter.Scope)
	if err != nil {
		return nil, err
	}
	issues, err := s.repo.Issues(ctx, filter.Scope)
	if err != nil {
		return nil, err
	}

	movements := make([]Movement, 0, len(batches)+len(issues))
	for _, b := range batches {
		movements = append(movements, movementFromBatch(b))
	}
	for _, i := range issues {
		movements = append(movements, movementFromIssue(i))
	}
	sortMovementsDesc(movements)

	if filter.Limit > 0 && len(movements) > filter.Limit {
		movements = movements[:filter.Limit]
	}
	return movements, nil
}

// GetMovementReport returns the scope-filtered history with quantity
// totals per direction.
func (s *Service) GetMovementReport(ctx context.Context, scope *Scope) (MovementReport, error) {
	movements, err := s.GetHistory(ctx, HistoryFilter{Scope: scope})
	if err != nil {
		return MovementReport{}, err
	}
	report := MovementReport{Movements: movements, TotalIn: decimal.Zero, TotalOut: decimal.Zero}
	for _, m := range movements {
		switch m.Type {
		case MovementIn:
			report.TotalIn = report.TotalIn.Add(m.Quantity)
		case MovementOut:
			report.TotalOut = report.TotalOut.Add(m.Quantity)
		}
	}
	return report, nil
}

// GetAnalytics recomputes the system-wide totals and the per-scope
// consumption breakdown. Concurrent identical calls are collapsed with
// singleflight; nothing is cached between calls.
func (s *Service) GetAnalytics(ctx context.Context) (Analytics, error) {
	// The shared computation must not die with the leading caller's
	// request; piggybacked callers still expect a result.
	computeCtx := context.WithoutCancel(ctx)
	result, err, _ := s.analytics.Do("analytics", func() (any, error) {
		return s.computeAnalytics(computeCtx)
	})
	if err != nil {
		return Analytics{}, err
	}
	return result.(Analytics), nil
}

func (s *Service) computeAnalytics(ctx context.Context) (Analytics, error) {
	batches, err := s.repo.Batches(ctx, nil)
	if err != nil {
		return Analytics{}, err
	}
	issues, err := s.repo.Issues(ctx, nil)
	if err != nil {
		return Analytics{}, err
	}

	analytics := Analytics{
		QuantityIn: decimal.Zero, QuantityOut: decimal.Zero, QuantityOnHand: decimal.Zero,
		WeightIn: decimal.Zero, WeightOut: decimal.Zero, WeightOnHand: decimal.Zero,
	}
	for _, b := range batches {
		analytics.QuantityIn = analytics.QuantityIn.Add(b.Quantity)
		analytics.QuantityOnHand = analytics.QuantityOnHand.Add(b.Remaining)
		if b.Weight.Valid {
			analytics.WeightIn = analytics.WeightIn.Add(b.Weight.Decimal)
		}
		if b.Units != nil {
			analytics.UnitsIn += *b.Units
		}
	}
	for _, i := range issues {
		analytics.QuantityOut = analytics.QuantityOut.Add(i.Quantity)
		if i.Weight.Valid {
			analytics.WeightOut = analytics.WeightOut.Add(i.Weight.Decimal)
		}
		if i.Units != nil {
			analytics.UnitsOut += *i.Units
		}
	}
	analytics.WeightOnHand = analytics.WeightIn.Sub(analytics.WeightOut)
	analytics.UnitsOnHand = analytics.UnitsIn - analytics.UnitsOut

	projectNames := map[int64]string{}
	materialNames := map[int64]string{}
	if s.directory != nil {
		if projectNames, err = s.directory.ProjectNames(ctx); err != nil {
			return Analytics{}, err
		}
		if materialNames, err = s.directory.MaterialNames(ctx); err != nil {
			return Analytics{}, err
		}
	}
	analytics.TotalProjects = int64(len(projectNames))
	analytics.TotalMaterials = int64(len(materialNames))
	analytics.Consumption = buildConsumption(issues, projectNames, materialNames)
	return analytics, nil
}

// buildConsumption groups issues by scope then material. Weight and
// unit figures are omitted (nil) when the group total is zero.
func buildConsumption(issues []Issue, projectNames, materialNames map[int64]string) []ScopeConsumption {
	type materialTotals struct {
		quantity decimal.Decimal
		weight   decimal.Decimal
		units    int64
	}
	grouped := map[Scope]map[int64]*materialTotals{}
	for _, issue := range issues {
		byMaterial, ok := grouped[issue.Scope]
		if !ok {
			byMaterial = map[int64]*materialTotals{}
			grouped[issue.Scope] = byMaterial
		}
		totals, ok := byMaterial[issue.MaterialID]
		if !ok {
			totals = &materialTotals{quantity: decimal.Zero, weight: decimal.Zero}
			byMaterial[issue.MaterialID] = totals
		}
		totals.quantity = totals.quantity.Add(issue.Quantity)
		if issue.Weight.Valid {
			totals.weight = totals.weight.Add(issue.Weight.Decimal)
		}
		if issue.Units != nil {
			totals.units += *issue.Units
		}
	}

	collator := collate.New(language.English)
	out := make([]ScopeConsumption, 0, len(grouped))
	for scope, byMaterial := range grouped {
		entry := ScopeConsumption{ScopeID: scope.ReportID(), ScopeName: scopeName(scope, projectNames)}
		for materialID, totals := range byMaterial {
			mc := MaterialConsumption{
				MaterialID:   materialID,
				MaterialName: materialNames[materialID],
				Quantity:     totals.quantity,
			}
			if !totals.weight.IsZero() {
				weight := totals.weight
				mc.Weight = &weight
			}
			if totals.units != 0 {
				units := totals.units
				mc.Units = &units
			}
			entry.Materials = append(entry.Materials, mc)
		}
		sort.Slice(entry.Materials, func(a, b int) bool {
			return collator.CompareString(entry.Materials[a].MaterialName, entry.Materials[b].MaterialName) < 0
		})
		out = append(out, entry)
	}
	sort.Slice(out, func(a, b int) bool {
		return collator.CompareString(out[a].ScopeName, out[b].ScopeName) < 0
	})
	return out
}

func scopeName(scope Scope, projectNames map[int64]string) string {
	if scope.IsGeneral() {
		return GeneralStoreLabel
	}
	if name, ok := projectNames[scope.ProjectID]; ok {
		return name
	}
	return fmt.Sprintf("Project %d", scope.ProjectID)
}

func (s *Service) scopeMaterialIDs(ctx context.Context, scope Scope) ([]int64, error) {
	if !scope.IsGeneral() && s.resolver != nil {
		return s.resolver.LinkedMaterialIDs(ctx, scope.ProjectID)
	}
	batches, err := s.repo.Batches(ctx, &scope)
	if err != nil {
		return nil, err
	}
	issues, err := s.repo.Issues(ctx, &scope)
	if err != nil {
		return nil, err
	}
	seen := map[int64]bool{}
	ids := []int64{}
	for _, b := range batches {
		if !seen[b.MaterialID] {
			seen[b.MaterialID] = true
			ids = append(ids, b.MaterialID)
		}
	}
	for _, i := range issues {
		if !seen[i.MaterialID] {
			seen[i.MaterialID] = true
			ids = append(ids, i.MaterialID)
		}
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, scope Scope, materialID int64, quantity decimal.Decimal) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger_movement",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta: map[string]any{
			"scope":       scope.String(),
			"material_id": materialID,
			"quantity":    quantity.StringFixed(quantityScale),
		},
	})
}

// buildStats folds a partition's batches and issues into MaterialStats.
func buildStats(materialID int64, batches []Batch, issues []Issue) MaterialStats {
	stats := MaterialStats{
		MaterialID: materialID,
		TotalIn:    decimal.Zero, TotalOut: decimal.Zero, CurrentStock: decimal.Zero,
		WeightIn: decimal.Zero, WeightOut: decimal.Zero, CurrentWeight: decimal.Zero,
	}
	for _, b := range batches {
		stats.TotalIn = stats.TotalIn.Add(b.Quantity)
		if b.Weight.Valid {
			stats.WeightIn = stats.WeightIn.Add(b.Weight.Decimal)
		}
		if b.Units != nil {
			stats.UnitsIn += *b.Units
		}
		if stats.LastReceiptAt == nil || b.ReceivedAt.After(*stats.LastReceiptAt) {
			receivedAt := b.ReceivedAt
			stats.LastReceiptAt = &receivedAt
		}
	}
	for _, i := range issues {
		stats.TotalOut = stats.TotalOut.Add(i.Quantity)
		if i.Weight.Valid {
			stats.WeightOut = stats.WeightOut.Add(i.Weight.Decimal)
		}
		if i.Units != nil {
			stats.UnitsOut += *i.Units
		}
		if stats.LastIssueAt == nil || i.IssuedAt.After(*stats.LastIssueAt) {
			issuedAt := i.IssuedAt
			stats.LastIssueAt = &issuedAt
		}
	}
	stats.CurrentStock = stats.TotalIn.Sub(stats.TotalOut)
	stats.CurrentWeight = stats.WeightIn.Sub(stats.WeightOut)
	stats.CurrentUnits = stats.UnitsIn - stats.UnitsOut
	return stats
}

func movementFromBatch(b Batch) Movement {
	return Movement{
		ID:            b.ID,
		Type:          MovementIn,
		Scope:         b.Scope,
		MaterialID:    b.MaterialID,
		Quantity:      b.Quantity,
		OccurredAt:    b.ReceivedAt,
		Weight:        b.Weight,
		Units:         b.Units,
		BatchLabel:    b.Label(),
		Remaining:     decimal.NullDecimal{Decimal: b.Remaining, Valid: true},
		Supplier:      b.Supplier,
		InvoiceNumber: b.InvoiceNumber,
		InvoiceDate:   b.InvoiceDate,
		VehicleNumber: b.VehicleNumber,
		Reference:     b.Reference,
		Remarks:       b.Remarks,
	}
}

func movementFromIssue(i Issue) Movement {
	return Movement{
		ID:            i.ID,
		Type:          MovementOut,
		Scope:         i.Scope,
		MaterialID:    i.MaterialID,
		Quantity:      i.Quantity,
		OccurredAt:    i.IssuedAt,
		Weight:        i.Weight,
		Units:         i.Units,
		IssuedTo:      i.IssuedTo,
		Designation:   i.Designation,
		StoreIncharge: i.StoreIncharge,
		HandoverDate:  i.HandoverDate,
		BatchSummary:  i.BatchSummary(),
		Reference:     i.Reference,
		Remarks:       i.Remarks,
	}
}

// sortMovementsDesc orders newest first; for equal timestamps issues
// sort before receipts, then higher ids first.
func sortMovementsDesc(movements []Movement) {
	sort.SliceStable(movements, func(a, b int) bool {
		ma, mb := movements[a], movements[b]
		if !ma.OccurredAt.Equal(mb.OccurredAt) {
			return ma.OccurredAt.After(mb.OccurredAt)
		}
		if ma.Type != mb.Type {
			return ma.Type == MovementOut
		}
		return ma.ID > mb.ID
	})
}
