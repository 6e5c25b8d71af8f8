package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/platform/db"
)

// Repository persists ledger data in PostgreSQL. The general store is
// stored as a NULL project_id; Scope translation happens entirely here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction.
// Read committed lets a FOR UPDATE that blocked on a concurrent issue
// re-read the committed remainders once the lock clears, so losing an
// allocation race surfaces as insufficient stock rather than a
// serialization failure.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const batchColumns = `id, project_id, material_id, quantity, remaining_quantity, received_at,
batch_label, weight_tons, units_count, supplier, invoice_number, invoice_date,
vehicle_number, reference, remarks, created_at`

const issueColumns = `id, project_id, material_id, quantity, issued_at, weight_tons, units_count,
issued_to, designation, store_incharge, handover_date, reference, remarks, created_at`

func (r *Repository) BatchesByPartition(ctx context.Context, scope Scope, materialID int64) ([]Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches WHERE %s AND material_id=$2 ORDER BY received_at ASC, id ASC`,
		batchColumns, scopeClause("$1"))
	rows, err := r.pool.Query(ctx, query, scopeArg(scope), materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *Repository) IssuesByPartition(ctx context.Context, scope Scope, materialID int64) ([]Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues WHERE %s AND material_id=$2 ORDER BY issued_at ASC, id ASC`,
		issueColumns, scopeClause("$1"))
	rows, err := r.pool.Query(ctx, query, scopeArg(scope), materialID)
	if err != nil {
		return nil, err
	}
	issues, err := scanIssues(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachConsumptions(ctx, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (r *Repository) Batches(ctx context.Context, scope *Scope) ([]Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches ORDER BY received_at ASC, id ASC`, batchColumns)
	args := []any{}
	if scope != nil {
		query = fmt.Sprintf(`SELECT %s FROM batches WHERE %s ORDER BY received_at ASC, id ASC`,
			batchColumns, scopeClause("$1"))
		args = append(args, scopeArg(*scope))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *Repository) Issues(ctx context.Context, scope *Scope) ([]Issue, error) {
	query := fmt.Sprintf(`SELECT %s FROM issues ORDER BY issued_at ASC, id ASC`, issueColumns)
	args := []any{}
	if scope != nil {
		query = fmt.Sprintf(`SELECT %s FROM issues WHERE %s ORDER BY issued_at ASC, id ASC`,
			issueColumns, scopeClause("$1"))
		args = append(args, scopeArg(*scope))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	issues, err := scanIssues(rows)
	if err != nil {
		return nil, err
	}
	if err := r.attachConsumptions(ctx, issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (r *Repository) attachConsumptions(ctx context.Context, issues []Issue) error {
	if len(issues) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(issues))
	index := map[int64]*Issue{}
	for i := range issues {
		ids = append(ids, issues[i].ID)
		index[issues[i].ID] = &issues[i]
	}
	rows, err := r.pool.Query(ctx, `SELECT c.issue_id, c.batch_id, COALESCE(b.batch_label, ''), c.amount
FROM issue_consumptions c
JOIN batches b ON b.id = c.batch_id
WHERE c.issue_id = ANY($1)
ORDER BY c.issue_id ASC, c.id ASC`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var issueID int64
		var c Consumption
		if err := rows.Scan(&issueID, &c.BatchID, &c.BatchLabel, &c.Amount); err != nil {
			return err
		}
		if issue, ok := index[issueID]; ok {
			issue.Consumptions = append(issue.Consumptions, c)
		}
	}
	return rows.Err()
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO batches
(project_id, material_id, quantity, remaining_quantity, received_at, batch_label, weight_tons, units_count,
 supplier, invoice_number, invoice_date, vehicle_number, reference, remarks, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW())
RETURNING id`,
		scopeArg(batch.Scope), batch.MaterialID, batch.Quantity, batch.Remaining, batch.ReceivedAt,
		nullString(batch.BatchLabel), nullDecimalArg(batch.Weight), batch.Units,
		batch.Supplier, batch.InvoiceNumber, batch.InvoiceDate, batch.VehicleNumber,
		batch.Reference, batch.Remarks).Scan(&id)
	return id, err
}

func (r *txRepository) EligibleBatchesForUpdate(ctx context.Context, scope Scope, materialID int64) ([]*Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM batches
WHERE %s AND material_id=$2 AND remaining_quantity > 0
ORDER BY received_at ASC, id ASC
FOR UPDATE`, batchColumns, scopeClause("$1"))
	rows, err := r.tx.Query(ctx, query, scopeArg(scope), materialID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches, err := scanBatches(rows)
	if err != nil {
		return nil, err
	}
	out := make([]*Batch, len(batches))
	for i := range batches {
		out[i] = &batches[i]
	}
	return out, nil
}

func (r *txRepository) UpdateBatchRemaining(ctx context.Context, batchID int64, remaining decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE batches SET remaining_quantity=$2 WHERE id=$1`, batchID, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("ledger: batch %d missing during allocation", batchID)
	}
	return nil
}

func (r *txRepository) InsertIssue(ctx context.Context, issue Issue) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO issues
(project_id, material_id, quantity, issued_at, weight_tons, units_count,
 issued_to, designation, store_incharge, handover_date, reference, remarks, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NOW())
RETURNING id`,
		scopeArg(issue.Scope), issue.MaterialID, issue.Quantity, issue.IssuedAt,
		nullDecimalArg(issue.Weight), issue.Units, issue.IssuedTo, issue.Designation,
		issue.StoreIncharge, issue.HandoverDate, issue.Reference, issue.Remarks).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, c := range issue.Consumptions {
		if _, err := r.tx.Exec(ctx, `INSERT INTO issue_consumptions (issue_id, batch_id, amount)
VALUES ($1,$2,$3)`, id, c.BatchID, c.Amount); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// scopeClause renders the partition predicate; the placeholder carries
// the project id and is ignored for the general store.
func scopeClause(placeholder string) string {
	return fmt.Sprintf(`(project_id IS NOT DISTINCT FROM %s)`, placeholder)
}

func scopeArg(scope Scope) any {
	if scope.IsGeneral() {
		return nil
	}
	return scope.ProjectID
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullDecimalArg(value decimal.NullDecimal) any {
	if !value.Valid {
		return nil
	}
	return value.Decimal
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		var projectID *int64
		var batchLabel *string
		var invoiceDate *time.Time
		if err := rows.Scan(&b.ID, &projectID, &b.MaterialID, &b.Quantity, &b.Remaining, &b.ReceivedAt,
			&batchLabel, &b.Weight, &b.Units, &b.Supplier, &b.InvoiceNumber, &invoiceDate,
			&b.VehicleNumber, &b.Reference, &b.Remarks, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Scope = scopeFromColumn(projectID)
		if batchLabel != nil {
			b.BatchLabel = *batchLabel
		}
		b.InvoiceDate = invoiceDate
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanIssues(rows pgx.Rows) ([]Issue, error) {
	defer rows.Close()
	issues := []Issue{}
	for rows.Next() {
		var i Issue
		var projectID *int64
		var handoverDate *time.Time
		if err := rows.Scan(&i.ID, &projectID, &i.MaterialID, &i.Quantity, &i.IssuedAt, &i.Weight,
			&i.Units, &i.IssuedTo, &i.Designation, &i.StoreIncharge, &handoverDate,
			&i.Reference, &i.Remarks, &i.CreatedAt); err != nil {
			return nil, err
		}
		i.Scope = scopeFromColumn(projectID)
		i.HandoverDate = handoverDate
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

func scopeFromColumn(projectID *int64) Scope {
	if projectID == nil {
		return ScopeGeneral()
	}
	return ScopeProject(*projectID)
}
