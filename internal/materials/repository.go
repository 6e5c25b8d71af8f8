package materials

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sitestock/sitestock/internal/shared"
)

// Repository defines persistence operations for materials and the
// project-material linkage.
type Repository interface {
	Create(ctx context.Context, material Material) (int64, error)
	List(ctx context.Context) ([]Material, error)
	FindByID(ctx context.Context, id int64) (*Material, error)
	Update(ctx context.Context, material Material) error
	Names(ctx context.Context) (map[int64]string, error)

	Link(ctx context.Context, projectID, materialID int64) error
	Unlink(ctx context.Context, projectID, materialID int64) error
	IsLinked(ctx context.Context, projectID, materialID int64) (bool, error)
	LinkedMaterialIDs(ctx context.Context, projectID int64) ([]int64, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const materialColumns = `id, code, name, unit, category, reorder_level, default_store, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, material Material) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO materials (code, name, unit, category, reorder_level, default_store, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW()) RETURNING id`,
		material.Code, material.Name, material.Unit, material.Category,
		nullDecimal(material.ReorderLevel), material.DefaultStore).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, shared.ErrDuplicate
		}
		return 0, err
	}
	return id, nil
}

func (r *PGRepository) List(ctx context.Context) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+materialColumns+` FROM materials ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	materials := []Material{}
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.Code, &m.Name, &m.Unit, &m.Category,
			&m.ReorderLevel, &m.DefaultStore, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (r *PGRepository) FindByID(ctx context.Context, id int64) (*Material, error) {
	var m Material
	err := r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id=$1`, id).
		Scan(&m.ID, &m.Code, &m.Name, &m.Unit, &m.Category,
			&m.ReorderLevel, &m.DefaultStore, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *PGRepository) Update(ctx context.Context, material Material) error {
	tag, err := r.pool.Exec(ctx, `UPDATE materials SET name=$2, unit=$3, category=$4, reorder_level=$5, default_store=$6, updated_at=NOW()
WHERE id=$1`, material.ID, material.Name, material.Unit, material.Category,
		nullDecimal(material.ReorderLevel), material.DefaultStore)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Names returns id → name for all materials, used by ledger reporting.
func (r *PGRepository) Names(ctx context.Context) (map[int64]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM materials`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := map[int64]string{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	return names, rows.Err()
}

func (r *PGRepository) Link(ctx context.Context, projectID, materialID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO project_materials (project_id, material_id)
VALUES ($1, $2) ON CONFLICT DO NOTHING`, projectID, materialID)
	return err
}

func (r *PGRepository) Unlink(ctx context.Context, projectID, materialID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM project_materials WHERE project_id=$1 AND material_id=$2`,
		projectID, materialID)
	return err
}

func (r *PGRepository) IsLinked(ctx context.Context, projectID, materialID int64) (bool, error) {
	var linked bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM project_materials WHERE project_id=$1 AND material_id=$2)`,
		projectID, materialID).Scan(&linked)
	return linked, err
}

func (r *PGRepository) LinkedMaterialIDs(ctx context.Context, projectID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT material_id FROM project_materials WHERE project_id=$1 ORDER BY material_id ASC`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullDecimal(value decimal.NullDecimal) any {
	if !value.Valid {
		return nil
	}
	return value.Decimal
}

var _ Repository = (*PGRepository)(nil)
