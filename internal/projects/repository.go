package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline-erp/forgeline-erp/internal/platform/db"
	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for projects.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const projectColumns = `id, name, code, status, manager_id, budget, start_date, end_date, created_at, updated_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Code, &p.Status, &p.ManagerID, &p.Budget, &p.StartDate, &p.EndDate, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (t *txRepo) InsertProject(ctx context.Context, p Project) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO projects (name, code, status, manager_id, budget, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, p.Name, p.Code, p.Status, p.ManagerID, p.Budget, p.StartDate, p.EndDate, p.CreatedAt, p.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetProjectForUpdate(ctx context.Context, id int64) (Project, error) {
	p, err := scanProject(t.tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, fmt.Errorf("projects: %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("projects: %d: %w", id, err)
	}
	return p, nil
}

func (t *txRepo) UpdateProject(ctx context.Context, p Project) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE projects
		SET name = $2, status = $3, manager_id = $4, budget = $5,
			start_date = $6, end_date = $7, updated_at = $8
		WHERE id = $1
	`, p.ID, p.Name, p.Status, p.ManagerID, p.Budget, p.StartDate, p.EndDate, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

func (t *txRepo) InsertHistory(ctx context.Context, e HistoryEntry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO project_history (project_id, actor_id, field, old_value, new_value, note, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, e.ProjectID, e.ActorID, e.Field, e.OldValue, e.NewValue, e.Note, e.At).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert project history: %w", err)
	}
	return id, nil
}

const coColumns = `id, number, project_id, status, description, additional_days,
	additional_cost, approver_id, approved_at, reason, created_at, updated_at`

func scanChangeOrder(row pgx.Row) (ChangeOrder, error) {
	var co ChangeOrder
	err := row.Scan(
		&co.ID, &co.Number, &co.ProjectID, &co.Status, &co.Description, &co.AdditionalDays,
		&co.AdditionalCost, &co.ApproverID, &co.ApprovedAt, &co.Reason, &co.CreatedAt, &co.UpdatedAt,
	)
	return co, err
}

func (t *txRepo) InsertChangeOrder(ctx context.Context, co ChangeOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO change_orders (
			number, project_id, status, description, additional_days, additional_cost,
			reason, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, co.Number, co.ProjectID, co.Status, co.Description, co.AdditionalDays, co.AdditionalCost,
		co.Reason, co.CreatedAt, co.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert change order: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetChangeOrderForUpdate(ctx context.Context, id int64) (ChangeOrder, error) {
	co, err := scanChangeOrder(t.tx.QueryRow(ctx, `SELECT `+coColumns+` FROM change_orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ChangeOrder{}, fmt.Errorf("projects: change order %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return ChangeOrder{}, fmt.Errorf("projects: change order %d: %w", id, err)
	}
	return co, nil
}

func (t *txRepo) UpdateChangeOrder(ctx context.Context, co ChangeOrder) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE change_orders
		SET status = $2, approver_id = $3, approved_at = $4, reason = $5, updated_at = $6
		WHERE id = $1
	`, co.ID, co.Status, co.ApproverID, co.ApprovedAt, co.Reason, co.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update change order: %w", err)
	}
	return nil
}

func (r *Repository) GetProject(ctx context.Context, id int64) (Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, fmt.Errorf("projects: %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("projects: %d: %w", id, err)
	}
	return p, nil
}

func (r *Repository) GetProjectByCode(ctx context.Context, code string) (Project, error) {
	p, err := scanProject(r.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, fmt.Errorf("projects: code %s: %w", code, shared.ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("projects: code %s: %w", code, err)
	}
	return p, nil
}

func (r *Repository) ListProjects(ctx context.Context, p shared.Pagination) ([]Project, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects ORDER BY id DESC LIMIT $1 OFFSET $2
	`, p.Limit(), p.Offset())
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		proj, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, proj)
	}
	return out, rows.Err()
}

func (r *Repository) ListHistory(ctx context.Context, projectID int64) ([]HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, project_id, actor_id, field, old_value, new_value, note, at
		FROM project_history
		WHERE project_id = $1
		ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ActorID, &e.Field, &e.OldValue, &e.NewValue, &e.Note, &e.At); err != nil {
			return nil, fmt.Errorf("scan project history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) GetChangeOrder(ctx context.Context, id int64) (ChangeOrder, error) {
	co, err := scanChangeOrder(r.pool.QueryRow(ctx, `SELECT `+coColumns+` FROM change_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ChangeOrder{}, fmt.Errorf("projects: change order %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return ChangeOrder{}, fmt.Errorf("projects: change order %d: %w", id, err)
	}
	return co, nil
}

func (r *Repository) ListChangeOrdersForProject(ctx context.Context, projectID int64) ([]ChangeOrder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+coColumns+` FROM change_orders WHERE project_id = $1 ORDER BY id DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list change orders: %w", err)
	}
	defer rows.Close()
	var out []ChangeOrder
	for rows.Next() {
		co, err := scanChangeOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change order: %w", err)
		}
		out = append(out, co)
	}
	return out, rows.Err()
}
