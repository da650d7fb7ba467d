package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/forgeline-erp/forgeline-erp/internal/shared"
)

// Service resolves role and capability assignments.
type Service struct {
	pool  *pgxpool.Pool
	audit *shared.AuditLogger
}

func NewService(pool *pgxpool.Pool, audit *shared.AuditLogger) *Service {
	return &Service{pool: pool, audit: audit}
}

// EffectivePermissions returns the distinct capability names granted to the
// user through any of their roles.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		JOIN user_roles ur ON ur.role_id = rp.role_id
		WHERE ur.user_id = $1
		ORDER BY p.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: effective permissions: %w", err)
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("rbac: scan permission: %w", err)
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// Actor loads the user's capability set as a shared.Actor.
func (s *Service) Actor(ctx context.Context, userID int64) (shared.Actor, error) {
	perms, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return shared.Actor{}, err
	}
	return shared.Actor{ID: userID, Permissions: perms}, nil
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM roles
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, fmt.Errorf("rbac: scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListPermissions returns all known capabilities ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description
		FROM permissions
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, fmt.Errorf("rbac: scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// AssignRole grants the role to the user. Assigning an already held role is a
// no-op.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT true FROM roles WHERE id = $1`, roleID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("rbac: role %d: %w", roleID, shared.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, userID, roleID)
	if err != nil {
		return fmt.Errorf("rbac: assign role: %w", err)
	}
	s.recordAudit(ctx, actorID, "role.assign", userID, roleID)
	return nil
}

// RevokeRole removes the role from the user.
func (s *Service) RevokeRole(ctx context.Context, actorID, userID, roleID int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2
	`, userID, roleID)
	if err != nil {
		return fmt.Errorf("rbac: revoke role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: user %d does not hold role %d: %w", userID, roleID, shared.ErrNotFound)
	}
	s.recordAudit(ctx, actorID, "role.revoke", userID, roleID)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, userID, roleID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "user_role",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     map[string]any{"role_id": roleID},
	})
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}
