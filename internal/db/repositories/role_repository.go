// role_repository.go implements RoleRepository, the role catalog lookups used when
// assigning default and administrative roles.
package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/jmoiron/sqlx"
)

// RoleRepository handles role database operations
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new RoleRepository
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// FindByName retrieves a role by its exact, case-sensitive name
func (r *RoleRepository) FindByName(ctx context.Context, name string) (*models.Role, error) {
	var role models.Role
	err := r.db.GetContext(ctx, &role,
		`SELECT id, name, description, created_at FROM roles WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// List returns all roles ordered by name
func (r *RoleRepository) List(ctx context.Context) ([]*models.Role, error) {
	roles := make([]*models.Role, 0)
	if err := r.db.SelectContext(ctx, &roles,
		`SELECT id, name, description, created_at FROM roles ORDER BY name`); err != nil {
		return nil, err
	}
	return roles, nil
}
