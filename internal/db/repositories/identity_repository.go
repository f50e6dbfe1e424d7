// Package repositories implements the data access layer for identity-sync.
// Each repository encapsulates the SQL for one entity; nothing above this layer issues SQL.
// Lookups return (nil, nil) when no row matches.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/identity-sync/identity-sync/internal/identity"
	"github.com/lib/pq"
)

// subjectConstraint is the unique constraint guarding one identity per subject.
const subjectConstraint = "identities_subject_key"

const identityColumns = `i.id, i.subject, i.email, i.username, i.display_name, i.status, i.created_at, i.updated_at, i.last_login`

const identityWithRolesQuery = `
	SELECT ` + identityColumns + `, r.id, r.name, r.description
	FROM identities i
	LEFT JOIN identity_roles ir ON ir.identity_id = i.id
	LEFT JOIN roles r ON r.id = ir.role_id
`

// IdentityRepository handles identity and identity-role database operations
type IdentityRepository struct {
	db *sql.DB
}

// NewIdentityRepository creates a new IdentityRepository
func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// FindBySubject retrieves an identity and its roles by provider subject
func (r *IdentityRepository) FindBySubject(ctx context.Context, subject string) (*models.Identity, error) {
	return r.findOne(ctx, identityWithRolesQuery+`WHERE i.subject = $1 ORDER BY r.name`, subject)
}

// FindByEmail retrieves the oldest identity carrying email
func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := identityWithRolesQuery + `
		WHERE i.id = (SELECT id FROM identities WHERE email = $1 ORDER BY id LIMIT 1)
		ORDER BY r.name`
	return r.findOne(ctx, query, email)
}

// FindByID retrieves an identity and its roles by internal ID
func (r *IdentityRepository) FindByID(ctx context.Context, id int64) (*models.Identity, error) {
	return r.findOne(ctx, identityWithRolesQuery+`WHERE i.id = $1 ORDER BY r.name`, id)
}

func (r *IdentityRepository) findOne(ctx context.Context, query string, arg interface{}) (*models.Identity, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found *models.Identity
	for rows.Next() {
		var (
			i        models.Identity
			roleID   sql.NullInt64
			roleName sql.NullString
			roleDesc *string
		)
		if err := rows.Scan(
			&i.ID, &i.Subject, &i.Email, &i.Username, &i.DisplayName, &i.Status,
			&i.CreatedAt, &i.UpdatedAt, &i.LastLogin,
			&roleID, &roleName, &roleDesc,
		); err != nil {
			return nil, err
		}
		if found == nil {
			i.Roles = []models.Role{}
			found = &i
		}
		if roleID.Valid {
			found.Roles = append(found.Roles, models.Role{ID: roleID.Int64, Name: roleName.String, Description: roleDesc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return found, nil
}

// Create inserts the identity and its roles in one transaction and sets identity.ID.
// A duplicate subject yields an identity.ErrConflict-kind error.
func (r *IdentityRepository) Create(ctx context.Context, ident *models.Identity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if ident.Status == "" {
		ident.Status = models.IdentityStatusActive
	}

	query := `
		INSERT INTO identities (subject, email, username, display_name, status, created_at, updated_at, last_login)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err = tx.QueryRowContext(ctx, query,
		ident.Subject,
		ident.Email,
		ident.Username,
		ident.DisplayName,
		ident.Status,
		ident.CreatedAt,
		ident.UpdatedAt,
		ident.LastLogin,
	).Scan(&ident.ID)
	if err != nil {
		if isSubjectViolation(err) {
			return identity.Conflict("Create", err)
		}
		return err
	}

	if err := insertRoles(ctx, tx, ident.ID, ident.Roles); err != nil {
		return err
	}

	return tx.Commit()
}

// Update writes the mutable profile fields and timestamps. The subject column is never updated.
func (r *IdentityRepository) Update(ctx context.Context, ident *models.Identity) error {
	query := `
		UPDATE identities
		SET email = $2, username = $3, display_name = $4, updated_at = $5, last_login = $6
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		ident.ID,
		ident.Email,
		ident.Username,
		ident.DisplayName,
		ident.UpdatedAt,
		ident.LastLogin,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res, ident.ID)
}

// TouchLogin sets last_login and updated_at to at
func (r *IdentityRepository) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE identities SET last_login = $2, updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	return expectOneRow(res, id)
}

// ReplaceRoles set-replaces the identity's roles in one transaction
func (r *IdentityRepository) ReplaceRoles(ctx context.Context, id int64, roles []models.Role, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE identities SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if err := expectOneRow(res, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_roles WHERE identity_id = $1`, id); err != nil {
		return err
	}

	if err := insertRoles(ctx, tx, id, roles); err != nil {
		return err
	}

	return tx.Commit()
}

// Search returns a page of identities whose username or email contains query,
// case-insensitively, ordered by id. An empty query matches everything.
func (r *IdentityRepository) Search(ctx context.Context, query string, page, size int) (*models.IdentityPage, error) {
	where := ""
	args := make([]interface{}, 0, 3)
	if query != "" {
		where = ` WHERE username ILIKE $1 OR email ILIKE $1`
		args = append(args, "%"+escapeLike(query)+"%")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	n := len(args)
	listQuery := fmt.Sprintf(`
		SELECT id, subject, email, username, display_name, status, created_at, updated_at, last_login
		FROM identities%s
		ORDER BY id
		LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	args = append(args, size, page*size)

	rows, err := r.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*models.Identity, 0, size)
	byID := make(map[int64]*models.Identity, size)
	ids := make([]int64, 0, size)
	for rows.Next() {
		i := &models.Identity{Roles: []models.Role{}}
		if err := rows.Scan(
			&i.ID, &i.Subject, &i.Email, &i.Username, &i.DisplayName, &i.Status,
			&i.CreatedAt, &i.UpdatedAt, &i.LastLogin,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
		byID[i.ID] = i
		ids = append(ids, i.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		if err := r.attachRoles(ctx, ids, byID); err != nil {
			return nil, err
		}
	}

	return &models.IdentityPage{Items: items, Total: total, Page: page, Size: size}, nil
}

func (r *IdentityRepository) attachRoles(ctx context.Context, ids []int64, byID map[int64]*models.Identity) error {
	query := `
		SELECT ir.identity_id, r.id, r.name, r.description
		FROM identity_roles ir
		JOIN roles r ON r.id = ir.role_id
		WHERE ir.identity_id = ANY($1)
		ORDER BY r.name
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var identityID int64
		var role models.Role
		if err := rows.Scan(&identityID, &role.ID, &role.Name, &role.Description); err != nil {
			return err
		}
		if i, ok := byID[identityID]; ok {
			i.Roles = append(i.Roles, role)
		}
	}
	return rows.Err()
}

func insertRoles(ctx context.Context, tx *sql.Tx, identityID int64, roles []models.Role) error {
	if len(roles) == 0 {
		return nil
	}
	roleIDs := make([]int64, len(roles))
	for i, role := range roles {
		roleIDs[i] = role.ID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO identity_roles (identity_id, role_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`,
		identityID, pq.Array(roleIDs),
	)
	return err
}

func isSubjectViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && pqErr.Constraint == subjectConstraint
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("identity %d not found", id)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
