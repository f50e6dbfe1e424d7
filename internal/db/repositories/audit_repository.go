// audit_repository.go implements AuditRepository, the append-only store for audit records
// with filtered, paginated listing for the admin audit log.
package repositories

import (
	"context"
	"fmt"

	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/jmoiron/sqlx"
)

const auditColumns = `id, identity_id, event_type, description, ip_address, user_agent, created_at`

// AuditRepository handles audit record database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts a fully populated audit record. Callers assign ID and CreatedAt.
func (r *AuditRepository) Append(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO audit_records (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.IdentityID,
		rec.EventType,
		rec.Description,
		rec.IPAddress,
		rec.UserAgent,
		rec.CreatedAt,
	)
	return err
}

// ListByIdentity returns every record for the identity, newest first
func (r *AuditRepository) ListByIdentity(ctx context.Context, identityID int64) ([]*models.AuditRecord, error) {
	records := make([]*models.AuditRecord, 0)
	err := r.db.SelectContext(ctx, &records,
		`SELECT `+auditColumns+` FROM audit_records WHERE identity_id = $1 ORDER BY created_at DESC, id`,
		identityID)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// List retrieves audit records matching filter with pagination, newest first,
// together with the total number of matches.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter, limit, offset int) ([]*models.AuditRecord, int64, error) {
	where := ` WHERE 1=1`
	args := make([]interface{}, 0, 4)
	paramIndex := 1

	if filter.IdentityID != nil {
		where += fmt.Sprintf(` AND identity_id = $%d`, paramIndex)
		args = append(args, *filter.IdentityID)
		paramIndex++
	}

	if filter.EventType != "" {
		where += fmt.Sprintf(` AND event_type = $%d`, paramIndex)
		args = append(args, filter.EventType)
		paramIndex++
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_records`+where, args...); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + auditColumns + ` FROM audit_records` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	records := make([]*models.AuditRecord, 0)
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
