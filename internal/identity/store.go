package identity

import (
	"context"
	"time"

	"github.com/identity-sync/identity-sync/internal/db/models"
)

// IdentityStore is the persistence contract for identities and their role
// associations. Lookups return (nil, nil) when no row matches.
type IdentityStore interface {
	FindBySubject(ctx context.Context, subject string) (*models.Identity, error)
	// FindByEmail returns the oldest identity with the given email.
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
	FindByID(ctx context.Context, id int64) (*models.Identity, error)
	Search(ctx context.Context, query string, page, size int) (*models.IdentityPage, error)
	// Create persists the identity with its roles in one unit and assigns ID.
	// A subject uniqueness violation is reported as a KindConflict error.
	Create(ctx context.Context, identity *models.Identity) error
	// Update writes the mutable profile fields and timestamps. Subject is never written.
	Update(ctx context.Context, identity *models.Identity) error
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	// ReplaceRoles set-replaces the identity's roles in one unit.
	ReplaceRoles(ctx context.Context, id int64, roles []models.Role, at time.Time) error
}

// RoleCatalog resolves role names. FindByName returns (nil, nil) for unknown names.
type RoleCatalog interface {
	FindByName(ctx context.Context, name string) (*models.Role, error)
	List(ctx context.Context) ([]*models.Role, error)
}

// AuditEntry is what the core hands to an AuditSink. The sink assigns id and timestamp.
type AuditEntry struct {
	IdentityID  *int64
	Event       models.AuditEvent
	Description string
	Origin      Origin
}

// AuditSink is the append-only audit trail.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
	ListByIdentity(ctx context.Context, identityID int64) ([]*models.AuditRecord, error)
	List(ctx context.Context, filter models.AuditFilter, page, size int) (*models.AuditPage, error)
}

// DefaultRoleSource yields the role name granted to newly created identities.
// It is read on every create so configuration changes apply without restart.
type DefaultRoleSource interface {
	Name() string
}
