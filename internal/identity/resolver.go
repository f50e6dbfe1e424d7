package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/identity-sync/identity-sync/internal/db/models"
)

// IdentityWithAudit is an identity together with its authorities and audit history.
type IdentityWithAudit struct {
	Identity    *models.Identity      `json:"identity"`
	Authorities []string              `json:"authorities"`
	AuditLogs   []*models.AuditRecord `json:"audit_logs"`
}

// AuthoritiesFor projects an identity's roles onto its authority set: the sorted,
// de-duplicated role names. An identity with no roles has no authorities.
func AuthoritiesFor(identity *models.Identity) []string {
	if identity == nil {
		return []string{}
	}
	return identity.RoleNames()
}

// Resolver maps roles to authorities and performs administrative role changes.
type Resolver struct {
	store IdentityStore
	roles RoleCatalog
	audit AuditSink
	now   func() time.Time
}

// NewResolver creates a Resolver.
func NewResolver(store IdentityStore, roles RoleCatalog, audit AuditSink) *Resolver {
	return &Resolver{store: store, roles: roles, audit: audit, now: time.Now}
}

// ReassignRoles replaces the identity's role set with the named roles. Every name must
// resolve; otherwise nothing is written and the error names all unknown roles.
// On success a ROLE_UPDATE record is appended and the identity is returned with its
// audit history. The role replacement commits before the audit append, so an append
// error means the new roles are already in force; repeating the call with the same
// names is safe and records the update.
func (r *Resolver) ReassignRoles(ctx context.Context, identityID int64, names []string, origin Origin) (*IdentityWithAudit, error) {
	const op = "ReassignRoles"

	identity, err := r.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if identity == nil {
		return nil, newError(KindNotFound, op, fmt.Errorf("identity %d", identityID))
	}

	roles := make([]models.Role, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	var missing []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		role, err := r.roles.FindByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %q: %w", name, err)
		}
		if role == nil {
			missing = append(missing, name)
			continue
		}
		roles = append(roles, *role)
	}
	if len(missing) > 0 {
		return nil, &Error{Kind: KindRoleNotFound, Op: op, Names: missing}
	}

	now := r.now()
	if err := r.store.ReplaceRoles(ctx, identity.ID, roles, now); err != nil {
		return nil, fmt.Errorf("failed to replace roles: %w", err)
	}
	identity.Roles = roles
	identity.UpdatedAt = now

	authorities := AuthoritiesFor(identity)
	id := identity.ID
	if err := r.audit.Append(ctx, AuditEntry{
		IdentityID:  &id,
		Event:       models.AuditEventRoleUpdate,
		Description: fmt.Sprintf("Roles of %s set to [%s]", identity.Username, strings.Join(authorities, ", ")),
		Origin:      origin,
	}); err != nil {
		slog.Error("roles replaced but audit append failed", "identity_id", id, "roles", authorities, "error", err)
		return nil, fmt.Errorf("roles of identity %d replaced, failed to record role update: %w", id, err)
	}
	slog.Info("identity roles replaced", "identity_id", id, "roles", authorities)

	history, err := r.audit.ListByIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit history: %w", err)
	}

	return &IdentityWithAudit{Identity: identity, Authorities: authorities, AuditLogs: history}, nil
}
