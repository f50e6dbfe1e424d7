package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/identity-sync/identity-sync/internal/telemetry"
)

// Reconciler implements find-or-create with profile sync and login bookkeeping.
type Reconciler struct {
	store       IdentityStore
	roles       RoleCatalog
	defaultRole DefaultRoleSource
	now         func() time.Time
}

// NewReconciler creates a Reconciler. defaultRole may be nil, in which case new
// identities are created without roles.
func NewReconciler(store IdentityStore, roles RoleCatalog, defaultRole DefaultRoleSource) *Reconciler {
	return &Reconciler{store: store, roles: roles, defaultRole: defaultRole, now: time.Now}
}

// FindOrCreate returns the identity bound to subject, creating it when absent.
// An existing identity gets email, username and display name overwritten and its
// last-login bumped. The call never surfaces a subject conflict: a lost create race
// is retried once as an update of the winning row.
func (r *Reconciler) FindOrCreate(ctx context.Context, subject, email, username, displayName string) (*models.Identity, error) {
	const op = "FindOrCreate"
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, invalidf(op, "subject is required")
	}

	existing, err := r.store.FindBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if existing != nil {
		return r.refresh(ctx, existing, email, username, displayName)
	}

	created, err := r.create(ctx, subject, email, username, displayName)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, ErrConflict) {
		return nil, err
	}

	// Another caller created the subject between our read and write.
	telemetry.IdentityReconcileConflictsTotal.Inc()
	slog.Debug("identity create lost subject race, updating winner", "subject", subject)
	existing, err = r.store.FindBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read identity after conflict: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("identity for subject %q missing after unique violation", subject)
	}
	return r.refresh(ctx, existing, email, username, displayName)
}

func (r *Reconciler) refresh(ctx context.Context, identity *models.Identity, email, username, displayName string) (*models.Identity, error) {
	now := r.now()
	identity.Email = email
	identity.Username = username
	identity.DisplayName = displayName
	identity.UpdatedAt = now
	identity.LastLogin = now
	if err := r.store.Update(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to update identity: %w", err)
	}
	return identity, nil
}

func (r *Reconciler) create(ctx context.Context, subject, email, username, displayName string) (*models.Identity, error) {
	now := r.now()
	identity := &models.Identity{
		Subject:     subject,
		Email:       email,
		Username:    username,
		DisplayName: displayName,
		Status:      models.IdentityStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLogin:   now,
		Roles:       []models.Role{},
	}

	if r.defaultRole != nil {
		if name := r.defaultRole.Name(); name != "" {
			role, err := r.roles.FindByName(ctx, name)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve default role: %w", err)
			}
			if role != nil {
				identity.Roles = append(identity.Roles, *role)
			} else {
				slog.Warn("default role not found, creating identity without roles", "role", name)
			}
		}
	}

	if err := r.store.Create(ctx, identity); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	telemetry.IdentityCreatedTotal.Inc()
	slog.Info("identity created", "identity_id", identity.ID, "subject", subject)
	return identity, nil
}
