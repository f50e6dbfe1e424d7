package identity

import (
	"context"
	"time"

	"github.com/identity-sync/identity-sync/internal/db/models"
)

// Service is the entry point used by transport adapters. It composes the
// Reconciler and Resolver over one store, role catalog and audit sink.
type Service struct {
	store      IdentityStore
	audit      AuditSink
	reconciler *Reconciler
	resolver   *Resolver
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for every component of the service.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.reconciler.now = now
		s.resolver.now = now
	}
}

// NewService wires a Service.
func NewService(store IdentityStore, roles RoleCatalog, audit AuditSink, defaultRole DefaultRoleSource, opts ...Option) *Service {
	s := &Service{
		store:      store,
		audit:      audit,
		reconciler: NewReconciler(store, roles, defaultRole),
		resolver:   NewResolver(store, roles, audit),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindOrCreate delegates to the Reconciler. It emits no audit record.
func (s *Service) FindOrCreate(ctx context.Context, subject, email, username, displayName string) (*models.Identity, error) {
	return s.reconciler.FindOrCreate(ctx, subject, email, username, displayName)
}

// ReassignRoles delegates to the Resolver.
func (s *Service) ReassignRoles(ctx context.Context, identityID int64, names []string, origin Origin) (*IdentityWithAudit, error) {
	return s.resolver.ReassignRoles(ctx, identityID, names, origin)
}
