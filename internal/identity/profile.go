package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/identity-sync/identity-sync/internal/db/models"
)

// Paging bounds for admin listings.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// ProfileUpdate carries the self-service profile fields. Nil fields are left unchanged.
// Email is owned by the provider and cannot be changed here.
type ProfileUpdate struct {
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
}

// NormalizePage clamps paging parameters to sane bounds.
func NormalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// CurrentIdentity returns the identity bound to subject.
func (s *Service) CurrentIdentity(ctx context.Context, subject string) (*models.Identity, error) {
	identity, err := s.store.FindBySubject(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if identity == nil {
		return nil, newError(KindNotFound, "CurrentIdentity", fmt.Errorf("no identity for subject"))
	}
	return identity, nil
}

// UpdateProfile applies a self-service profile change and appends a PROFILE_UPDATE record.
func (s *Service) UpdateProfile(ctx context.Context, identityID int64, update ProfileUpdate, origin Origin) (*models.Identity, error) {
	const op = "UpdateProfile"
	if update.Username == nil && update.DisplayName == nil {
		return nil, invalidf(op, "nothing to update")
	}

	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if identity == nil {
		return nil, newError(KindNotFound, op, fmt.Errorf("identity %d", identityID))
	}

	var changed []string
	if update.Username != nil {
		v := strings.TrimSpace(*update.Username)
		if v == "" {
			return nil, invalidf(op, "username must not be empty")
		}
		identity.Username = v
		changed = append(changed, "username")
	}
	if update.DisplayName != nil {
		v := strings.TrimSpace(*update.DisplayName)
		if v == "" {
			return nil, invalidf(op, "display name must not be empty")
		}
		identity.DisplayName = v
		changed = append(changed, "display name")
	}

	identity.UpdatedAt = s.now()
	if err := s.store.Update(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to update identity: %w", err)
	}

	id := identity.ID
	if err := s.audit.Append(ctx, AuditEntry{
		IdentityID:  &id,
		Event:       models.AuditEventProfileUpdate,
		Description: "Updated " + strings.Join(changed, " and "),
		Origin:      origin,
	}); err != nil {
		return nil, fmt.Errorf("failed to record profile update: %w", err)
	}
	return identity, nil
}

// ListIdentities returns a page of identities whose username or email contains query
// (case-insensitive). An empty query lists everything.
func (s *Service) ListIdentities(ctx context.Context, query string, page, size int) (*models.IdentityPage, error) {
	page, size = NormalizePage(page, size)
	result, err := s.store.Search(ctx, strings.TrimSpace(query), page, size)
	if err != nil {
		return nil, fmt.Errorf("failed to search identities: %w", err)
	}
	return result, nil
}

// IdentityDetails returns an identity with its authorities and audit history.
func (s *Service) IdentityDetails(ctx context.Context, identityID int64) (*IdentityWithAudit, error) {
	identity, err := s.store.FindByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if identity == nil {
		return nil, newError(KindNotFound, "IdentityDetails", fmt.Errorf("identity %d", identityID))
	}
	history, err := s.audit.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit history: %w", err)
	}
	return &IdentityWithAudit{Identity: identity, Authorities: AuthoritiesFor(identity), AuditLogs: history}, nil
}

// AuditLog returns a filtered page of the audit trail, newest first.
func (s *Service) AuditLog(ctx context.Context, filter models.AuditFilter, page, size int) (*models.AuditPage, error) {
	if filter.EventType != "" && !filter.EventType.Valid() {
		return nil, invalidf("AuditLog", "unknown event type %q", filter.EventType)
	}
	page, size = NormalizePage(page, size)
	result, err := s.audit.List(ctx, filter, page, size)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return result, nil
}
