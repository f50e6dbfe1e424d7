package identity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/identity-sync/identity-sync/internal/db/models"
	"github.com/identity-sync/identity-sync/internal/telemetry"
	"github.com/mssola/useragent"
)

// LoginResult is returned by LoginSync.
type LoginResult struct {
	Identity    *models.Identity `json:"identity"`
	Authorities []string         `json:"authorities"`
}

// Principal identifies who is logging out: either a session login name (an email
// or a subject) or verified token claims.
type Principal struct {
	LoginName string
	Claims    *Claims
}

// LogoutResult reports whether a LOGOUT record was written. Logout itself always succeeds.
type LogoutResult struct {
	Audited    bool   `json:"audited"`
	IdentityID *int64 `json:"identity_id,omitempty"`
}

// AuthorizationContext is the per-request view of an authenticated identity.
type AuthorizationContext struct {
	IdentityID  int64    `json:"identity_id"`
	Subject     string   `json:"subject"`
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	Authorities []string `json:"authorities"`
}

// HasAuthority reports whether the context carries the named authority.
func (a *AuthorizationContext) HasAuthority(name string) bool {
	for _, auth := range a.Authorities {
		if auth == name {
			return true
		}
	}
	return false
}

// LoginSync reconciles the identity behind claims and appends a LOGIN record.
// A failed audit append fails the call; retrying converges on the same identity.
func (s *Service) LoginSync(ctx context.Context, claims *Claims, origin Origin) (*LoginResult, error) {
	const op = "LoginSync"
	if err := claims.validate(op); err != nil {
		telemetry.IdentitySyncTotal.WithLabelValues("login", "error").Inc()
		return nil, err
	}

	email, username, displayName := claims.profile()
	identity, err := s.reconciler.FindOrCreate(ctx, claims.Subject, email, username, displayName)
	if err != nil {
		telemetry.IdentitySyncTotal.WithLabelValues("login", "error").Inc()
		return nil, err
	}

	id := identity.ID
	if err := s.audit.Append(ctx, AuditEntry{
		IdentityID:  &id,
		Event:       models.AuditEventLogin,
		Description: describeSession("Login", origin.Agent),
		Origin:      origin,
	}); err != nil {
		telemetry.IdentitySyncTotal.WithLabelValues("login", "error").Inc()
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	telemetry.IdentitySyncTotal.WithLabelValues("login", "ok").Inc()
	slog.Info("login synced", "identity_id", id, "subject", identity.Subject)
	return &LoginResult{Identity: identity, Authorities: AuthoritiesFor(identity)}, nil
}

// LogoutSync appends a LOGOUT record for the principal's identity when it can be
// resolved. Resolution or audit failures are logged and reported through
// LogoutResult.Audited; the identity is never modified. The only error returned is
// context cancellation.
func (s *Service) LogoutSync(ctx context.Context, principal Principal, origin Origin) (LogoutResult, error) {
	identity, ok := s.resolvePrincipal(ctx, principal)
	if !ok {
		if err := ctx.Err(); err != nil {
			return LogoutResult{}, err
		}
		telemetry.IdentitySyncTotal.WithLabelValues("logout", "unresolved").Inc()
		return LogoutResult{Audited: false}, nil
	}

	id := identity.ID
	if err := s.audit.Append(ctx, AuditEntry{
		IdentityID:  &id,
		Event:       models.AuditEventLogout,
		Description: describeSession("Logout", origin.Agent),
		Origin:      origin,
	}); err != nil {
		slog.Error("failed to record logout", "identity_id", id, "error", err)
		telemetry.IdentitySyncTotal.WithLabelValues("logout", "error").Inc()
		return LogoutResult{Audited: false, IdentityID: &id}, nil
	}

	telemetry.IdentitySyncTotal.WithLabelValues("logout", "ok").Inc()
	slog.Info("logout recorded", "identity_id", id)
	return LogoutResult{Audited: true, IdentityID: &id}, nil
}

// resolvePrincipal looks up the identity behind a logout principal. Claims resolve by
// subject; a login name is tried as an email first and then as a subject.
func (s *Service) resolvePrincipal(ctx context.Context, p Principal) (*models.Identity, bool) {
	if p.Claims != nil {
		if p.Claims.validate("LogoutSync") != nil {
			slog.Warn("logout token has no subject, skipping audit")
			return nil, false
		}
		identity, err := s.store.FindBySubject(ctx, p.Claims.Subject)
		if err != nil {
			slog.Warn("logout identity lookup failed", "error", err)
			return nil, false
		}
		return identity, identity != nil
	}

	if p.LoginName == "" {
		return nil, false
	}
	identity, err := s.store.FindByEmail(ctx, p.LoginName)
	if err != nil {
		slog.Warn("logout identity lookup by email failed", "error", err)
		return nil, false
	}
	if identity != nil {
		return identity, true
	}
	identity, err = s.store.FindBySubject(ctx, p.LoginName)
	if err != nil {
		slog.Warn("logout identity lookup by subject failed", "error", err)
		return nil, false
	}
	return identity, identity != nil
}

// Authenticate converts verified claims into an authorization context for one request.
// Unknown subjects are rejected; only LoginSync creates identities. A successful call
// refreshes last-login.
func (s *Service) Authenticate(ctx context.Context, claims *Claims) (*AuthorizationContext, error) {
	const op = "Authenticate"
	if err := claims.validate(op); err != nil {
		telemetry.AuthenticationFailuresTotal.WithLabelValues("missing_subject").Inc()
		return nil, err
	}

	identity, err := s.store.FindBySubject(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if identity == nil {
		telemetry.AuthenticationFailuresTotal.WithLabelValues("unknown_subject").Inc()
		return nil, newError(KindAuthenticationFailed, op, fmt.Errorf("no identity for subject"))
	}
	if identity.Status == models.IdentityStatusDisabled {
		telemetry.AuthenticationFailuresTotal.WithLabelValues("disabled").Inc()
		return nil, newError(KindAuthenticationFailed, op, fmt.Errorf("identity %d is disabled", identity.ID))
	}

	now := s.now()
	if err := s.store.TouchLogin(ctx, identity.ID, now); err != nil {
		return nil, fmt.Errorf("failed to refresh last login: %w", err)
	}
	identity.LastLogin = now
	identity.UpdatedAt = now

	telemetry.IdentitySyncTotal.WithLabelValues("authenticate", "ok").Inc()
	return &AuthorizationContext{
		IdentityID:  identity.ID,
		Subject:     identity.Subject,
		Email:       identity.Email,
		Username:    identity.Username,
		Authorities: AuthoritiesFor(identity),
	}, nil
}

// describeSession renders an audit description such as "Login from Firefox 120.0 on Linux x86_64".
func describeSession(action, agent string) string {
	if agent == "" {
		return action
	}
	ua := useragent.New(agent)
	if ua.Bot() {
		return fmt.Sprintf("%s from bot %s", action, agent)
	}
	name, version := ua.Browser()
	if name == "" {
		return fmt.Sprintf("%s from %s", action, agent)
	}
	desc := fmt.Sprintf("%s from %s", action, name)
	if version != "" {
		desc += " " + version
	}
	if osName := ua.OS(); osName != "" {
		desc += " on " + osName
	}
	return desc
}
