// Package models - audit_record.go defines the append-only AuditRecord model for
// authentication-relevant events (login, logout, role and profile changes).
package models

import "time"

// AuditEvent is the type of an audited event.
type AuditEvent string

const (
	AuditEventLogin         AuditEvent = "LOGIN"
	AuditEventLogout        AuditEvent = "LOGOUT"
	AuditEventRoleUpdate    AuditEvent = "ROLE_UPDATE"
	AuditEventProfileUpdate AuditEvent = "PROFILE_UPDATE"
)

// Valid reports whether e is a known event type.
func (e AuditEvent) Valid() bool {
	switch e {
	case AuditEventLogin, AuditEventLogout, AuditEventRoleUpdate, AuditEventProfileUpdate:
		return true
	}
	return false
}

// AuditRecord is a single audit trail entry. Records are never updated or deleted.
type AuditRecord struct {
	ID          string     `db:"id" json:"id"`
	IdentityID  *int64     `db:"identity_id" json:"identity_id,omitempty"` // Nullable for unattributed events
	EventType   AuditEvent `db:"event_type" json:"event_type"`
	Description string     `db:"description" json:"description"`
	IPAddress   *string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   *string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
}

// AuditFilter narrows an audit listing. Zero values mean "any".
type AuditFilter struct {
	IdentityID *int64
	EventType  AuditEvent
}

// AuditPage is one page of an audit listing.
type AuditPage struct {
	Items []*AuditRecord `json:"items"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Size  int            `json:"size"`
}
