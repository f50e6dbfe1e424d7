// Package models - identity.go defines the Identity model: the local record bound to one
// external provider subject, along with its role associations.
package models

import (
	"sort"
	"time"
)

// IdentityStatus is the lifecycle state of a local identity.
type IdentityStatus string

const (
	IdentityStatusActive   IdentityStatus = "ACTIVE"
	IdentityStatusDisabled IdentityStatus = "DISABLED"
)

// Identity represents a local identity reconciled from provider claims.
// Subject is immutable once the record has been created.
type Identity struct {
	ID          int64          `json:"id"`
	Subject     string         `json:"subject"`
	Email       string         `json:"email"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Status      IdentityStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastLogin   time.Time      `json:"last_login"`
	Roles       []Role         `json:"roles"`
}

// RoleNames returns the sorted, de-duplicated names of the identity's roles.
func (i *Identity) RoleNames() []string {
	set := make(map[string]struct{}, len(i.Roles))
	for _, r := range i.Roles {
		set[r.Name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasRole reports whether the identity holds the named role.
func (i *Identity) HasRole(name string) bool {
	for _, r := range i.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// IdentityPage is one page of an identity search.
type IdentityPage struct {
	Items []*Identity `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Size  int         `json:"size"`
}
