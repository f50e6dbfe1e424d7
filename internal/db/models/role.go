// Package models - role.go defines the Role model: a named authorization role addressed by name.
package models

import "time"

// Role is a named set of authorities. Names are unique and case-sensitive.
type Role struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"-"`
}
