// Package domain defines the record entity, its role vocabulary, the
// repository contract and the error taxonomy shared by every recordkeeper
// backend.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Role identifies the access level granted to a record holder.
type Role string

// Supported roles. The set is closed; anything else fails validation.
const (
	// RoleAdmin grants full administrative access.
	RoleAdmin Role = "admin"
	// RoleEditor grants content editing access.
	RoleEditor Role = "editor"
	// RoleViewer grants read-only access.
	RoleViewer Role = "viewer"
)

// Roles returns the closed role set in declaration order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleEditor, RoleViewer}
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (r Role) String() string { return string(r) }

// ParseRole resolves a case-insensitive role name, ignoring surrounding
// whitespace. Unknown names yield a *ValidationError.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", &ValidationError{Field: "role", Message: "unknown role " + strconv.Quote(raw)}
	}
	return role, nil
}

// Record is the single entity managed by the store.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact"`
	Role      Role      `json:"role"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record. A nil Tags slice stays nil.
func (r Record) Clone() Record {
	cp := r
	if r.Tags != nil {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	return cp
}

// HasTag reports whether tag is attached to the record.
func (r Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MatchesName reports whether query occurs in the record name, ignoring case.
// An empty query matches every record.
func (r Record) MatchesName(query string) bool {
	return strings.Contains(strings.ToLower(r.Name), strings.ToLower(query))
}
