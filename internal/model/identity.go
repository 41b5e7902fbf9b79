package model

import (
	"slices"
	"time"
)

// Built-in group names. Groups double as capability tags.
const (
	GroupAdmin       = "admin"
	GroupUserManager = "user_manager"
	GroupUser        = "user"
)

// DefaultGroup is assigned to new identities that are created without an
// explicit group set.
const DefaultGroup = GroupUser

// Identity is an authenticated principal. Passwords are stored as bcrypt
// hashes and never serialized.
type Identity struct {
	ID           int64      `json:"id" db:"id"`
	Login        string     `json:"login" db:"login"`
	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email" db:"email"`
	Phone        string     `json:"phone" db:"phone"`
	Mobile       string     `json:"mobile" db:"mobile"`
	Signature    string     `json:"signature" db:"signature"`
	Lang         string     `json:"lang" db:"lang"`
	TZ           string     `json:"tz" db:"tz"`
	Active       bool       `json:"active" db:"active"`
	CompanyID    *int64     `json:"company_id,omitempty" db:"company_id"`
	CompanyIDs   []int64    `json:"company_ids"`
	PasswordHash string     `json:"-" db:"password_hash"`
	LoginDate    *time.Time `json:"login_date,omitempty" db:"login_date"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	Groups       []Group    `json:"groups"`
}

// HasGroup reports whether the identity is a member of the named group.
func (i *Identity) HasGroup(name string) bool {
	return slices.ContainsFunc(i.Groups, func(g Group) bool { return g.Name == name })
}

// IsAdmin reports full administrative capability.
func (i *Identity) IsAdmin() bool {
	return i.HasGroup(GroupAdmin)
}

// CanManageUsers reports whether the identity may edit other identities,
// including admin-only fields and group membership.
func (i *Identity) CanManageUsers() bool {
	return i.IsAdmin() || i.HasGroup(GroupUserManager)
}

// IsUser reports basic internal-user capability, which includes viewing the
// identity directory.
func (i *Identity) IsUser() bool {
	return i.CanManageUsers() || i.HasGroup(GroupUser)
}

// GroupIDs returns the ids of every group the identity belongs to.
func (i *Identity) GroupIDs() []int64 {
	ids := make([]int64, len(i.Groups))
	for n, g := range i.Groups {
		ids[n] = g.ID
	}
	return ids
}

// GroupNames returns the names of every group the identity belongs to.
func (i *Identity) GroupNames() []string {
	names := make([]string, len(i.Groups))
	for n, g := range i.Groups {
		names[n] = g.Name
	}
	return names
}

// Group is a named capability tag.
type Group struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	FullName string `json:"full_name" db:"full_name"`
	Category string `json:"category" db:"category"`
	Comment  string `json:"comment" db:"comment"`
}
