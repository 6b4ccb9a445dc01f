// Package accounts manages console user accounts for every deployment
// context through one service.
package accounts

import (
	"time"

	"github.com/danmu-hub/console/internal/permissions"
)

// Roles stored on the users table.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents a console account.
type User struct {
	ID           int64                 `json:"id"`
	Username     string                `json:"username"`
	PasswordHash string                `json:"-"`
	Role         string                `json:"role"`
	Permissions  permissions.Overrides `json:"permissions"`
	PerHourLimit *int                  `json:"perHourLimit"`
	Remark       string                `json:"remark"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// Subject adapts the user for the authorization guards.
func (u User) Subject() permissions.Subject {
	return permissions.Subject{ID: u.ID, Username: u.Username, Permissions: u.Permissions}
}

// NewUser carries the fields required to insert an account.
type NewUser struct {
	Username     string
	PasswordHash string
	Role         string
	Permissions  permissions.Overrides
	PerHourLimit *int
	Remark       string
}

// ListFilter narrows user listings.
type ListFilter struct {
	Query   string
	Page    int
	PerPage int
}

// CreateInput is the payload of the create-user form.
type CreateInput struct {
	Username     string         `json:"username" validate:"required,min=2,max=64,username"`
	Password     string         `json:"password" validate:"required,max=256"`
	PerHourLimit *int           `json:"perHourLimit" validate:"omitempty,min=-1"`
	Remark       string         `json:"remark" validate:"max=500"`
	PermStates   map[string]any `json:"permStates"`
}

// PermissionsView is what the tri-state editor loads for one user.
type PermissionsView struct {
	UserID   int64               `json:"userId"`
	Username string              `json:"username"`
	States   permissions.States  `json:"states"`
	Groups   []permissions.Group `json:"groups"`
	Editable bool                `json:"editable"`
}

// PermissionsUpdate reports the sparse delta that was persisted.
type PermissionsUpdate struct {
	UserID      int64                 `json:"userId"`
	Delta       permissions.Overrides `json:"delta"`
	Permissions permissions.Overrides `json:"permissions"`
}

// Me describes the signed-in user.
type Me struct {
	ID           int64                 `json:"id"`
	Username     string                `json:"username"`
	Role         string                `json:"role"`
	IsSuper      bool                  `json:"isSuper"`
	PerHourLimit *int                  `json:"perHourLimit"`
	Permissions  permissions.Overrides `json:"permissions"`
	States       permissions.States    `json:"states"`
}
