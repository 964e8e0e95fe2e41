package models

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// UserStatus is the moderation state of a participant.
type UserStatus string

// User statuses.
const (
	UserPending  UserStatus = "PENDING"
	UserApproved UserStatus = "APPROVED"
	UserRejected UserStatus = "REJECTED"
)

// UserRole controls access to admin operations (approval, timer, sessions).
type UserRole string

// User roles.
const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

// User is a participant identity. Phone is the natural login key.
type User struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Phone  string     `json:"phone"`
	Status UserStatus `json:"status,omitempty"`
	Role   UserRole   `json:"role,omitempty"`
}

// Validate checks the registration fields.
func (u User) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.ID, validation.Required),
		validation.Field(&u.Name, validation.Required),
	)
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
