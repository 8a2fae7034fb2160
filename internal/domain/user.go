package domain

import "time"

type UserRole string

const (
	RoleViewer UserRole = "viewer"
	RoleAdmin  UserRole = "admin"
	// RoleSystem marks identities provisioned for machine callers. They can
	// never log in.
	RoleSystem UserRole = "system"
)

// SystemLogin is the login of the identity that machine-triggered imports
// are attributed to.
const SystemLogin = "system"

type User struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Login        string    `gorm:"column:login;uniqueIndex;not null" json:"login"`
	Name         string    `gorm:"column:name" json:"name"`
	Role         UserRole  `gorm:"column:role;not null" json:"role"`
	Disabled     bool      `gorm:"column:disabled" json:"disabled"`
	PasswordHash string    `gorm:"column:password_hash" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (User) TableName() string { return "users" }
