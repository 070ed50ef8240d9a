package models

import "time"

// Default role names seeded on first start
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
	RoleData  = "DATA"
)

// Role is managed independently of users and only referenced by UserRole
type Role struct {
	ID        uint      `gorm:"primaryKey" json:"roleid"`
	Name      string    `gorm:"uniqueIndex;size:50;not null" json:"name"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// TableName specifies the table name for Role model
func (Role) TableName() string {
	return "roles"
}

// UserRole links a user to a role. One row per (user, role) pair.
type UserRole struct {
	UserID    uint      `gorm:"primaryKey;autoIncrement:false" json:"-"`
	RoleID    uint      `gorm:"primaryKey;autoIncrement:false;index" json:"-"`
	CreatedAt time.Time `json:"-"`

	Role Role `gorm:"foreignKey:RoleID" json:"role"`
}

// TableName specifies the table name for UserRole model
func (UserRole) TableName() string {
	return "userroles"
}
