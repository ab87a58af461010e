package models

import (
	"time"

	"gorm.io/gorm"
)

type UserRole string

const (
	RoleStudent      UserRole = "student"
	RoleStaffManager UserRole = "staff_manager"
	RoleDirector     UserRole = "institution_director"
	RoleSuperAdmin   UserRole = "super_admin"
)

// ManagerRoles may run the verification workflow and exam management
// surface. RoleSuperAdmin additionally bypasses institution scoping.
var ManagerRoles = []UserRole{RoleStaffManager, RoleDirector, RoleSuperAdmin}

func (r UserRole) IsManager() bool {
	for _, role := range ManagerRoles {
		if r == role {
			return true
		}
	}
	return false
}

type User struct {
	ID       string   `json:"id" gorm:"primaryKey;size:255"`
	FullName string   `json:"full_name" gorm:"not null;size:100"`
	Email    string   `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Role     UserRole `json:"role" gorm:"-"`

	// Institution the user belongs to; nil for super_admin accounts.
	InstitutionID *uint `json:"institution_id" gorm:"index"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}
