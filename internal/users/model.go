package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/money"
)

// Role is the single authorisation role carried by a user.
type Role string

const (
	// RoleMember is assigned to clients created while claiming a QR code.
	RoleMember Role = "ROLE_MEMBER"
	// RoleManager may issue codes and edit any memory.
	RoleManager Role = "ROLE_MANAGER"
	// RoleAdmin has every privilege, including the change-request dashboard.
	RoleAdmin Role = "ROLE_ADMIN"
)

// User is an account: either a staff member who issues codes or a client who owns memories.
type User struct {
	ID           uint      `gorm:"column:id;primaryKey"`
	UUID         string    `gorm:"column:uuid;size:36;uniqueIndex;not null"`
	Email        string    `gorm:"column:email;size:180;uniqueIndex;not null"`
	Username     string    `gorm:"column:username;size:190;uniqueIndex;not null"`
	FirstName    string    `gorm:"column:first_name;size:190"`
	LastName     string    `gorm:"column:last_name;size:190"`
	Role         Role      `gorm:"column:role;size:32;not null;default:ROLE_MEMBER"`
	BalanceCents int64     `gorm:"column:balance_cents;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// Balance returns the prepaid balance.
func (u User) Balance() money.Amount {
	return money.Amount(u.BalanceCents)
}

// Roles lists the granted roles, including the implied ones.
func (u User) Roles() []string {
	switch u.Role {
	case RoleAdmin:
		return []string{string(RoleAdmin), string(RoleManager), string(RoleMember)}
	case RoleManager:
		return []string{string(RoleManager), string(RoleMember)}
	default:
		return []string{string(RoleMember)}
	}
}

// Principal is the authenticated caller passed explicitly into service operations.
type Principal struct {
	UserID uint
	UUID   string
	Email  string
	Role   Role
}

// IsStaff reports whether the principal is a manager or admin.
func (p Principal) IsStaff() bool {
	return p.Role == RoleManager || p.Role == RoleAdmin
}

// IsAdmin reports whether the principal is an admin.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Authenticated reports whether the principal refers to a stored user.
func (p Principal) Authenticated() bool {
	return p.UserID != 0
}

func principalOf(user User) Principal {
	return Principal{UserID: user.ID, UUID: user.UUID, Email: user.Email, Role: user.Role}
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
