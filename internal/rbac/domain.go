package rbac

import "time"

// Role groups capabilities. Users receive capabilities only through roles.
type Role struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is an atomic capability such as procurement.approve.
type Permission struct {
	ID          int64
	Name        string
	Description string
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    int64
	RoleID    int64
	CreatedAt time.Time
}
