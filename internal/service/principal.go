package service

import "strings"

// Role names carried in the JWT role claim.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Principal is the authenticated caller. For students UserID is also their student id.
type Principal struct {
	UserID   uint
	Role     string
	SchoolID uint
}

// IsAdmin reports whether the caller administers their school.
func (p Principal) IsAdmin() bool {
	return strings.EqualFold(p.Role, RoleAdmin)
}

// IsStaff reports whether the caller is a teacher or admin.
func (p Principal) IsStaff() bool {
	return p.IsAdmin() || strings.EqualFold(p.Role, RoleTeacher)
}

// IsStudent reports whether the caller is a student.
func (p Principal) IsStudent() bool {
	return strings.EqualFold(p.Role, RoleStudent)
}

func (p Principal) actor() ActivityActor {
	return ActivityActor{ID: p.UserID, Role: p.Role}
}
