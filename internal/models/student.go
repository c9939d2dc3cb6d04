package models

import "time"

// Enrollment status values.
const (
	EnrollmentStatusActive      = "active"
	EnrollmentStatusTransferred = "transferred"
	EnrollmentStatusWithdrawn   = "withdrawn"
)

// Student represents a learner that can submit assignments.
type Student struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SchoolID  uint      `gorm:"not null;index" json:"school_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255;uniqueIndex;not null" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Class is a cohort students enroll in.
type Class struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SchoolID  uint      `gorm:"not null;index" json:"school_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// StudentGroup is an ad hoc set of students, possibly spanning classes.
type StudentGroup struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SchoolID  uint      `gorm:"not null;index" json:"school_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// ClassEnrollment links a student to a class; only active rows grant scope.
type ClassEnrollment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ClassID   uint      `gorm:"not null;uniqueIndex:idx_class_student,priority:1" json:"class_id"`
	StudentID uint      `gorm:"not null;uniqueIndex:idx_class_student,priority:2;index" json:"student_id"`
	Status    string    `gorm:"size:16;not null;default:active" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupMembership links a student to a group.
type GroupMembership struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GroupID   uint      `gorm:"not null;uniqueIndex:idx_group_student,priority:1" json:"group_id"`
	StudentID uint      `gorm:"not null;uniqueIndex:idx_group_student,priority:2;index" json:"student_id"`
	CreatedAt time.Time `json:"created_at"`
}
