package models

import "time"

// Notification represents a push notification targeted to a specific user.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Type      string    `gorm:"size:64" json:"type"`
	Message   string    `gorm:"type:text" json:"message"`
	Read      bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All returns every model managed by AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Student{},
		&Class{},
		&StudentGroup{},
		&ClassEnrollment{},
		&GroupMembership{},
		&Assignment{},
		&AssignmentTarget{},
		&Submission{},
		&SubmissionRevision{},
		&Grade{},
		&GradeHistory{},
		&GradeScaleEntry{},
		&VivaSession{},
		&Notification{},
		&ActivityLog{},
	}
}
