package directory

import (
	"time"

	"github.com/google/uuid"
)

// These tables belong to the host platform and are only read here.

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"column:email;not null" json:"email"`
	FirstName string    `gorm:"column:first_name" json:"first_name"`
	LastName  string    `gorm:"column:last_name" json:"last_name"`
	Suspended bool      `gorm:"column:suspended;not null;default:false" json:"suspended"`
}

func (User) TableName() string { return "lms_user" }

func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	default:
		return u.FirstName + " " + u.LastName
	}
}

type Course struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FullName  string    `gorm:"column:full_name;not null" json:"full_name"`
	ShortName string    `gorm:"column:short_name" json:"short_name"`
	Visible   bool      `gorm:"column:visible;not null" json:"visible"`
}

func (Course) TableName() string { return "lms_course" }

type Enrollment struct {
	UserID      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	CourseID    uuid.UUID  `gorm:"type:uuid;primaryKey;index" json:"course_id"`
	EnrolledAt  time.Time  `gorm:"column:enrolled_at;not null;index" json:"enrolled_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	Active      bool       `gorm:"column:active;not null" json:"active"`
}

func (Enrollment) TableName() string { return "lms_enrollment" }

type UserManager struct {
	UserID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	ManagerUserID uuid.UUID `gorm:"type:uuid;primaryKey" json:"manager_user_id"`
}

func (UserManager) TableName() string { return "lms_user_manager" }
