package directory

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/directory"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

// DirectoryRepo reads the host platform's users, courses and enrolments.
type DirectoryRepo interface {
	GetUser(dbc dbctx.Context, id uuid.UUID) (*directory.User, error)
	GetUsers(dbc dbctx.Context, ids []uuid.UUID) ([]*directory.User, error)
	GetCourse(dbc dbctx.Context, id uuid.UUID) (*directory.Course, error)
	ListCourses(dbc dbctx.Context) ([]*directory.Course, error)
	GetEnrollment(dbc dbctx.Context, userID, courseID uuid.UUID) (*directory.Enrollment, error)
	IsEnrolled(dbc dbctx.Context, userID, courseID uuid.UUID) (bool, error)
	IsCompleted(dbc dbctx.Context, userID, courseID uuid.UUID) (bool, error)
	// ListEnrolledBefore returns active enrolments of unsuspended users made
	// at or before cutoff. courseID nil means every course.
	ListEnrolledBefore(dbc dbctx.Context, courseID *uuid.UUID, cutoff time.Time, incompleteOnly bool) ([]*directory.Enrollment, error)
	ListEnrollments(dbc dbctx.Context, courseID *uuid.UUID) ([]*directory.Enrollment, error)
	ListManagers(dbc dbctx.Context, userID uuid.UUID) ([]*directory.User, error)
}

type directoryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDirectoryRepo(db *gorm.DB, baseLog *logger.Logger) DirectoryRepo {
	return &directoryRepo{db: db, log: baseLog.With("repo", "DirectoryRepo")}
}

func (r *directoryRepo) GetUser(dbc dbctx.Context, id uuid.UUID) (*directory.User, error) {
	var out directory.User
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *directoryRepo) GetUsers(dbc dbctx.Context, ids []uuid.UUID) ([]*directory.User, error) {
	var out []*directory.User
	if len(ids) == 0 {
		return out, nil
	}
	err := dbc.DB(r.db).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

func (r *directoryRepo) GetCourse(dbc dbctx.Context, id uuid.UUID) (*directory.Course, error) {
	var out directory.Course
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *directoryRepo) ListCourses(dbc dbctx.Context) ([]*directory.Course, error) {
	var out []*directory.Course
	err := dbc.DB(r.db).Order("full_name ASC").Find(&out).Error
	return out, err
}

func (r *directoryRepo) GetEnrollment(dbc dbctx.Context, userID, courseID uuid.UUID) (*directory.Enrollment, error) {
	var out []*directory.Enrollment
	err := dbc.DB(r.db).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *directoryRepo) IsEnrolled(dbc dbctx.Context, userID, courseID uuid.UUID) (bool, error) {
	var n int64
	err := dbc.DB(r.db).
		Model(&directory.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND active = ?", userID, courseID, true).
		Count(&n).Error
	return n > 0, err
}

func (r *directoryRepo) IsCompleted(dbc dbctx.Context, userID, courseID uuid.UUID) (bool, error) {
	var n int64
	err := dbc.DB(r.db).
		Model(&directory.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND completed_at IS NOT NULL", userID, courseID).
		Count(&n).Error
	return n > 0, err
}

func (r *directoryRepo) ListEnrolledBefore(dbc dbctx.Context, courseID *uuid.UUID, cutoff time.Time, incompleteOnly bool) ([]*directory.Enrollment, error) {
	var out []*directory.Enrollment
	q := dbc.DB(r.db).
		Model(&directory.Enrollment{}).
		Select("lms_enrollment.*").
		Joins("JOIN lms_user ON lms_user.id = lms_enrollment.user_id").
		Where("lms_enrollment.active = ? AND lms_user.suspended = ?", true, false).
		Where("lms_enrollment.enrolled_at <= ?", cutoff.UTC())
	if courseID != nil {
		q = q.Where("lms_enrollment.course_id = ?", *courseID)
	}
	if incompleteOnly {
		q = q.Where("lms_enrollment.completed_at IS NULL")
	}
	err := q.Order("lms_enrollment.enrolled_at ASC").Find(&out).Error
	return out, err
}

func (r *directoryRepo) ListEnrollments(dbc dbctx.Context, courseID *uuid.UUID) ([]*directory.Enrollment, error) {
	var out []*directory.Enrollment
	q := dbc.DB(r.db).Where("active = ?", true)
	if courseID != nil {
		q = q.Where("course_id = ?", *courseID)
	}
	err := q.Order("course_id, user_id").Find(&out).Error
	return out, err
}

func (r *directoryRepo) ListManagers(dbc dbctx.Context, userID uuid.UUID) ([]*directory.User, error) {
	var out []*directory.User
	err := dbc.DB(r.db).
		Model(&directory.User{}).
		Select("lms_user.*").
		Joins("JOIN lms_user_manager ON lms_user_manager.manager_user_id = lms_user.id").
		Where("lms_user_manager.user_id = ? AND lms_user.suspended = ?", userID, false).
		Order("lms_user.email ASC").
		Find(&out).Error
	return out, err
}
