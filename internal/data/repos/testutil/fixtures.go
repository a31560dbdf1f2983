package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/lms-insights/internal/domain/directory"
	"github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/domain/scorm"
)

func SeedUser(tb testing.TB, ctx context.Context, tx *gorm.DB, email string) *directory.User {
	tb.Helper()
	u := &directory.User{
		ID:        uuid.New(),
		Email:     email,
		FirstName: "Ada",
		LastName:  "Learner",
	}
	if err := tx.WithContext(ctx).Create(u).Error; err != nil {
		tb.Fatalf("seed user: %v", err)
	}
	return u
}

func SeedCourse(tb testing.TB, ctx context.Context, tx *gorm.DB, name string) *directory.Course {
	tb.Helper()
	c := &directory.Course{
		ID:        uuid.New(),
		FullName:  name,
		ShortName: name,
		Visible:   true,
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed course: %v", err)
	}
	return c
}

func SeedEnrollment(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, courseID uuid.UUID, enrolledAt time.Time, completedAt *time.Time) *directory.Enrollment {
	tb.Helper()
	e := &directory.Enrollment{
		UserID:      userID,
		CourseID:    courseID,
		EnrolledAt:  enrolledAt.UTC(),
		CompletedAt: completedAt,
		Active:      true,
	}
	if err := tx.WithContext(ctx).Create(e).Error; err != nil {
		tb.Fatalf("seed enrollment: %v", err)
	}
	return e
}

func SeedManager(tb testing.TB, ctx context.Context, tx *gorm.DB, userID, managerID uuid.UUID) {
	tb.Helper()
	m := &directory.UserManager{UserID: userID, ManagerUserID: managerID}
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed manager: %v", err)
	}
}

func SeedTemplate(tb testing.TB, ctx context.Context, tx *gorm.DB) *reminders.Template {
	tb.Helper()
	t := &reminders.Template{
		ID:       uuid.New(),
		Name:     "nudge",
		Subject:  "Keep going with {{.CourseName}}",
		BodyHTML: "<p>Hi {{.FirstName}}, {{.CourseName}} is waiting.</p>",
		BodyText: "Hi {{.FirstName}}, {{.CourseName}} is waiting.",
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed template: %v", err)
	}
	return t
}

// SeedRule creates an enabled enrol rule for courseID. mutate may adjust it
// before insert.
func SeedRule(tb testing.TB, ctx context.Context, tx *gorm.DB, courseID *uuid.UUID, templateID uuid.UUID, mutate func(*reminders.Rule)) *reminders.Rule {
	tb.Helper()
	r := &reminders.Rule{
		ID:                uuid.New(),
		Name:              "rule",
		CourseID:          courseID,
		Trigger:           reminders.TriggerEnrol,
		TriggerDays:       0,
		EmailDelaySeconds: 86400,
		ReminderCount:     3,
		NotifyUser:        true,
		ThirdPartyEmails:  datatypes.JSON([]byte("[]")),
		TemplateID:        templateID,
		Channel:           reminders.ChannelLocal,
		Enabled:           true,
	}
	if mutate != nil {
		mutate(r)
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed rule: %v", err)
	}
	return r
}

func SeedSchedule(tb testing.TB, ctx context.Context, tx *gorm.DB, kind string, nextRun time.Time, mutate func(*reporting.Schedule)) *reporting.Schedule {
	tb.Helper()
	s := &reporting.Schedule{
		ID:         uuid.New(),
		Name:       kind,
		ReportKind: kind,
		Recurrence: "@daily",
		Format:     "csv",
		Channel:    reporting.ChannelLocal,
		Enabled:    true,
		NextRunAt:  nextRun.UTC(),
	}
	if mutate != nil {
		mutate(s)
	}
	if err := tx.WithContext(ctx).Create(s).Error; err != nil {
		tb.Fatalf("seed schedule: %v", err)
	}
	return s
}

func SeedRecipient(tb testing.TB, ctx context.Context, tx *gorm.DB, scheduleID uuid.UUID, email string) {
	tb.Helper()
	r := &reporting.Recipient{ID: uuid.New(), ScheduleID: scheduleID, Email: email}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed recipient: %v", err)
	}
}

func SeedScormTrack(tb testing.TB, ctx context.Context, tx *gorm.DB, scormID, userID uuid.UUID, attempt int, element, value string, modified time.Time) {
	tb.Helper()
	t := &scorm.Track{
		ID:           uuid.New(),
		ScormID:      scormID,
		UserID:       userID,
		Attempt:      attempt,
		Element:      element,
		Value:        value,
		TimeModified: modified.UTC(),
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed scorm track: %v", err)
	}
}

func Ptr[T any](v T) *T { return &v }
