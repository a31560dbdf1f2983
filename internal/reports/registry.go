package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
)

const (
	KindCourseCompletion = "course_completion"
	KindTimeSpent        = "time_spent"
	KindScormProgress    = "scorm_progress"
	KindReminderActivity = "reminder_activity"
	KindCustom           = "custom"
)

var (
	ErrUnknownKind   = errors.New("unknown report kind")
	ErrUnknownColumn = errors.New("unknown report column")
)

// Result is a tabular report. Every row has len(Columns) cells.
type Result struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Params narrow a prebuilt report.
type Params struct {
	CourseID *uuid.UUID
	// Since bounds time-windowed reports; zero means the report's default window.
	Since time.Time
	Now   time.Time
}

type Sources struct {
	Directory    repos.DirectoryRepo
	DailySummary repos.DailySummaryRepo
	ScormSummary repos.ScormSummaryRepo
	ReminderJob  repos.ReminderJobRepo
}

type handler func(ctx context.Context, src Sources, p Params) (Result, error)

var registry = map[string]handler{
	KindCourseCompletion: courseCompletion,
	KindTimeSpent:        timeSpent,
	KindScormProgress:    scormProgress,
	KindReminderActivity: reminderActivity,
}

// Kinds lists the prebuilt report kinds.
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func lookup(kind string) (handler, error) {
	h, ok := registry[strings.TrimSpace(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return h, nil
}

func courseCompletion(ctx context.Context, src Sources, p Params) (Result, error) {
	dbc := dbctx.From(ctx)
	courses, err := src.Directory.ListCourses(dbc)
	if err != nil {
		return Result{}, err
	}
	enrolments, err := src.Directory.ListEnrollments(dbc, p.CourseID)
	if err != nil {
		return Result{}, err
	}
	type agg struct{ enrolled, completed int }
	counts := map[uuid.UUID]*agg{}
	for _, e := range enrolments {
		a := counts[e.CourseID]
		if a == nil {
			a = &agg{}
			counts[e.CourseID] = a
		}
		a.enrolled++
		if e.CompletedAt != nil {
			a.completed++
		}
	}
	res := Result{Columns: []string{"course_id", "course_name", "enrolled", "completed", "completion_rate"}}
	for _, c := range courses {
		if p.CourseID != nil && c.ID != *p.CourseID {
			continue
		}
		a := counts[c.ID]
		if a == nil {
			a = &agg{}
		}
		rate := 0.0
		if a.enrolled > 0 {
			rate = float64(a.completed) / float64(a.enrolled)
		}
		res.Rows = append(res.Rows, []any{c.ID.String(), c.FullName, a.enrolled, a.completed, rate})
	}
	return res, nil
}

func timeSpent(ctx context.Context, src Sources, p Params) (Result, error) {
	dbc := dbctx.From(ctx)
	since := p.Since
	if since.IsZero() {
		since = p.Now.AddDate(0, 0, -30)
	}
	rows, err := src.DailySummary.ListSince(dbc, since, p.CourseID)
	if err != nil {
		return Result{}, err
	}
	type key struct{ user, course uuid.UUID }
	type agg struct {
		seconds  int64
		sessions int
		last     time.Time
	}
	totals := map[key]*agg{}
	var order []key
	for _, r := range rows {
		k := key{r.UserID, r.CourseID}
		a := totals[k]
		if a == nil {
			a = &agg{}
			totals[k] = a
			order = append(order, k)
		}
		a.seconds += r.TotalSeconds
		a.sessions += r.SessionCount
		if r.Day.After(a.last) {
			a.last = r.Day
		}
	}

	userIDs := make([]uuid.UUID, 0, len(order))
	seen := map[uuid.UUID]bool{}
	for _, k := range order {
		if !seen[k.user] {
			seen[k.user] = true
			userIDs = append(userIDs, k.user)
		}
	}
	users, err := src.Directory.GetUsers(dbc, userIDs)
	if err != nil {
		return Result{}, err
	}
	names := make(map[uuid.UUID]string, len(users))
	for _, u := range users {
		names[u.ID] = u.FullName()
	}
	courseNames, err := courseNameIndex(ctx, src)
	if err != nil {
		return Result{}, err
	}

	sort.SliceStable(order, func(i, j int) bool {
		return totals[order[i]].seconds > totals[order[j]].seconds
	})
	res := Result{Columns: []string{"user_id", "user_name", "course_id", "course_name", "total_seconds", "sessions", "last_active_day"}}
	for _, k := range order {
		a := totals[k]
		res.Rows = append(res.Rows, []any{
			k.user.String(), names[k.user], k.course.String(), courseNames[k.course],
			a.seconds, a.sessions, a.last.Format("2006-01-02"),
		})
	}
	return res, nil
}

func scormProgress(ctx context.Context, src Sources, _ Params) (Result, error) {
	dbc := dbctx.From(ctx)
	rows, err := src.ScormSummary.List(dbc, nil)
	if err != nil {
		return Result{}, err
	}
	res := Result{Columns: []string{"scorm_id", "user_id", "attempts", "completed", "total_seconds", "average_score", "last_access"}}
	for _, s := range rows {
		var score any
		if s.AverageScore != nil {
			score = *s.AverageScore
		}
		last := ""
		if s.LastAccess != nil {
			last = s.LastAccess.UTC().Format(time.RFC3339)
		}
		res.Rows = append(res.Rows, []any{
			s.ScormID.String(), s.UserID.String(), s.Attempts, s.Completed, s.TotalSeconds, score, last,
		})
	}
	return res, nil
}

func reminderActivity(ctx context.Context, src Sources, p Params) (Result, error) {
	dbc := dbctx.From(ctx)
	since := p.Since
	if since.IsZero() {
		since = p.Now.AddDate(0, 0, -7)
	}
	jobs, err := src.ReminderJob.ListSince(dbc, since)
	if err != nil {
		return Result{}, err
	}
	res := Result{Columns: []string{"message_id", "recipient_email", "status", "attempt", "last_attempt_at", "error"}}
	for _, j := range jobs {
		res.Rows = append(res.Rows, []any{
			j.MessageID, j.RecipientEmail, j.Status, j.Attempt, j.LastAttemptAt.UTC().Format(time.RFC3339), j.Error,
		})
	}
	return res, nil
}

func courseNameIndex(ctx context.Context, src Sources) (map[uuid.UUID]string, error) {
	courses, err := src.Directory.ListCourses(dbctx.From(ctx))
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]string, len(courses))
	for _, c := range courses {
		out[c.ID] = c.FullName
	}
	return out, nil
}

// project keeps only the named columns, in the order given.
func project(res Result, columns []string) (Result, error) {
	if len(columns) == 0 {
		return res, nil
	}
	idx := make(map[string]int, len(res.Columns))
	for i, c := range res.Columns {
		idx[c] = i
	}
	pick := make([]int, 0, len(columns))
	for _, c := range columns {
		i, ok := idx[c]
		if !ok {
			return Result{}, fmt.Errorf("%w: %q", ErrUnknownColumn, c)
		}
		pick = append(pick, i)
	}
	out := Result{Columns: append([]string(nil), columns...), Rows: make([][]any, 0, len(res.Rows))}
	for _, row := range res.Rows {
		cells := make([]any, len(pick))
		for j, i := range pick {
			cells[j] = row[i]
		}
		out.Rows = append(out.Rows, cells)
	}
	return out, nil
}
