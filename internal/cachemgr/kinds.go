package cachemgr

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
)

const (
	KindCourseCompletion  = "course_completion"
	KindTimeSpentByCourse = "time_spent_by_course"
	KindScormOverview     = "scorm_overview"
	KindActiveLearners    = "active_learners"
)

// Sources are the read models aggregations draw from.
type Sources struct {
	Directory    repos.DirectoryRepo
	DailySummary repos.DailySummaryRepo
	ScormSummary repos.ScormSummaryRepo
}

// AggregateFunc computes a JSON-encodable snapshot for one definition.
type AggregateFunc func(ctx context.Context, src Sources, def Definition, now time.Time) (any, error)

var kinds = map[string]AggregateFunc{
	KindCourseCompletion:  courseCompletion,
	KindTimeSpentByCourse: timeSpentByCourse,
	KindScormOverview:     scormOverview,
	KindActiveLearners:    activeLearners,
}

type CourseCompletionRow struct {
	CourseID       uuid.UUID `json:"course_id"`
	CourseName     string    `json:"course_name"`
	Enrolled       int       `json:"enrolled"`
	Completed      int       `json:"completed"`
	CompletionRate float64   `json:"completion_rate"`
}

func courseCompletion(ctx context.Context, src Sources, _ Definition, _ time.Time) (any, error) {
	dbc := dbctx.From(ctx)
	courses, err := src.Directory.ListCourses(dbc)
	if err != nil {
		return nil, err
	}
	enrolments, err := src.Directory.ListEnrollments(dbc, nil)
	if err != nil {
		return nil, err
	}
	byCourse := map[uuid.UUID]*CourseCompletionRow{}
	out := make([]*CourseCompletionRow, 0, len(courses))
	for _, c := range courses {
		row := &CourseCompletionRow{CourseID: c.ID, CourseName: c.FullName}
		byCourse[c.ID] = row
		out = append(out, row)
	}
	for _, e := range enrolments {
		row := byCourse[e.CourseID]
		if row == nil {
			continue
		}
		row.Enrolled++
		if e.CompletedAt != nil {
			row.Completed++
		}
	}
	for _, row := range out {
		if row.Enrolled > 0 {
			row.CompletionRate = float64(row.Completed) / float64(row.Enrolled)
		}
	}
	return out, nil
}

type TimeSpentRow struct {
	CourseID     uuid.UUID `json:"course_id"`
	TotalSeconds int64     `json:"total_seconds"`
	Learners     int       `json:"learners"`
	Sessions     int       `json:"sessions"`
}

func timeSpentByCourse(ctx context.Context, src Sources, def Definition, now time.Time) (any, error) {
	days := def.IntParam("days", 30)
	rows, err := src.DailySummary.ListSince(dbctx.From(ctx), now.AddDate(0, 0, -days), nil)
	if err != nil {
		return nil, err
	}
	agg := map[uuid.UUID]*TimeSpentRow{}
	learners := map[uuid.UUID]map[uuid.UUID]bool{}
	for _, r := range rows {
		row := agg[r.CourseID]
		if row == nil {
			row = &TimeSpentRow{CourseID: r.CourseID}
			agg[r.CourseID] = row
			learners[r.CourseID] = map[uuid.UUID]bool{}
		}
		row.TotalSeconds += r.TotalSeconds
		row.Sessions += r.SessionCount
		learners[r.CourseID][r.UserID] = true
	}
	out := make([]*TimeSpentRow, 0, len(agg))
	for id, row := range agg {
		row.Learners = len(learners[id])
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalSeconds > out[j].TotalSeconds })
	return out, nil
}

type ScormOverviewRow struct {
	ScormID      uuid.UUID `json:"scorm_id"`
	Learners     int       `json:"learners"`
	Completed    int       `json:"completed"`
	AverageScore *float64  `json:"average_score,omitempty"`
}

func scormOverview(ctx context.Context, src Sources, _ Definition, _ time.Time) (any, error) {
	rows, err := src.ScormSummary.List(dbctx.From(ctx), nil)
	if err != nil {
		return nil, err
	}
	type acc struct {
		row      *ScormOverviewRow
		scoreSum float64
		scoreN   int
	}
	agg := map[uuid.UUID]*acc{}
	var order []uuid.UUID
	for _, s := range rows {
		a := agg[s.ScormID]
		if a == nil {
			a = &acc{row: &ScormOverviewRow{ScormID: s.ScormID}}
			agg[s.ScormID] = a
			order = append(order, s.ScormID)
		}
		a.row.Learners++
		if s.Completed {
			a.row.Completed++
		}
		if s.AverageScore != nil {
			a.scoreSum += *s.AverageScore
			a.scoreN++
		}
	}
	out := make([]*ScormOverviewRow, 0, len(order))
	for _, id := range order {
		a := agg[id]
		if a.scoreN > 0 {
			avg := a.scoreSum / float64(a.scoreN)
			a.row.AverageScore = &avg
		}
		out = append(out, a.row)
	}
	return out, nil
}

type ActiveLearners struct {
	Days     int `json:"days"`
	Learners int `json:"learners"`
	Courses  int `json:"courses"`
}

func activeLearners(ctx context.Context, src Sources, def Definition, now time.Time) (any, error) {
	days := def.IntParam("days", 7)
	rows, err := src.DailySummary.ListSince(dbctx.From(ctx), now.AddDate(0, 0, -days), nil)
	if err != nil {
		return nil, err
	}
	users := map[uuid.UUID]bool{}
	courses := map[uuid.UUID]bool{}
	for _, r := range rows {
		users[r.UserID] = true
		courses[r.CourseID] = true
	}
	return ActiveLearners{Days: days, Learners: len(users), Courses: len(courses)}, nil
}
