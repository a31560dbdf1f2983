package aggregation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/domain/scorm"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

// ScormWatermarkTask keys the SCORM watermark in task_state.
const ScormWatermarkTask = "scorm_summaries"

type ScormAggregator struct {
	log       *logger.Logger
	tracks    repos.ScormTrackRepo
	summaries repos.ScormSummaryRepo
	state     repos.TaskStateRepo
	now       func() time.Time
}

func NewScormAggregator(
	baseLog *logger.Logger,
	tracks repos.ScormTrackRepo,
	summaries repos.ScormSummaryRepo,
	state repos.TaskStateRepo,
) *ScormAggregator {
	return &ScormAggregator{
		log:       baseLog.With("component", "ScormAggregator"),
		tracks:    tracks,
		summaries: summaries,
		state:     state,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type ScormResult struct {
	Learners  int       `json:"learners"`
	Failed    int       `json:"failed"`
	Watermark time.Time `json:"watermark"`
}

// Recompute rebuilds the summary of every learner of scormID with tracks
// modified after since. Each learner's row is recomputed from all of their
// tracks, so repeating a call with the same since is a no-op.
func (a *ScormAggregator) Recompute(ctx context.Context, scormID uuid.UUID, since time.Time) (int, error) {
	res, err := a.recompute(ctx, &scormID, since)
	return res.Learners, err
}

// RecomputeAll is the periodic entry point. It processes every activity
// touched since the stored watermark, then advances the watermark.
func (a *ScormAggregator) RecomputeAll(ctx context.Context) (ScormResult, error) {
	dbc := dbctx.From(ctx)
	since, err := a.state.Watermark(dbc, ScormWatermarkTask)
	if err != nil {
		return ScormResult{}, fmt.Errorf("load watermark: %w", err)
	}
	latest, err := a.tracks.Latest(dbc, nil, since)
	if err != nil {
		return ScormResult{}, fmt.Errorf("latest track: %w", err)
	}
	if latest == nil {
		return ScormResult{Watermark: since}, nil
	}

	res, err := a.recompute(ctx, nil, since)
	if err != nil {
		return res, err
	}
	// Failed learners keep the watermark where it was so they are retried.
	if res.Failed > 0 {
		res.Watermark = since
		return res, nil
	}
	if err := a.state.SetWatermark(dbc, ScormWatermarkTask, latest.TimeModified); err != nil {
		return res, fmt.Errorf("store watermark: %w", err)
	}
	res.Watermark = latest.TimeModified.UTC()
	return res, nil
}

func (a *ScormAggregator) recompute(ctx context.Context, scormID *uuid.UUID, since time.Time) (ScormResult, error) {
	dbc := dbctx.From(ctx)
	learners, err := a.tracks.ListTouchedSince(dbc, scormID, since)
	if err != nil {
		return ScormResult{}, fmt.Errorf("list touched learners: %w", err)
	}

	var res ScormResult
	for _, l := range learners {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rows, err := a.tracks.ListForLearner(dbc, l.ScormID, l.UserID)
		if err != nil {
			a.log.Warn("Load scorm tracks failed", "scorm_id", l.ScormID, "user_id", l.UserID, "error", err)
			res.Failed++
			continue
		}
		sum := Summarize(l.ScormID, l.UserID, rows)
		sum.UpdatedAt = a.now()
		if err := a.summaries.Replace(dbc, sum); err != nil {
			a.log.Warn("Write scorm summary failed", "scorm_id", l.ScormID, "user_id", l.UserID, "error", err)
			res.Failed++
			continue
		}
		res.Learners++
	}
	return res, nil
}

type attemptFold struct {
	values   map[string]string
	modified time.Time
}

// Summarize folds one learner's raw tracks into a summary row. Per attempt
// the greatest value of each element wins; an attempt counts as completed
// when any status element reads completed or passed.
func Summarize(scormID, userID uuid.UUID, rows []*scorm.Track) *scorm.Summary {
	attempts := map[int]*attemptFold{}
	for _, tr := range rows {
		if tr == nil {
			continue
		}
		af := attempts[tr.Attempt]
		if af == nil {
			af = &attemptFold{values: map[string]string{}}
			attempts[tr.Attempt] = af
		}
		if cur, ok := af.values[tr.Element]; !ok || greaterValue(tr.Value, cur) {
			af.values[tr.Element] = tr.Value
		}
		if tr.TimeModified.After(af.modified) {
			af.modified = tr.TimeModified
		}
	}

	keys := make([]int, 0, len(attempts))
	for k := range attempts {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := &scorm.Summary{ScormID: scormID, UserID: userID, Attempts: len(attempts)}
	var (
		scoreSum   float64
		scoreCount int
		last       time.Time
	)
	for _, k := range keys {
		af := attempts[k]
		for _, el := range []string{scorm.ElementLessonStatus, scorm.ElementCompletionStatus, scorm.ElementSuccessStatus} {
			switch strings.ToLower(strings.TrimSpace(af.values[el])) {
			case "completed", "passed":
				out.Completed = true
			}
		}
		if v, ok := firstNumber(af.values, scorm.ElementScoreRaw12, scorm.ElementScoreRaw2004); ok {
			scoreSum += v
			scoreCount++
		}
		if raw, ok := firstPresent(af.values, scorm.ElementTotalTime12, scorm.ElementTotalTime2004); ok {
			out.TotalSeconds += ParseScormDuration(raw)
		}
		if af.modified.After(last) {
			last = af.modified
		}
	}
	if scoreCount > 0 {
		avg := scoreSum / float64(scoreCount)
		out.AverageScore = &avg
	}
	if !last.IsZero() {
		l := last.UTC()
		out.LastAccess = &l
	}
	return out
}

// greaterValue orders numerically when both sides parse, else as strings.
func greaterValue(a, b string) bool {
	fa, errA := strconv.ParseFloat(strings.TrimSpace(a), 64)
	fb, errB := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if errA == nil && errB == nil {
		return fa > fb
	}
	return a > b
}

func firstNumber(values map[string]string, elements ...string) (float64, bool) {
	for _, el := range elements {
		raw, ok := values[el]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err == nil {
			return v, true
		}
	}
	return 0, false
}

func firstPresent(values map[string]string, elements ...string) (string, bool) {
	for _, el := range elements {
		if raw, ok := values[el]; ok && strings.TrimSpace(raw) != "" {
			return raw, true
		}
	}
	return "", false
}
