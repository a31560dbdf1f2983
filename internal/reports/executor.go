package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

// Request identifies one report execution. Kind is a prebuilt kind or
// KindCustom together with CustomReportID.
type Request struct {
	Kind           string
	CustomReportID *uuid.UUID
	CourseID       *uuid.UUID
	Since          time.Time
	// BypassCache skips both cache read and write. Scheduled runs always set it.
	BypassCache bool
}

type Executor struct {
	log      *logger.Logger
	src      Sources
	custom   repos.CustomReportRepo
	cache    repos.ReportCacheRepo
	cacheTTL time.Duration
	now      func() time.Time
}

func NewExecutor(baseLog *logger.Logger, src Sources, custom repos.CustomReportRepo, cache repos.ReportCacheRepo, cacheTTL time.Duration) *Executor {
	return &Executor{
		log:      baseLog.With("component", "ReportExecutor"),
		src:      src,
		custom:   custom,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (x *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	useCache := !req.BypassCache && x.cache != nil && x.cacheTTL > 0
	key := cacheKey(req)
	if useCache {
		if res, ok := x.fromCache(ctx, key); ok {
			return res, nil
		}
	}

	res, err := x.run(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if useCache {
		raw, err := json.Marshal(res)
		if err == nil {
			err = x.cache.Upsert(dbctx.From(ctx), key, datatypes.JSON(raw), x.now(), x.cacheTTL)
		}
		if err != nil {
			x.log.Warn("Report cache write failed", "cache_key", key, "error", err)
		}
	}
	return res, nil
}

func (x *Executor) run(ctx context.Context, req Request) (Result, error) {
	p := Params{CourseID: req.CourseID, Since: req.Since, Now: x.now()}
	if req.Kind != KindCustom {
		h, err := lookup(req.Kind)
		if err != nil {
			return Result{}, err
		}
		return h(ctx, x.src, p)
	}

	if req.CustomReportID == nil {
		return Result{}, fmt.Errorf("%w: custom report id required", ErrUnknownKind)
	}
	row, err := x.custom.Get(dbctx.From(ctx), *req.CustomReportID)
	if err != nil {
		return Result{}, err
	}
	if row == nil {
		return Result{}, fmt.Errorf("custom report %s not found", *req.CustomReportID)
	}
	var def reporting.CustomDefinition
	if err := json.Unmarshal(row.Definition, &def); err != nil {
		return Result{}, fmt.Errorf("decode custom report %s: %w", row.ID, err)
	}
	h, err := lookup(def.Source)
	if err != nil {
		return Result{}, err
	}
	if p.CourseID == nil {
		p.CourseID = def.CourseID
	}
	res, err := h(ctx, x.src, p)
	if err != nil {
		return Result{}, err
	}
	res, err = project(res, def.Columns)
	if err != nil {
		return Result{}, err
	}
	if def.Limit > 0 && len(res.Rows) > def.Limit {
		res.Rows = res.Rows[:def.Limit]
	}
	return res, nil
}

func (x *Executor) fromCache(ctx context.Context, key string) (Result, bool) {
	entry, err := x.cache.Get(dbctx.From(ctx), key)
	if err != nil {
		x.log.Warn("Report cache read failed", "cache_key", key, "error", err)
		return Result{}, false
	}
	if entry == nil || !entry.Valid(x.now()) {
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(entry.Payload, &res); err != nil {
		return Result{}, false
	}
	return res, true
}

func cacheKey(req Request) string {
	parts := []string{"report", req.Kind}
	if req.CustomReportID != nil {
		parts = append(parts, req.CustomReportID.String())
	}
	if req.CourseID != nil {
		parts = append(parts, "course="+req.CourseID.String())
	}
	if !req.Since.IsZero() {
		parts = append(parts, "since="+req.Since.UTC().Format("20060102"))
	}
	return strings.Join(parts, ":")
}
