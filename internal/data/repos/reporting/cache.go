package reporting

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/lms-insights/internal/domain/reporting"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type CacheRepo interface {
	Upsert(dbc dbctx.Context, key string, payload datatypes.JSON, generatedAt time.Time, ttl time.Duration) error
	Get(dbc dbctx.Context, key string) (*reporting.CacheEntry, error)
	// DeleteExpired removes entries whose age at now exceeds their TTL.
	DeleteExpired(dbc dbctx.Context, now time.Time) (int, error)
	Delete(dbc dbctx.Context, key string) error
}

type cacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCacheRepo(db *gorm.DB, baseLog *logger.Logger) CacheRepo {
	return &cacheRepo{db: db, log: baseLog.With("repo", "ReportCacheRepo")}
}

func (r *cacheRepo) Upsert(dbc dbctx.Context, key string, payload datatypes.JSON, generatedAt time.Time, ttl time.Duration) error {
	row := &reporting.CacheEntry{
		Key:             key,
		Payload:         payload,
		LastGeneratedAt: generatedAt.UTC(),
		TTLSeconds:      int64(ttl / time.Second),
	}
	return dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "last_generated_at", "ttl_seconds"}),
		}).
		Create(row).Error
}

func (r *cacheRepo) Get(dbc dbctx.Context, key string) (*reporting.CacheEntry, error) {
	var out []*reporting.CacheEntry
	if err := dbc.DB(r.db).Where("cache_key = ?", key).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *cacheRepo) DeleteExpired(dbc dbctx.Context, now time.Time) (int, error) {
	var rows []*reporting.CacheEntry
	// TTL is per row, so expiry is evaluated here rather than with
	// dialect-specific interval arithmetic.
	err := dbc.DB(r.db).
		Select("cache_key", "last_generated_at", "ttl_seconds").
		Find(&rows).Error
	if err != nil {
		return 0, err
	}
	var expired []string
	for _, e := range rows {
		if !e.Valid(now) {
			expired = append(expired, e.Key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).Where("cache_key IN ?", expired).Delete(&reporting.CacheEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *cacheRepo) Delete(dbc dbctx.Context, key string) error {
	return dbc.DB(r.db).Where("cache_key = ?", key).Delete(&reporting.CacheEntry{}).Error
}
