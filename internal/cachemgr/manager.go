package cachemgr

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/lms-insights/internal/data/repos"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type Manager struct {
	log   *logger.Logger
	cache repos.ReportCacheRepo
	src   Sources
	defs  []Definition
	kinds map[string]AggregateFunc
	now   func() time.Time
}

func New(baseLog *logger.Logger, cache repos.ReportCacheRepo, src Sources, defs []Definition) *Manager {
	return &Manager{
		log:   baseLog.With("component", "CacheManager"),
		cache: cache,
		src:   src,
		defs:  defs,
		kinds: kinds,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) Definitions() []Definition { return m.defs }

// RunAggregations recomputes every enabled definition and stores the result
// under its key. One failing aggregation never stops the others. It returns
// how many were stored.
func (m *Manager) RunAggregations(ctx context.Context) (int, error) {
	ok := 0
	for _, def := range m.defs {
		if !def.IsEnabled() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return ok, err
		}
		if err := m.runOne(ctx, def); err != nil {
			m.log.Warn("Aggregation failed", "key", def.Key, "kind", def.Kind, "error", err)
			continue
		}
		ok++
	}
	m.log.Info("Aggregations complete", "succeeded", ok, "defined", len(m.defs))
	return ok, nil
}

func (m *Manager) runOne(ctx context.Context, def Definition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			m.log.Error("Aggregation panic", "key", def.Key, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn, found := m.kinds[def.Kind]
	if !found {
		return fmt.Errorf("unknown kind %q", def.Kind)
	}
	now := m.now()
	result, err := fn(ctx, m.src, def, now)
	if err != nil {
		return err
	}
	return m.put(ctx, def.Key, result, def.TTL, now)
}

// CleanupExpired deletes entries older than their TTL.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.cache.DeleteExpired(dbctx.From(ctx), m.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return n, nil
}

// Get returns the payload under key while it is still valid.
func (m *Manager) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	entry, err := m.cache.Get(dbctx.From(ctx), key)
	if err != nil {
		return nil, false, err
	}
	if entry == nil || !entry.Valid(m.now()) {
		return nil, false, nil
	}
	return json.RawMessage(entry.Payload), true, nil
}

func (m *Manager) Put(ctx context.Context, key string, payload any, ttl time.Duration) error {
	return m.put(ctx, key, payload, ttl, m.now())
}

func (m *Manager) put(ctx context.Context, key string, payload any, ttl time.Duration, at time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return m.cache.Upsert(dbctx.From(ctx), key, datatypes.JSON(raw), at, ttl)
}
