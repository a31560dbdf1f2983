package reminders

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/lms-insights/internal/domain/reminders"
	"github.com/yungbote/lms-insights/internal/platform/dbctx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type InstanceRepo interface {
	// CreateIfAbsent inserts rows, skipping any (rule, user) pair that
	// already has an instance. It returns the number inserted.
	CreateIfAbsent(dbc dbctx.Context, rows []*reminders.Instance) (int, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*reminders.Instance, error)
	ListUserIDsForRule(dbc dbctx.Context, ruleID uuid.UUID) ([]uuid.UUID, error)
	// ListDue selects unlocked, incomplete, unexhausted instances of enabled
	// rules whose next send is at or before now.
	ListDue(dbc dbctx.Context, now time.Time, limit int) ([]*reminders.Instance, error)
	// Claim takes the instance lock if nobody holds a live one and the row
	// is still at claimVersion. Losing the race returns false, not an error.
	Claim(dbc dbctx.Context, id uuid.UUID, claimVersion int64, token string, now time.Time, window time.Duration) (bool, error)
	Advance(dbc dbctx.Context, id uuid.UUID, token string, nextSendAt time.Time) (bool, error)
	Defer(dbc dbctx.Context, id uuid.UUID, token string, nextSendAt time.Time) (bool, error)
	Complete(dbc dbctx.Context, id uuid.UUID, token string) (bool, error)
}

type instanceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInstanceRepo(db *gorm.DB, baseLog *logger.Logger) InstanceRepo {
	return &instanceRepo{db: db, log: baseLog.With("repo", "ReminderInstanceRepo")}
}

func (r *instanceRepo) CreateIfAbsent(dbc dbctx.Context, rows []*reminders.Instance) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := dbc.DB(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "rule_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&rows)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (r *instanceRepo) Get(dbc dbctx.Context, id uuid.UUID) (*reminders.Instance, error) {
	var out reminders.Instance
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *instanceRepo) ListUserIDsForRule(dbc dbctx.Context, ruleID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := dbc.DB(r.db).
		Model(&reminders.Instance{}).
		Where("rule_id = ?", ruleID).
		Pluck("user_id", &out).Error
	return out, err
}

func (r *instanceRepo) ListDue(dbc dbctx.Context, now time.Time, limit int) ([]*reminders.Instance, error) {
	var out []*reminders.Instance
	now = now.UTC()
	q := dbc.DB(r.db).
		Model(&reminders.Instance{}).
		Select("reminder_instance.*").
		Joins("JOIN reminder_rule ON reminder_rule.id = reminder_instance.rule_id").
		Where("reminder_instance.next_send_at <= ?", now).
		Where("reminder_instance.completed = ?", false).
		Where("reminder_instance.emails_sent < reminder_rule.reminder_count").
		Where("reminder_rule.enabled = ?", true).
		Where("(reminder_instance.lock_expires_at IS NULL OR reminder_instance.lock_expires_at <= ?)", now).
		Order("reminder_instance.next_send_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *instanceRepo) Claim(dbc dbctx.Context, id uuid.UUID, claimVersion int64, token string, now time.Time, window time.Duration) (bool, error) {
	now = now.UTC()
	res := dbc.DB(r.db).
		Model(&reminders.Instance{}).
		Where("id = ? AND claim_version = ?", id, claimVersion).
		Where("(lock_expires_at IS NULL OR lock_expires_at <= ?)", now).
		Updates(map[string]interface{}{
			"lock_token":      token,
			"lock_expires_at": now.Add(window),
			"claim_version":   gorm.Expr("claim_version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *instanceRepo) Advance(dbc dbctx.Context, id uuid.UUID, token string, nextSendAt time.Time) (bool, error) {
	return r.release(dbc, id, token, map[string]interface{}{
		"emails_sent":  gorm.Expr("emails_sent + 1"),
		"next_send_at": nextSendAt.UTC(),
	})
}

func (r *instanceRepo) Defer(dbc dbctx.Context, id uuid.UUID, token string, nextSendAt time.Time) (bool, error) {
	return r.release(dbc, id, token, map[string]interface{}{
		"next_send_at": nextSendAt.UTC(),
	})
}

func (r *instanceRepo) Complete(dbc dbctx.Context, id uuid.UUID, token string) (bool, error) {
	return r.release(dbc, id, token, map[string]interface{}{
		"completed": true,
	})
}

// release applies updates and clears the lock, but only for the holder of token.
func (r *instanceRepo) release(dbc dbctx.Context, id uuid.UUID, token string, updates map[string]interface{}) (bool, error) {
	updates["lock_token"] = nil
	updates["lock_expires_at"] = nil
	res := dbc.DB(r.db).
		Model(&reminders.Instance{}).
		Where("id = ? AND lock_token = ?", id, token).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
