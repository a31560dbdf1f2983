package reminders

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TriggerEnrol           = "enrol"
	TriggerIncompleteAfter = "incomplete_after"
)

const (
	ChannelLocal = "local"
	ChannelCloud = "cloud"
)

const (
	JobStatusSubmitted = "submitted"
	JobStatusLocalSent = "local_sent"
	JobStatusFailed    = "failed"
	// JobStatusDelivered is only set when a cloud callback confirms the send.
	JobStatusDelivered = "delivered"
)

// Rule is a nudge policy. CourseID nil means all courses.
type Rule struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name              string         `gorm:"column:name;not null" json:"name" validate:"required"`
	CourseID          *uuid.UUID     `gorm:"type:uuid;column:course_id;index" json:"course_id,omitempty"`
	Trigger           string         `gorm:"column:trigger_type;not null" json:"trigger" validate:"oneof=enrol incomplete_after"`
	TriggerDays       int            `gorm:"column:trigger_days;not null;default:0" json:"trigger_days" validate:"gte=0"`
	EmailDelaySeconds int64          `gorm:"column:email_delay_seconds;not null" json:"email_delay_seconds" validate:"gt=0"`
	ReminderCount     int            `gorm:"column:reminder_count;not null;default:1" json:"reminder_count" validate:"min=1,max=5"`
	NotifyUser        bool           `gorm:"column:notify_user;not null" json:"notify_user"`
	NotifyManagers    bool           `gorm:"column:notify_managers;not null;default:false" json:"notify_managers"`
	ThirdPartyEmails  datatypes.JSON `gorm:"column:third_party_emails;type:jsonb" json:"third_party_emails"`
	TemplateID        uuid.UUID      `gorm:"type:uuid;column:template_id;not null" json:"template_id"`
	Channel           string         `gorm:"column:channel;not null;default:'local'" json:"channel" validate:"oneof=local cloud"`
	Enabled           bool           `gorm:"column:enabled;not null;index" json:"enabled"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Rule) TableName() string { return "reminder_rule" }

func (r *Rule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

func (r Rule) EmailDelay() time.Duration {
	return time.Duration(r.EmailDelaySeconds) * time.Second
}

// Instance tracks one learner's progress through a Rule's sends.
// The lock columns are the claim: a worker owns the instance while
// LockToken is set and LockExpiresAt is in the future.
type Instance struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	RuleID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_reminder_instance_rule_user,priority:1" json:"rule_id"`
	UserID        uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:ux_reminder_instance_rule_user,priority:2" json:"user_id"`
	CourseID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"course_id"`
	EmailsSent    int        `gorm:"column:emails_sent;not null;default:0" json:"emails_sent"`
	NextSendAt    time.Time  `gorm:"column:next_send_at;not null;index" json:"next_send_at"`
	Completed     bool       `gorm:"column:completed;not null;default:false;index" json:"completed"`
	LockToken     *string    `gorm:"column:lock_token" json:"-"`
	LockExpiresAt *time.Time `gorm:"column:lock_expires_at" json:"-"`
	ClaimVersion  int64      `gorm:"column:claim_version;not null;default:0" json:"-"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Instance) TableName() string { return "reminder_instance" }

func (i *Instance) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// Job is the append-only audit row of one dispatch attempt to one recipient.
type Job struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	InstanceID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"instance_id"`
	MessageID      string         `gorm:"column:message_id;not null;index" json:"message_id"`
	RecipientEmail string         `gorm:"column:recipient_email;not null" json:"recipient_email"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	Attempt        int            `gorm:"column:attempt;not null;default:1" json:"attempt"`
	LastAttemptAt  time.Time      `gorm:"column:last_attempt_at;not null;index" json:"last_attempt_at"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
}

func (Job) TableName() string { return "reminder_job" }

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

// Template bodies are Go templates rendered against the recipient data.
type Template struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	Subject   string    `gorm:"column:subject;not null" json:"subject"`
	BodyHTML  string    `gorm:"column:body_html" json:"body_html"`
	BodyText  string    `gorm:"column:body_text" json:"body_text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Template) TableName() string { return "reminder_template" }

func (t *Template) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
