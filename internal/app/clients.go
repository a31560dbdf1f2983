package app

import (
	"context"
	"fmt"
	"strings"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/lms-insights/internal/dispatch"
	"github.com/yungbote/lms-insights/internal/mail"
	"github.com/yungbote/lms-insights/internal/platform/authtoken"
	"github.com/yungbote/lms-insights/internal/platform/gcp"
	"github.com/yungbote/lms-insights/internal/platform/logger"
	"github.com/yungbote/lms-insights/internal/platform/sendgrid"
)

// Clients holds the external collaborators. Optional ones stay nil when
// their configuration is absent.
type Clients struct {
	Mail     mail.Sender
	Queue    dispatch.Queue
	Dispatch *dispatch.Client
	Archive  *gcp.ArchiveStore
	// Temporal is dialled by Start when the temporal trigger is selected.
	Temporal temporalsdkclient.Client

	UserTokens     *authtoken.Signer
	CallbackTokens *authtoken.Signer
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	sender, err := NewMailSender(log, cfg.SendGrid)
	if err != nil {
		return c, err
	}
	c.Mail = sender

	if cfg.Dispatch.Enabled() {
		q, err := NewQueue(ctx, cfg.Dispatch)
		if err != nil {
			return c, fmt.Errorf("init dispatch queue: %w", err)
		}
		c.Queue = q
		c.Dispatch = dispatch.NewClient(log, q, cfg.Dispatch.SubmitTimeout)
	} else {
		log.Info("Cloud dispatch disabled; cloud rules and schedules deliver locally")
	}

	if cfg.Archive.Enabled() {
		store, err := gcp.NewArchiveStore(ctx, log, cfg.Archive)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init report archive: %w", err)
		}
		c.Archive = store
	}

	if c.UserTokens, err = authtoken.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init user token signer: %w", err)
	}
	if strings.TrimSpace(cfg.Dispatch.CallbackSecret) != "" {
		if c.CallbackTokens, err = authtoken.NewSigner(cfg.Dispatch.CallbackSecret, "lms-dispatch"); err != nil {
			c.Close()
			return Clients{}, err
		}
	}
	return c, nil
}

// NewMailSender prefers SendGrid and falls back to logging when no API key
// is configured.
func NewMailSender(log *logger.Logger, cfg sendgrid.Config) (mail.Sender, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		log.Warn("SENDGRID_API_KEY not set; mail is logged, not sent")
		return mail.NewLogSender(log), nil
	}
	client, err := sendgrid.New(log, cfg)
	if err != nil {
		return nil, fmt.Errorf("init sendgrid: %w", err)
	}
	return mail.NewSendGridSender(client, cfg.DefaultFromEmail, cfg.DefaultFromName), nil
}

func NewQueue(ctx context.Context, cfg DispatchConfig) (dispatch.Queue, error) {
	return dispatch.NewRedisQueue(ctx, dispatch.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Key:      cfg.QueueKey,
	})
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Queue != nil {
		_ = c.Queue.Close()
	}
	if c.Archive != nil {
		_ = c.Archive.Close()
	}
	if c.Temporal != nil {
		c.Temporal.Close()
	}
}
