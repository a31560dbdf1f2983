package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yungbote/lms-insights/internal/platform/authtoken"
	"github.com/yungbote/lms-insights/internal/platform/httpx"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

// CallbackPoster reports a processed job back to the producer.
type CallbackPoster interface {
	Post(ctx context.Context, cb Callback) error
}

type httpCallback struct {
	log        *logger.Logger
	url        string
	signer     *authtoken.Signer
	tokenTTL   time.Duration
	maxRetries int
	httpClient *http.Client
}

// NewHTTPCallback posts callbacks as JSON with a short-lived bearer token
// signed by the shared secret.
func NewHTTPCallback(baseLog *logger.Logger, url string, signer *authtoken.Signer, timeout time.Duration, maxRetries int) CallbackPoster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpCallback{
		log:        baseLog.With("component", "DispatchCallback"),
		url:        url,
		signer:     signer,
		tokenTTL:   5 * time.Minute,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type callbackHTTPError struct {
	StatusCode int
	Body       string
}

func (e *callbackHTTPError) Error() string {
	return fmt.Sprintf("callback http %d: %s", e.StatusCode, e.Body)
}

func (e *callbackHTTPError) HTTPStatusCode() int { return e.StatusCode }

func (c *httpCallback) Post(ctx context.Context, cb Callback) error {
	raw, err := json.Marshal(cb)
	if err != nil {
		return err
	}
	backoff := 500 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := c.postOnce(ctx, raw)
		if err == nil {
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.maxRetries {
			return err
		}
		c.log.Warn("Callback retrying", "job_id", cb.JobID, "attempt", attempt+1, "error", err)
		if err := httpx.Sleep(ctx, httpx.JitterSleep(backoff)); err != nil {
			return err
		}
		backoff *= 2
	}
}

func (c *httpCallback) postOnce(ctx context.Context, raw []byte) error {
	token, err := c.signer.Sign("dispatch-worker", authtoken.AudienceCallback, c.tokenTTL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &callbackHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}
