package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yungbote/lms-insights/internal/mail"
	"github.com/yungbote/lms-insights/internal/platform/authtoken"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type memQueue struct {
	mu      sync.Mutex
	items   [][]byte
	pushErr error
	panics  bool
}

func (q *memQueue) Push(_ context.Context, raw []byte) error {
	if q.panics {
		panic("transport exploded")
	}
	if q.pushErr != nil {
		return q.pushErr
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, raw)
	return nil
}

func (q *memQueue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		time.Sleep(time.Millisecond)
		q.mu.Lock()
		return nil, ErrQueueEmpty
	}
	raw := q.items[0]
	q.items = q.items[1:]
	return raw, nil
}

func (q *memQueue) Close() error { return nil }

type fakeSender struct {
	mu     sync.Mutex
	sent   []mail.Message
	failOn string
}

func (s *fakeSender) Send(_ context.Context, msg mail.Message) (string, error) {
	if msg.To == s.failOn {
		return "", errors.New("mailbox unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return "id-" + msg.To, nil
}

type fakeCallback struct {
	mu  sync.Mutex
	got []Callback
}

func (c *fakeCallback) Post(_ context.Context, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, cb)
	return nil
}

func testPayload(emails ...string) Payload {
	p := Payload{Template: mail.Template{Subject: "Hi {{.FirstName}}", Text: "Go on, {{.FirstName}}"}}
	for _, e := range emails {
		p.Recipients = append(p.Recipients, Recipient{Email: e, RecipientData: map[string]any{"FirstName": "Ada"}})
	}
	return p
}

func TestSubmitEnqueuesJob(t *testing.T) {
	q := &memQueue{}
	c := NewClient(logger.Nop(), q, time.Second)

	id, ok := c.Submit(context.Background(), "acme", JobTypeReminder, testPayload("a@example.com"))
	if !ok || id == "" {
		t.Fatalf("expected ok with id, got %q %v", id, ok)
	}
	if len(q.items) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(q.items))
	}
	var job Job
	if err := json.Unmarshal(q.items[0], &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.JobID != id || job.CompanyID != "acme" || len(job.Recipients) != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestSubmitNeverPanics(t *testing.T) {
	cases := map[string]*memQueue{
		"push error": {pushErr: errors.New("connection refused")},
		"panic":      {panics: true},
	}
	for name, q := range cases {
		c := NewClient(logger.Nop(), q, time.Second)
		if id, ok := c.Submit(context.Background(), "", JobTypeReminder, testPayload("a@example.com")); ok || id != "" {
			t.Fatalf("%s: expected failure, got %q %v", name, id, ok)
		}
	}
	var nilClient *Client
	if _, ok := nilClient.Submit(context.Background(), "", JobTypeReminder, testPayload("a@example.com")); ok {
		t.Fatalf("nil client must report failure")
	}
}

func TestProcessPartialFailure(t *testing.T) {
	sender := &fakeSender{failOn: "bad@example.com"}
	w := NewWorker(logger.Nop(), nil, sender, nil, WorkerConfig{Concurrency: 2})

	job := Job{JobID: "j1", Type: JobTypeReminder}
	p := testPayload("a@example.com", "bad@example.com", "c@example.com")
	job.Template, job.Recipients = p.Template, p.Recipients

	res := w.Process(context.Background(), job)
	if res.Status != StatusPartialFailure || res.EmailsSent != 2 || res.EmailsFailed != 1 {
		t.Fatalf("unexpected results: %+v", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "bad@example.com") {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	if len(res.FailedRecipients) != 1 || res.FailedRecipients[0] != "bad@example.com" {
		t.Fatalf("unexpected failed recipients: %v", res.FailedRecipients)
	}

	job.Recipients = job.Recipients[:1]
	if res := w.Process(context.Background(), job); res.Status != StatusCompleted || res.EmailsFailed != 0 {
		t.Fatalf("expected completed, got %+v", res)
	}
	if res := w.Process(context.Background(), Job{JobID: "j2", Type: "sms"}); res.Status != StatusFailed {
		t.Fatalf("unknown type should fail the job, got %+v", res)
	}
}

func TestRunConsumesQueueAndCallsBack(t *testing.T) {
	q := &memQueue{}
	sender := &fakeSender{}
	cb := &fakeCallback{}
	client := NewClient(logger.Nop(), q, time.Second)
	id, ok := client.Submit(context.Background(), "", JobTypeReminder, testPayload("a@example.com", "b@example.com"))
	if !ok {
		t.Fatalf("submit failed")
	}

	w := NewWorker(logger.Nop(), q, sender, cb, WorkerConfig{Concurrency: 1, PopTimeout: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		cb.mu.Lock()
		n := len(cb.got)
		cb.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("callback not received")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := cb.got[0]
	if got.JobID != id || got.Type != JobTypeReminder || got.Status != StatusCompleted || got.EmailsSent != 2 {
		t.Fatalf("unexpected callback: %+v", got)
	}
}

func TestHTTPCallbackSignsRequest(t *testing.T) {
	signer, err := authtoken.NewSigner("s3cret", "test")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	var got Callback
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := signer.Verify(authtoken.BearerToken(r.Header.Get("Authorization")), authtoken.AudienceCallback); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	poster := NewHTTPCallback(logger.Nop(), srv.URL, signer, time.Second, 0)
	err = poster.Post(context.Background(), Callback{JobID: "j1", Status: StatusCompleted, EmailsSent: 1})
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got.JobID != "j1" || got.EmailsSent != 1 {
		t.Fatalf("server saw %+v", got)
	}

	wrong, _ := authtoken.NewSigner("nope", "test")
	poster = NewHTTPCallback(logger.Nop(), srv.URL, wrong, time.Second, 0)
	if err := poster.Post(context.Background(), Callback{JobID: "j2"}); err == nil {
		t.Fatalf("expected rejection with the wrong secret")
	}
}

type ownedJobs struct {
	ids  map[string]bool
	seen []string
}

func (o *ownedJobs) ReconcileCallback(_ context.Context, cb Callback) error {
	o.seen = append(o.seen, cb.JobID)
	if !o.ids[cb.JobID] {
		return fmt.Errorf("%w: %s", ErrUnknownJob, cb.JobID)
	}
	return nil
}

func TestCallbackRouterRoutesByType(t *testing.T) {
	reminders := &ownedJobs{ids: map[string]bool{"r1": true}}
	reports := &ownedJobs{ids: map[string]bool{"p1": true}}
	router := NewCallbackRouter().Handle(JobTypeReminder, reminders).Handle(JobTypeReport, reports)
	ctx := context.Background()

	if err := router.ReconcileCallback(ctx, Callback{JobID: "p1", Type: JobTypeReport, Status: StatusCompleted}); err != nil {
		t.Fatalf("report callback: %v", err)
	}
	if len(reminders.seen) != 0 || len(reports.seen) != 1 {
		t.Fatalf("typed callback went to the wrong producer: reminders=%v reports=%v", reminders.seen, reports.seen)
	}

	// Untyped callbacks are offered to each producer until one owns the job.
	if err := router.ReconcileCallback(ctx, Callback{JobID: "p1", Status: StatusCompleted}); err != nil {
		t.Fatalf("untyped callback: %v", err)
	}
	err := router.ReconcileCallback(ctx, Callback{JobID: "zzz", Status: StatusCompleted})
	if !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}
