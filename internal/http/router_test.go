package http

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/dispatch"
	httpH "github.com/yungbote/lms-insights/internal/http/handlers"
	httpMW "github.com/yungbote/lms-insights/internal/http/middleware"
	"github.com/yungbote/lms-insights/internal/platform/authtoken"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type okTracker struct{ user uuid.UUID }

func (o *okTracker) RecordHeartbeat(_ context.Context, userID, _ uuid.UUID, _ time.Time) error {
	o.user = userID
	return nil
}

type okReconciler struct{ calls int }

func (o *okReconciler) ReconcileCallback(context.Context, dispatch.Callback) error {
	o.calls++
	return nil
}

func testRouter(t *testing.T) (*gin.Engine, *authtoken.Signer, *okTracker, *okReconciler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	signer, err := authtoken.NewSigner("test-secret", "lms-insights")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	log := logger.Nop()
	tracker, rec := &okTracker{}, &okReconciler{}
	r := NewRouter(RouterConfig{
		Log:             log,
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, signer),
		CallbackAuth:    httpMW.RequireAudience(log, signer, authtoken.AudienceCallback),
		TrackingHandler: httpH.NewTrackingHandler(log, tracker),
		CallbackHandler: httpH.NewCallbackHandler(log, rec),
		HealthHandler:   httpH.NewHealthHandler(nil),
	})
	return r, signer, tracker, rec
}

func do(r http.Handler, path, token, body string) int {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec.Code
}

func TestHeartbeatRequiresUserToken(t *testing.T) {
	r, signer, tracker, _ := testRouter(t)
	body := `{"course_id":"` + uuid.NewString() + `"}`

	if code := do(r, "/api/tracking/heartbeat", "", body); code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", code)
	}
	cbToken, _ := signer.Sign("dispatch-worker", authtoken.AudienceCallback, time.Minute)
	if code := do(r, "/api/tracking/heartbeat", cbToken, body); code != http.StatusUnauthorized {
		t.Fatalf("callback token accepted for user route: status = %d", code)
	}

	user := uuid.New()
	tok, _ := signer.Sign(user.String(), authtoken.AudienceUser, time.Minute)
	if code := do(r, "/api/tracking/heartbeat", tok, body); code != http.StatusOK {
		t.Fatalf("valid token: status = %d", code)
	}
	if tracker.user != user {
		t.Fatalf("heartbeat recorded for %s, want %s", tracker.user, user)
	}
}

func TestCallbackRequiresServiceToken(t *testing.T) {
	r, signer, _, rec := testRouter(t)
	body := `{"job_id":"j1","status":"completed","emails_sent":1}`

	userTok, _ := signer.Sign(uuid.NewString(), authtoken.AudienceUser, time.Minute)
	if code := do(r, "/api/dispatch/callback", userTok, body); code != http.StatusUnauthorized {
		t.Fatalf("user token accepted for callback: status = %d", code)
	}
	tok, _ := signer.Sign("dispatch-worker", authtoken.AudienceCallback, time.Minute)
	if code := do(r, "/api/dispatch/callback", tok, body); code != http.StatusOK {
		t.Fatalf("valid callback: status = %d", code)
	}
	if rec.calls != 1 {
		t.Fatalf("reconciler called %d times", rec.calls)
	}
}

func TestHealthz(t *testing.T) {
	r, _, _, _ := testRouter(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}
