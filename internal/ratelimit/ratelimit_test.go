package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func TestAllowBurstThenDeny(t *testing.T) {
	clock := newClock()
	l := New(Limit{PerSecond: 1, Burst: 3}, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		if !l.Allow("viewer") {
			t.Errorf("request %d should be allowed (within burst)", i)
		}
	}
	if l.Allow("viewer") {
		t.Error("request 4 should be denied (burst exhausted)")
	}
	if !l.Allow("other") {
		t.Error("a different key has its own bucket")
	}

	clock.Advance(time.Second)
	if !l.Allow("viewer") {
		t.Error("request after refill should be allowed")
	}
}

func TestOverridesAndUnlimitedDefault(t *testing.T) {
	clock := newClock()
	l := New(Limit{}, WithClock(clock.Now), WithOverrides(map[string]Limit{
		"spammer": {PerSecond: 0.1, Burst: 1},
	}))

	for i := 0; i < 100; i++ {
		if !l.Allow("regular") {
			t.Fatalf("keys without a limit should never be denied (request %d)", i)
		}
	}
	if !l.Allow("spammer") {
		t.Error("first request should be allowed")
	}
	if l.Allow("spammer") {
		t.Error("second request should be denied")
	}
}

func TestGlobalLimit(t *testing.T) {
	clock := newClock()
	l := New(Limit{}, WithClock(clock.Now), WithGlobal(Limit{PerSecond: 1, Burst: 2}))

	if !l.Allow("a") || !l.Allow("b") {
		t.Fatal("first two requests should be allowed")
	}
	if l.Allow("c") {
		t.Error("global burst exhausted, request should be denied")
	}
}

func TestDisabled(t *testing.T) {
	l := New(Limit{PerSecond: 1, Burst: 1})
	l.SetEnabled(false)
	if l.IsEnabled() {
		t.Fatal("limiter should report disabled")
	}
	for i := 0; i < 10; i++ {
		if !l.Allow("x") {
			t.Fatal("disabled limiter should allow everything")
		}
	}
}

func TestStatsAndPrune(t *testing.T) {
	clock := newClock()
	l := New(Limit{PerSecond: 1, Burst: 2}, WithClock(clock.Now))

	l.Allow("a")
	l.Allow("a")
	l.Allow("a")
	l.Allow("b")

	stats := l.Stats()
	if len(stats) != 2 {
		t.Fatalf("len(stats) = %d, want 2", len(stats))
	}
	if stats[0].Key != "a" || stats[0].TotalRequests != 3 || stats[0].DeniedRequests != 1 {
		t.Errorf("unexpected stats for a: %+v", stats[0])
	}

	clock.Advance(time.Second)
	if removed := l.Prune(); removed != 1 {
		t.Errorf("Prune removed %d, want 1 (only b is full)", removed)
	}
	clock.Advance(time.Second)
	if removed := l.Prune(); removed != 1 {
		t.Errorf("Prune removed %d, want 1", removed)
	}
	if len(l.Stats()) != 0 {
		t.Error("all buckets should be pruned")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(Limit{PerSecond: 0.001, Burst: 1})

	router := gin.New()
	router.Use(l.Middleware())
	router.POST("/api/events/:name", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/events/follow", nil))
	if first.Code != http.StatusAccepted {
		t.Errorf("first status = %d, want 202", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/events/follow", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.Code)
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	l := New(Limit{}, WithOverrides(map[string]Limit{
		"/grpc.health.v1.Health/Check": {PerSecond: 0.001, Burst: 1},
	}))
	interceptor := l.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	if _, err := interceptor(context.Background(), nil, info, handler); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := interceptor(context.Background(), nil, info, handler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("code = %v, want ResourceExhausted", status.Code(err))
	}
}
