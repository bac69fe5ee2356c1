package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func serve(t *testing.T, handler http.HandlerFunc, path string) (int, statusBody) {
	t.Helper()

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		failRuns   int
		opts       []Option
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "checks start healthy",
			wantStatus: http.StatusOK,
		},
		{
			name:       "failures below threshold",
			failRuns:   2,
			wantStatus: http.StatusOK,
		},
		{
			name:       "failures reach threshold",
			failRuns:   3,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"db": "connection refused"},
		},
		{
			name:       "custom threshold",
			failRuns:   1,
			opts:       []Option{WithFailureThreshold(1)},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"db": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("db", time.Second, failing("connection refused"), tt.opts...)
			runN(h.liveness[0], tt.failRuns)

			code, body := serve(t, h.LiveEndpoint, "/livez")
			assert.Equal(t, tt.wantStatus, code)
			assert.Equal(t, tt.wantChecks, body.Checks)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "ok", body.Status)
			} else {
				assert.Equal(t, "unhealthy", body.Status)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("not ready until gate opens", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("db", time.Second, passing())

		code, body := serve(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "service is not ready", body.Checks["_readiness"])

		h.SetReady(true)
		code, body = serve(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok", body.Status)

		h.SetReady(false)
		code, _ = serve(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})

	t.Run("lists only failing checks", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passing())
		h.AddReadinessCheck("cache", time.Second, failing("cold"))
		h.SetReady(true)
		runN(h.readiness[0], 3)
		runN(h.readiness[1], 3)

		code, body := serve(t, h.ReadyEndpoint, "/readyz")
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, map[string]string{"cache": "cold"}, body.Checks)
		assert.False(t, h.IsReady())
	})
}

func TestCheck_Recovery(t *testing.T) {
	fail := true
	c := newCheck("flaky", time.Second, func(context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	}, []Option{WithSuccessThreshold(2)})

	runN(c, 3)
	assert.False(t, c.healthy.Load())
	assert.Equal(t, "down", c.failure())

	fail = false
	runN(c, 1)
	assert.False(t, c.healthy.Load(), "one success is below the success threshold")
	assert.Equal(t, "check is unhealthy", c.failure())

	runN(c, 1)
	assert.True(t, c.healthy.Load())
	assert.Empty(t, c.failure())
}

func TestCheck_Timeout(t *testing.T) {
	c := newCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, []Option{WithFailureThreshold(1)})

	runN(c, 1)
	assert.Equal(t, context.DeadlineExceeded.Error(), c.failure())
}

func TestStartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.AddLivenessCheck("counter", time.Second, func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 3
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	stopped := calls
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, stopped, calls)
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("live", time.Second, passing())
	h.AddReadinessCheck("ready", time.Second, failing("nope"))
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			for range 50 {
				w := httptest.NewRecorder()
				h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				_ = h.IsReady()
			}
		})
	}
	wg.Wait()
}

func TestGoroutineCountCheck(t *testing.T) {
	require.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	require.Error(t, GoroutineCountCheck(0)(context.Background()))
}

func TestHeartbeat(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	b := &Heartbeat{now: func() time.Time { return now }}
	check := b.Check(time.Minute)

	require.ErrorContains(t, check(context.Background()), "no heartbeat yet")
	assert.True(t, b.Last().IsZero())

	b.Beat()
	require.NoError(t, check(context.Background()))
	assert.True(t, now.Equal(b.Last()))

	now = now.Add(59 * time.Second)
	require.NoError(t, check(context.Background()))

	now = now.Add(2 * time.Second)
	require.ErrorContains(t, check(context.Background()), "exceeds 1m0s")
}
