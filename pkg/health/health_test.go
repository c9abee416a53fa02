package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type statusBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingWith(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func probe(t *testing.T, endpoint http.HandlerFunc) (int, statusBody) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func runTimes(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		runs       int
		wantStatus int
		wantChecks map[string]string
	}{
		{name: "not run yet", runs: 0, wantStatus: http.StatusOK},
		{name: "below threshold", runs: 2, wantStatus: http.StatusOK},
		{
			name:       "at threshold",
			runs:       3,
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			h.AddLivenessCheck("goroutines", passing())
			h.AddLivenessCheck("postgres", failingWith("connection refused"))
			runTimes(h.liveness[0], tt.runs)
			runTimes(h.liveness[1], tt.runs)

			code, body := probe(t, h.LiveEndpoint)
			assert.Equal(t, tt.wantStatus, code)
			assert.Equal(t, tt.wantChecks, body.Checks)
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("postgres", passing())
	h.AddReadinessCheck("redis", failingWith("dial tcp: refused"), WithThresholds(1, 2))

	code, body := probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Contains(t, body.Checks, "_readiness")

	h.SetReady(true)
	code, body = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)

	h.readiness[1].run(context.Background())
	code, body = probe(t, h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"redis": "dial tcp: refused"}, body.Checks)
	assert.False(t, h.IsReady())

	h.SetReady(false)
	_, body = probe(t, h.ReadyEndpoint)
	assert.Len(t, body.Checks, 2)
}

func TestCheckThresholds(t *testing.T) {
	failing := true
	c := newCheck("flaky", func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}, []CheckOption{WithThresholds(2, 2), WithTimeout(time.Second)})

	assert.Nil(t, c.lastError())
	assert.False(t, c.run(context.Background()))
	assert.True(t, c.isHealthy())
	assert.True(t, c.run(context.Background()), "second failure flips")
	assert.False(t, c.isHealthy())
	assert.EqualError(t, c.lastError(), "down")

	failing = false
	assert.False(t, c.run(context.Background()))
	assert.False(t, c.isHealthy(), "one success is below threshold")
	assert.True(t, c.run(context.Background()))
	assert.True(t, c.isHealthy())
}

func TestCheckTimeout(t *testing.T) {
	c := newCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, []CheckOption{WithTimeout(10 * time.Millisecond), WithThresholds(1, 1)})

	c.run(context.Background())
	assert.False(t, c.isHealthy())
	assert.ErrorIs(t, c.lastError(), context.DeadlineExceeded)
}

func TestStartLogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(zap.New(core))
	h.AddReadinessCheck("kafka", failingWith("no brokers"), WithThresholds(1, 1))

	h.Start(context.Background(), 10*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Health check failing").Len() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("goroutines", passing())
	h.Start(context.Background(), 10*time.Millisecond)
	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New(nil)
	h.AddLivenessCheck("live", failingWith("err"))
	h.AddReadinessCheck("ready", passing())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, PingCheck(pingerFunc(func(context.Context) error { return nil }))(ctx))
	assert.EqualError(t, PingCheck(pingerFunc(func(context.Context) error { return errors.New("down") }))(ctx), "down")

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	assert.NoError(t, RedisCheck(client)(ctx))
	mr.Close()
	assert.Error(t, RedisCheck(client)(ctx))

	assert.Error(t, KafkaCheck(nil)(ctx))

	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	err := GoroutineCountCheck(0)(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))
}
