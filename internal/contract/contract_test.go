package contract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/celerix-dev/chronovault/internal/metrics"
	"github.com/celerix-dev/chronovault/pkg/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const owner = "0x1111111111111111111111111111111111111111"

type flakyMirror struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []schema.Verdict
	done     chan struct{}
}

func (f *flakyMirror) Publish(_ context.Context, v schema.Verdict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("relay down")
	}
	f.got = append(f.got, v)
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	return nil
}

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
}

func TestDispatcherRetriesUntilDelivered(t *testing.T) {
	m := metrics.New()
	mirror := &flakyMirror{failures: 2, done: make(chan struct{})}
	d := NewDispatcher(mirror, 4, m)
	d.backoff = time.Millisecond
	done := mirror.done
	runDispatcher(t, d)

	d.Publish(schema.Verdict{Owner: owner, State: schema.StateReleased})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("verdict was not delivered")
	}
	mirror.mu.Lock()
	require.Equal(t, 3, mirror.calls)
	require.Equal(t, schema.StateReleased, mirror.got[0].State)
	mirror.mu.Unlock()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.MirrorResults.WithLabelValues("ok")) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherGivesUpAfterThreeAttempts(t *testing.T) {
	m := metrics.New()
	mirror := &flakyMirror{failures: 100}
	d := NewDispatcher(mirror, 4, m)
	d.backoff = time.Millisecond
	gaveUp := make(chan schema.Verdict, 1)
	d.OnGiveUp(func(v schema.Verdict) { gaveUp <- v })
	runDispatcher(t, d)

	d.Publish(schema.Verdict{Owner: owner, State: schema.StateReleased})

	select {
	case v := <-gaveUp:
		require.Equal(t, schema.StateReleased, v.State)
	case <-time.After(2 * time.Second):
		t.Fatal("give-up hook was not called")
	}
	require.Equal(t, 1.0, testutil.ToFloat64(m.MirrorResults.WithLabelValues("failed")))
	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	require.Equal(t, maxAttempts, mirror.calls)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(LogMirror{}, 1, m)

	// No worker: the second verdict has nowhere to go.
	require.True(t, d.Publish(schema.Verdict{Owner: owner}))
	require.False(t, d.Publish(schema.Verdict{Owner: owner}))

	require.Equal(t, 1.0, testutil.ToFloat64(m.MirrorResults.WithLabelValues("dropped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.MirrorQueue))
}

func TestHTTPMirror(t *testing.T) {
	var got schema.Verdict
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if got.State == schema.StateOverdue {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewHTTPMirror(srv.URL, time.Second)
	defer m.Client.CloseIdleConnections()
	require.NoError(t, m.Publish(context.Background(), schema.Verdict{Owner: owner, State: schema.StateReleased, FundsLocked: true}))
	require.Equal(t, owner, got.Owner)
	require.True(t, got.FundsLocked)

	err := m.Publish(context.Background(), schema.Verdict{Owner: owner, State: schema.StateOverdue})
	require.ErrorContains(t, err, "502")
}
