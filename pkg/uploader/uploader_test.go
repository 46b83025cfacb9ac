package uploader

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/agent-uploader/pkg/codec"
	"github.com/agent-uploader/pkg/command"
	"github.com/agent-uploader/pkg/config"
	"github.com/agent-uploader/pkg/metrics"
	"github.com/agent-uploader/pkg/monitor"
)

type fixture struct {
	uploader *Uploader
	queue    *command.Queue
	logs     *observer.ObservedLogs
	metrics  monitor.UploadMetrics
}

func testConfig(url string) config.UploadConfig {
	return config.UploadConfig{
		Interval:               10 * time.Second,
		URL:                    url,
		MaxSizeKB:              1024,
		Timeout:                2 * time.Second,
		SuppressRepeatedErrors: true,
		Compression:            "gzip",
	}
}

func newFixture(t *testing.T, cfg config.UploadConfig, opts ...Option) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	factory, _ := metrics.NewTestFactory()
	m := factory.NewUploadMetrics()
	queue := command.NewQueue()

	u, err := New(cfg, queue, m, zap.New(core), opts...)
	require.NoError(t, err)
	return &fixture{uploader: u, queue: queue, logs: logs, metrics: m}
}

func (f *fixture) errorLines() []observer.LoggedEntry {
	return f.logs.FilterLevelExact(zapcore.ErrorLevel).All()
}

// decodePayload reverses the wire encoding of a request body.
func decodePayload(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	plain, err := codec.CompressionGzip.Decompress(raw)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, codec.Unmarshal(plain, &payload))
	return payload
}

func respond(body string, code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}
}

func sequence(key string, values ...any) DataSource {
	i := 0
	return DataSourceFunc(func() (Sample, bool) {
		if i >= len(values) {
			return Sample{}, false
		}
		v := values[i]
		i++
		return Sample{Key: key, Value: v}, true
	})
}

func TestOverwriteAndAppendAcrossFailedCycles(t *testing.T) {
	srv := httptest.NewServer(respond("busy", http.StatusServiceUnavailable))
	defer srv.Close()

	f := newFixture(t, testConfig(srv.URL))
	f.uploader.AddDataSource(sequence("cpu", 0.5, 0.7), false)
	f.uploader.AddDataSource(sequence("evt", "x", "y"), true)

	ctx := context.Background()
	assert.Equal(t, StatusHTTPCodeNotOK, f.uploader.Cycle(ctx))
	assert.Equal(t, StatusHTTPCodeNotOK, f.uploader.Cycle(ctx))

	pending := f.uploader.Pending()
	assert.Equal(t, 0.7, pending["cpu"])
	assert.Equal(t, []any{"x", "y"}, pending["evt"])
	assert.Equal(t, int64(2), f.uploader.FailedUploads())
	assert.Equal(t, map[string]any{FailedUploadsKey: int64(1)}, pending[SampleKey])
}

func TestSuccessRelaysCommandsAndResets(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var received atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ipa/rx.php", r.URL.Path)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		received.Store(decodePayload(t, r))
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok","set_interval":30}`)
	}))
	defer srv.Close()

	f := newFixture(t, testConfig(srv.URL+"/ipa/"))
	f.uploader.AddDataSource(sequence("evt", "boot", "tick"), true)

	ctx := context.Background()
	require.Equal(t, StatusHTTPCodeNotOK, f.uploader.Cycle(ctx))
	require.Equal(t, int64(1), f.uploader.FailedUploads())

	fail.Store(false)
	assert.Equal(t, StatusOK, f.uploader.Cycle(ctx))

	payload := received.Load().(map[string]any)
	assert.Equal(t, []any{"boot", "tick"}, payload["evt"])
	assert.Equal(t, map[string]any{FailedUploadsKey: float64(1)}, payload[SampleKey])

	require.Equal(t, 1, f.queue.Len())
	cmd, ok := f.queue.TryGet()
	require.True(t, ok)
	assert.Equal(t, command.Command{Key: "set_interval", Value: float64(30)}, cmd)

	assert.Empty(t, f.uploader.Pending())
	assert.Equal(t, int64(0), f.uploader.FailedUploads())
	assert.Equal(t, StatusOK, f.uploader.LastStatus())
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.FailedUploads))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Commands))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Attempts.WithLabelValues("ok")))
}

func TestCommandsRelayedInResponseOrder(t *testing.T) {
	srv := httptest.NewServer(respond(`{"reboot":true,"status":"ok","set_interval":30,"log":{"level":"debug"}}`, http.StatusOK))
	defer srv.Close()

	f := newFixture(t, testConfig(srv.URL))
	require.Equal(t, StatusOK, f.uploader.Cycle(context.Background()))

	var keys []string
	for {
		cmd, ok := f.queue.TryGet()
		if !ok {
			break
		}
		keys = append(keys, cmd.Key)
	}
	assert.Equal(t, []string{"reboot", "set_interval", "log"}, keys)
}

func TestConnectionErrorRetainsBuffer(t *testing.T) {
	srv := httptest.NewServer(respond(`{"status":"ok"}`, http.StatusOK))
	url := srv.URL
	srv.Close()

	f := newFixture(t, testConfig(url))
	f.uploader.AddDataSource(sequence("evt", "x"), true)

	assert.Equal(t, StatusException, f.uploader.Cycle(context.Background()))
	before := f.uploader.Pending()
	assert.Equal(t, []any{"x"}, before["evt"])
	assert.Equal(t, int64(1), f.uploader.FailedUploads())

	lines := f.errorLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "failed to upload data", lines[0].Message)
	assert.Equal(t, "exception", lines[0].ContextMap()["status"])
}

func TestResponseClassification(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		code   int
		status Status
	}{
		{"http code", `{"status":"ok"}`, http.StatusBadGateway, StatusHTTPCodeNotOK},
		{"not json", "<html>offline</html>", http.StatusOK, StatusInvalidJSON},
		{"truncated json", `{"status":"ok"`, http.StatusOK, StatusInvalidJSON},
		{"not an object", `["ok"]`, http.StatusOK, StatusInvalidResponse},
		{"status rejected", `{"status":"error","reason":"quota"}`, http.StatusOK, StatusResponseStatusNotOK},
		{"status missing", `{"set_interval":30}`, http.StatusOK, StatusResponseStatusNotOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(respond(tc.body, tc.code))
			defer srv.Close()

			f := newFixture(t, testConfig(srv.URL))
			f.uploader.AddDataSource(sequence("evt", "x"), true)

			assert.Equal(t, tc.status, f.uploader.Cycle(context.Background()))
			assert.Equal(t, tc.status, f.uploader.LastStatus())
			assert.Equal(t, []any{"x"}, f.uploader.Pending()["evt"])
			assert.Equal(t, int64(1), f.uploader.FailedUploads())
			assert.Zero(t, f.queue.Len())
			assert.Len(t, f.errorLines(), 1)
		})
	}
}

func TestMissingStatusLogsUnknown(t *testing.T) {
	srv := httptest.NewServer(respond(`{"set_interval":30}`, http.StatusOK))
	defer srv.Close()

	f := newFixture(t, testConfig(srv.URL))
	f.uploader.Cycle(context.Background())

	lines := f.errorLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "unknown", lines[0].ContextMap()["response_status"])
}

func TestInvalidJSONLogsBoundedBody(t *testing.T) {
	body := "<html>" + strings.Repeat("a", 3*bodyLogLimit)
	srv := httptest.NewServer(respond(body, http.StatusOK))
	defer srv.Close()

	f := newFixture(t, testConfig(srv.URL))
	require.Equal(t, StatusInvalidJSON, f.uploader.Cycle(context.Background()))

	lines := f.errorLines()
	require.Len(t, lines, 1)
	logged, ok := lines[0].ContextMap()["response"].(string)
	require.True(t, ok)
	assert.Len(t, logged, bodyLogLimit)
	assert.True(t, strings.HasPrefix(logged, "<html>"))
}

func TestRepeatedErrorsAreSuppressed(t *testing.T) {
	var body atomic.Value
	body.Store("down")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := body.Load().(string)
		if b == "down" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, b)
	}))
	defer srv.Close()

	f := newFixture(t, testConfig(srv.URL))
	ctx := context.Background()

	f.uploader.Cycle(ctx)
	f.uploader.Cycle(ctx)
	assert.Len(t, f.errorLines(), 1)

	body.Store("not json")
	f.uploader.Cycle(ctx)
	assert.Len(t, f.errorLines(), 2)

	// recovery resets suppression
	body.Store(`{"status":"ok"}`)
	require.Equal(t, StatusOK, f.uploader.Cycle(ctx))
	body.Store("not json")
	f.uploader.Cycle(ctx)
	assert.Len(t, f.errorLines(), 3)
}

func TestSuppressionDisabledLogsEveryFailure(t *testing.T) {
	srv := httptest.NewServer(respond("", http.StatusServiceUnavailable))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SuppressRepeatedErrors = false
	f := newFixture(t, cfg)

	f.uploader.Cycle(context.Background())
	f.uploader.Cycle(context.Background())
	assert.Len(t, f.errorLines(), 2)
}

func TestOversizedBufferIsDiscarded(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	noise := make([]byte, 4096)
	_, err := rand.Read(noise)
	require.NoError(t, err)

	cfg := testConfig(srv.URL)
	cfg.MaxSizeKB = 1
	f := newFixture(t, cfg)
	f.uploader.AddDataSource(sequence("blob", hex.EncodeToString(noise)), true)

	assert.Equal(t, StatusDiscarded, f.uploader.Cycle(context.Background()))
	assert.Zero(t, hits.Load())
	assert.Empty(t, f.uploader.Pending())
	assert.Equal(t, int64(1), f.uploader.FailedUploads())
	assert.Greater(t, testutil.ToFloat64(f.metrics.DiscardedBytes), 1024.0)

	lines := f.errorLines()
	require.Len(t, lines, 1)
	assert.Equal(t, "critical", lines[0].ContextMap()["severity"])
	assert.Equal(t, int64(1), lines[0].ContextMap()[FailedUploadsKey])

	// the next cycle starts from an empty buffer
	assert.Equal(t, StatusOK, f.uploader.Cycle(context.Background()))
	assert.Equal(t, int32(1), hits.Load())
}

func TestDiscardIsNeverSuppressed(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.MaxSizeKB = 1
	f := newFixture(t, cfg)

	noise := make([]byte, 4096)
	big := DataSourceFunc(func() (Sample, bool) {
		_, _ = rand.Read(noise)
		return Sample{Key: "blob", Value: hex.EncodeToString(noise)}, true
	})
	f.uploader.AddDataSource(big, false)

	f.uploader.Cycle(context.Background())
	f.uploader.Cycle(context.Background())
	assert.Len(t, f.errorLines(), 2)
	assert.Equal(t, int64(2), f.uploader.FailedUploads())
}

func TestBasicAuth(t *testing.T) {
	var header atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("Authorization"))
		user, pass, ok := r.BasicAuth()
		if !ok || user != "probe" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	f := newFixture(t, cfg)
	assert.Equal(t, StatusHTTPCodeNotOK, f.uploader.Cycle(context.Background()))
	assert.Equal(t, "", header.Load())

	cfg.Username, cfg.Password = "probe", "s3cret"
	f = newFixture(t, cfg)
	assert.Equal(t, StatusOK, f.uploader.Cycle(context.Background()))
	assert.Equal(t, "Basic cHJvYmU6czNjcmV0", header.Load())
}

func TestSelfSampleOnlyPayload(t *testing.T) {
	payloads := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payloads <- decodePayload(t, r)
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}))
	defer srv.Close()

	f := newFixture(t, testConfig(srv.URL))
	require.Equal(t, StatusOK, f.uploader.Cycle(context.Background()))

	payload := <-payloads
	assert.Equal(t, map[string]any{
		SampleKey: map[string]any{FailedUploadsKey: float64(0)},
	}, payload)
}

func TestModeConflictDropsSample(t *testing.T) {
	srv := httptest.NewServer(respond("", http.StatusServiceUnavailable))
	defer srv.Close()

	f := newFixture(t, testConfig(srv.URL))
	f.uploader.AddDataSource(sequence("mixed", 1), true)
	f.uploader.AddDataSource(sequence("mixed", 2), false)

	f.uploader.Cycle(context.Background())
	assert.Equal(t, []any{1}, f.uploader.Pending()["mixed"])
	assert.Len(t, f.logs.FilterMessage("dropped sample").All(), 1)
}

func TestRunUploadsEveryInterval(t *testing.T) {
	hits := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok"}`)
		hits <- struct{}{}
	}))
	defer srv.Close()

	fc := clockwork.NewFakeClock()
	cfg := testConfig(srv.URL)
	f := newFixture(t, cfg, WithClock(fc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.uploader.Start(ctx))
	assert.Error(t, f.uploader.Start(ctx))

	for i := 0; i < 2; i++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		assert.Len(t, hits, 0)
		fc.Advance(cfg.Interval)
		select {
		case <-hits:
		case <-ctx.Done():
			t.Fatal("no upload after the interval elapsed")
		}
	}

	require.NoError(t, f.uploader.Shutdown(ctx))
	assert.Equal(t, StateTerminated, f.uploader.State())
}

// slowSource advances the fake clock on its first poll, simulating a cycle
// that takes the given time.
func slowSource(fc *clockwork.FakeClock, d time.Duration) DataSource {
	var once atomic.Bool
	return DataSourceFunc(func() (Sample, bool) {
		if once.CompareAndSwap(false, true) {
			fc.Advance(d)
		}
		return Sample{Key: "slow", Value: d.Seconds()}, true
	})
}

func TestNextWaitSubtractsCycleTime(t *testing.T) {
	hits := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok"}`)
		hits <- struct{}{}
	}))
	defer srv.Close()

	awaitHit := func(t *testing.T, ctx context.Context) {
		t.Helper()
		select {
		case <-hits:
		case <-ctx.Done():
			t.Fatal("no upload")
		}
	}

	t.Run("overrun starts next cycle at once", func(t *testing.T) {
		fc := clockwork.NewFakeClock()
		cfg := testConfig(srv.URL)
		f := newFixture(t, cfg, WithClock(fc))
		f.uploader.AddDataSource(slowSource(fc, 15*time.Second), false)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.uploader.Start(ctx))
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(cfg.Interval)

		awaitHit(t, ctx)
		// second cycle runs without another Advance
		awaitHit(t, ctx)

		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		require.NoError(t, f.uploader.Shutdown(ctx))
	})

	t.Run("partial cycle shortens the wait", func(t *testing.T) {
		fc := clockwork.NewFakeClock()
		cfg := testConfig(srv.URL)
		f := newFixture(t, cfg, WithClock(fc))
		f.uploader.AddDataSource(slowSource(fc, 4*time.Second), false)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.uploader.Start(ctx))
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(cfg.Interval)
		awaitHit(t, ctx)

		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		fc.Advance(5 * time.Second)
		assert.Never(t, func() bool { return len(hits) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

		fc.Advance(time.Second)
		awaitHit(t, ctx)
		require.NoError(t, f.uploader.Shutdown(ctx))
	})
}

func TestCycleDurationUsesSchedulerClock(t *testing.T) {
	srv := httptest.NewServer(respond(`{"status":"ok"}`, http.StatusOK))
	defer srv.Close()

	fc := clockwork.NewFakeClock()
	f := newFixture(t, testConfig(srv.URL), WithClock(fc))
	f.uploader.AddDataSource(slowSource(fc, 3*time.Second), false)

	require.Equal(t, StatusOK, f.uploader.Cycle(context.Background()))

	var m dto.Metric
	require.NoError(t, f.metrics.CycleDuration.Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	assert.Equal(t, 3.0, m.GetHistogram().GetSampleSum())
}

func TestTerminationDuringWait(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	fc := clockwork.NewFakeClock()
	f := newFixture(t, testConfig(srv.URL), WithClock(fc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.uploader.Start(ctx))
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	assert.Equal(t, StateWaiting, f.uploader.State())

	require.NoError(t, f.uploader.Shutdown(ctx))
	assert.Equal(t, StateTerminated, f.uploader.State())
	assert.Zero(t, hits.Load())
}

func TestShutdownAbortsInFlightUpload(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	fc := clockwork.NewFakeClock()
	cfg := testConfig(srv.URL)
	cfg.Timeout = time.Minute
	f := newFixture(t, cfg, WithClock(fc))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.uploader.Start(ctx))
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(cfg.Interval)
	<-entered

	require.NoError(t, f.uploader.Shutdown(ctx))
	assert.Equal(t, StateTerminated, f.uploader.State())
	assert.Equal(t, StatusException, f.uploader.LastStatus())
	assert.Empty(t, f.errorLines())
}

func TestNewRejectsBadInput(t *testing.T) {
	factory, _ := metrics.NewTestFactory()
	m := factory.NewUploadMetrics()

	_, err := New(testConfig("http://localhost"), nil, m, zap.NewNop())
	assert.Error(t, err)

	cfg := testConfig("http://localhost")
	cfg.Compression = "brotli"
	_, err = New(cfg, command.NewQueue(), m, zap.NewNop())
	assert.Error(t, err)
}
