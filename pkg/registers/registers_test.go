package registers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agent-uploader/pkg/collector"
	"github.com/agent-uploader/pkg/config"
	"github.com/agent-uploader/pkg/uploader"
)

func testConfig(url string) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Upload.URL = url
	cfg.Monitor.Sources.Metadata.Enable = false
	cfg.Monitor.Sources.CPU.Enable = false
	cfg.Monitor.Sources.Memory.Enable = false
	return cfg
}

func TestInitPromRegistryWiresEnabledSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok","ping":1}`)
	}))
	defer srv.Close()

	rt, err := InitPromRegistry(false, testConfig(srv.URL), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, rt.Events)

	sources := rt.Agent.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, collector.EventsKey, sources[0].Name())

	rt.Events.Record("boot", nil)
	assert.Equal(t, uploader.StatusOK, rt.Agent.RunOnce(context.Background()))
	assert.Zero(t, rt.Events.Pending())
	assert.Equal(t, 1, rt.Commands.Len())

	count, err := testutil.GatherAndCount(rt.Registry, "uploader_attempts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, rt.Agent.Shutdown(context.Background()))
}

func TestInitPromRegistryRejectsBadCompression(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Upload.Compression = "brotli"
	_, err := InitPromRegistry(false, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

type failingSource struct{ closed bool }

func (f *failingSource) Sample() (uploader.Sample, bool) { return uploader.Sample{}, false }
func (f *failingSource) Name() string                   { return "failing" }
func (f *failingSource) Init() error                    { return errors.New("no device") }
func (f *failingSource) Close() error                   { f.closed = true; return nil }

func TestRegisterRejectsSourceThatFailsInit(t *testing.T) {
	rt, err := InitPromRegistry(false, testConfig("http://127.0.0.1:1"), zaptest.NewLogger(t))
	require.NoError(t, err)

	src := &failingSource{}
	assert.Error(t, rt.Agent.Register(src, false))
	assert.Len(t, rt.Agent.Sources(), 1)

	require.NoError(t, rt.Agent.Shutdown(context.Background()))
	assert.False(t, src.closed)
}
