// Package uploader periodically polls data sources into a buffer, posts the
// compressed buffer to the collector and relays the commands it answers with.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/codec"
	"github.com/agent-uploader/pkg/command"
	"github.com/agent-uploader/pkg/config"
	"github.com/agent-uploader/pkg/monitor"
)

const (
	// SampleKey is the type-key of the uploader's own sample.
	SampleKey = "upload"
	// FailedUploadsKey holds the failed attempt count inside the own sample.
	FailedUploadsKey = "failed_uploads"

	responseStatusKey     = "status"
	responseStatusOK      = "ok"
	responseStatusUnknown = "unknown"

	// bodyLogLimit bounds how much of an unparseable response is logged.
	bodyLogLimit = 10 * 1024
)

// Option customizes an Uploader.
type Option func(*Uploader)

// WithClock replaces the wall clock used by the scheduler.
func WithClock(clock clockwork.Clock) Option {
	return func(u *Uploader) { u.clock = clock }
}

// Uploader owns the sample buffer. Poll, upload and the buffer are confined
// to the goroutine running Run (or the caller of Cycle); the accessors below
// are safe from any goroutine.
type Uploader struct {
	cfg         config.UploadConfig
	compression codec.Compression
	transport   *Transport
	commands    command.Sink
	metrics     monitor.UploadMetrics
	log         *zap.Logger
	reporter    *Reporter
	clock       clockwork.Clock

	sources []registration
	buffer  *Buffer

	failedUploads atomic.Int64
	state         atomic.Int32
	lastStatus    atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New builds an uploader for cfg and registers it as its own data source.
func New(cfg config.UploadConfig, commands command.Sink, m monitor.UploadMetrics, log *zap.Logger, opts ...Option) (*Uploader, error) {
	if commands == nil {
		return nil, errors.New("uploader: nil command sink")
	}
	if log == nil {
		log = zap.NewNop()
	}
	compression, err := codec.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	transport, err := NewTransport(cfg, log.Named("transport"))
	if err != nil {
		return nil, err
	}

	u := &Uploader{
		cfg:         cfg,
		compression: compression,
		transport:   transport,
		commands:    commands,
		metrics:     m,
		log:         log,
		reporter:    NewReporter(log, cfg.SuppressRepeatedErrors),
		clock:       clockwork.NewRealClock(),
		buffer:      NewBuffer(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.AddDataSource(u, false)
	return u, nil
}

// AddDataSource registers src. buffering=true appends every sample of the
// source until the next successful upload; false keeps only the latest one.
// Register sources before starting the scheduler.
func (u *Uploader) AddDataSource(src DataSource, buffering bool) {
	u.sources = append(u.sources, registration{source: src, buffering: buffering})
}

// Sample reports the number of failed upload attempts since the last success.
func (u *Uploader) Sample() (Sample, bool) {
	return Sample{
		Key:   SampleKey,
		Value: map[string]any{FailedUploadsKey: u.failedUploads.Load()},
	}, true
}

// Run drives the wait, poll, upload loop until ctx is done. A termination
// observed during the wait returns at once. ctx is also attached to the
// in-flight request, so cancellation aborts a pending upload instead of
// waiting for the request timeout.
func (u *Uploader) Run(ctx context.Context) {
	interval := u.cfg.Interval
	u.log.Info("upload scheduler started",
		zap.Duration("interval", interval),
		zap.String("endpoint", u.transport.Endpoint()),
		zap.Stringer("compression", u.compression))
	defer func() {
		u.setState(StateTerminated)
		u.log.Info("upload scheduler stopped")
	}()

	wait := interval
	for {
		u.setState(StateWaiting)
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-u.clock.After(wait):
			}
		} else if ctx.Err() != nil {
			return
		}

		start := u.clock.Now()
		u.Cycle(ctx)
		wait = interval - u.clock.Since(start)
	}
}

// Cycle polls every source once, then attempts one upload.
func (u *Uploader) Cycle(ctx context.Context) Status {
	start := u.clock.Now()
	defer func() {
		if u.metrics.CycleDuration != nil {
			u.metrics.CycleDuration.Observe(u.clock.Since(start).Seconds())
		}
	}()

	u.setState(StatePolling)
	u.poll()
	u.setState(StateUploading)
	return u.upload(ctx)
}

func (u *Uploader) poll() {
	for _, reg := range u.sources {
		sample, ok := reg.source.Sample()
		if !ok {
			continue
		}
		if err := u.buffer.Merge(sample, reg.buffering); err != nil {
			u.log.Warn("dropped sample", zap.String("key", sample.Key), zap.Error(err))
		}
	}
}

func (u *Uploader) upload(ctx context.Context) Status {
	payload, err := codec.Marshal(u.buffer.Payload())
	if err == nil {
		payload, err = u.compression.Compress(payload)
	}
	failed := u.failedUploads.Add(1)
	u.setFailedGauge(failed)

	if err != nil {
		// an unencodable buffer stays unencodable
		u.buffer.Clear()
		u.log.Error("discarded unencodable upload buffer",
			zap.Error(err),
			zap.Int64(FailedUploadsKey, failed),
			zap.String("severity", "critical"))
		return u.finish(StatusEncodeFailed)
	}

	size := len(payload)
	if u.metrics.PayloadBytes != nil {
		u.metrics.PayloadBytes.Observe(float64(size))
	}
	if size > u.cfg.MaxSizeBytes() {
		u.buffer.Clear()
		u.log.Error(fmt.Sprintf("discarded upload buffer of size %d after %d failed uploads", size, failed),
			zap.Int("size", size),
			zap.Int64(FailedUploadsKey, failed),
			zap.String("severity", "critical"))
		if u.metrics.DiscardedBytes != nil {
			u.metrics.DiscardedBytes.Add(float64(size))
		}
		return u.finish(StatusDiscarded)
	}

	u.log.Debug("uploading", zap.Int("bytes", size))
	code, body, err := u.transport.Post(ctx, payload)
	if err != nil {
		if ctx.Err() != nil {
			u.log.Debug("upload aborted", zap.Error(err))
		} else {
			u.reporter.Report(StatusException, "failed to upload data", zap.Error(err))
		}
		return u.finish(StatusException)
	}
	if code != http.StatusOK {
		u.reporter.Report(StatusHTTPCodeNotOK, "failed to upload data: unexpected HTTP status code",
			zap.Int("code", code))
		return u.finish(StatusHTTPCodeNotOK)
	}

	fields, err := codec.DecodeObject(body)
	switch {
	case errors.Is(err, codec.ErrNotObject):
		u.reporter.Report(StatusInvalidResponse, "server response is not an object",
			zap.ByteString("response", truncate(body, bodyLogLimit)))
		return u.finish(StatusInvalidResponse)
	case err != nil:
		u.reporter.Report(StatusInvalidJSON, "failed to parse server response",
			zap.Error(err),
			zap.ByteString("response", truncate(body, bodyLogLimit)))
		return u.finish(StatusInvalidJSON)
	}

	status := responseStatus(fields)
	if status != responseStatusOK {
		u.reporter.Report(StatusResponseStatusNotOK, "upload failed", zap.Any("response_status", status))
		return u.finish(StatusResponseStatusNotOK)
	}

	u.reporter.Reset()
	u.log.Debug("upload ok", zap.ByteString("response", body))
	for _, f := range fields {
		if f.Key == responseStatusKey {
			continue
		}
		u.commands.Put(command.Command{Key: f.Key, Value: f.Value})
		if u.metrics.Commands != nil {
			u.metrics.Commands.Inc()
		}
	}
	u.buffer.Clear()
	u.failedUploads.Store(0)
	u.setFailedGauge(0)
	return u.finish(StatusOK)
}

func (u *Uploader) finish(s Status) Status {
	u.lastStatus.Store(int32(s))
	if u.metrics.Attempts != nil {
		u.metrics.Attempts.WithLabelValues(s.String()).Inc()
	}
	return s
}

func (u *Uploader) setFailedGauge(n int64) {
	if u.metrics.FailedUploads != nil {
		u.metrics.FailedUploads.Set(float64(n))
	}
}

func (u *Uploader) setState(s State) {
	u.state.Store(int32(s))
}

// responseStatus returns the status field, or "unknown" when it is absent.
// Later duplicates win, matching a decode into a map.
func responseStatus(fields []codec.Field) any {
	var status any = responseStatusUnknown
	for _, f := range fields {
		if f.Key == responseStatusKey {
			status = f.Value
		}
	}
	return status
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// Start runs the scheduler in a background goroutine.
func (u *Uploader) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancel != nil {
		return errors.New("uploader already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	u.stopped = make(chan struct{})
	go func() {
		defer close(u.stopped)
		u.Run(runCtx)
	}()
	return nil
}

// Shutdown stops the scheduler and waits for it to exit or for ctx to expire.
func (u *Uploader) Shutdown(ctx context.Context) error {
	u.mu.Lock()
	cancel, stopped := u.cancel, u.stopped
	u.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("uploader shutdown: %w", ctx.Err())
	}
}

// State returns the scheduler state.
func (u *Uploader) State() State { return State(u.state.Load()) }

// FailedUploads returns the number of failed attempts since the last success.
func (u *Uploader) FailedUploads() int64 { return u.failedUploads.Load() }

// LastStatus returns the outcome of the most recent attempt.
func (u *Uploader) LastStatus() Status { return Status(u.lastStatus.Load()) }

// Pending returns the current buffer contents. Only call it while the
// scheduler is not running.
func (u *Uploader) Pending() map[string]any { return u.buffer.Payload() }

var _ DataSource = (*Uploader)(nil)
