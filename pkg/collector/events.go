package collector

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/agent-uploader/pkg/monitor"
	"github.com/agent-uploader/pkg/uploader"
)

const (
	// EventsKey is the type-key of event samples.
	EventsKey = "events"

	// MaxPendingEvents caps events held between polls; the oldest are dropped first.
	MaxPendingEvents = 1024
)

// EventsCollector 进程内事件数据源。Record 可被任意 goroutine 调用，
// Sample 一次性取走所有待上报事件。
type EventsCollector struct {
	base
	clock clockwork.Clock

	mu      sync.Mutex
	pending []map[string]any
}

func NewEventsCollector(m monitor.CollectorMetrics, log *zap.Logger, clock clockwork.Clock) *EventsCollector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &EventsCollector{
		base:  newBase(EventsKey, m, log),
		clock: clock,
	}
}

func (c *EventsCollector) Init() error { return nil }

// Record queues an event. attrs are copied; "name" and "ts" are reserved.
func (c *EventsCollector) Record(name string, attrs map[string]any) {
	event := make(map[string]any, len(attrs)+2)
	for k, v := range attrs {
		event[k] = v
	}
	event["name"] = name
	event["ts"] = c.clock.Now().UnixMilli()

	c.mu.Lock()
	dropped := 0
	if len(c.pending) >= MaxPendingEvents {
		dropped = len(c.pending) - MaxPendingEvents + 1
		c.pending = c.pending[dropped:]
	}
	c.pending = append(c.pending, event)
	c.mu.Unlock()

	if dropped > 0 && c.metrics.Errors != nil {
		c.metrics.Errors.WithLabelValues(c.name).Add(float64(dropped))
	}
}

// Pending returns the number of queued events.
func (c *EventsCollector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Sample drains the queue as one value. No events means no sample.
func (c *EventsCollector) Sample() (uploader.Sample, bool) {
	start := time.Now()
	defer c.observe(start)

	c.mu.Lock()
	drained := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(drained) == 0 {
		return uploader.Sample{}, false
	}
	batch := make([]any, len(drained))
	for i, e := range drained {
		batch[i] = e
	}
	return uploader.Sample{Key: EventsKey, Value: batch}, true
}
