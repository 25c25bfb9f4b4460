// Package metrics implements the bounded, per-series metrics collector
// of spec.md §4.H: fixed-capacity ring buffers per series, periodic
// windowed aggregation with linear-interpolated percentiles, and
// retention-based eviction via ticker-driven background tasks with
// error backoff.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veris-memory/mcp-server/internal/obslog"
)

// backgroundPanicBackoff is the "short delay" spec.md §7 requires before a
// panicked background task resumes on its next tick.
const backgroundPanicBackoff = time.Second

// Type is the shape a metric series is aggregated with.
type Type string

const (
	TypeCounter   Type = "counter"
	TypeGauge     Type = "gauge"
	TypeHistogram Type = "histogram"
	TypeTimer     Type = "timer"
)

// Point is one recorded sample.
type Point struct {
	Value     float64
	Timestamp time.Time
}

// SeriesKey returns the canonical series key: name + sorted label pairs.
func SeriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

type series struct {
	name   string
	typ    Type
	labels map[string]string
	points []Point // ring buffer, oldest at index `start`
	start  int
	count  int
	cap    int
}

func newSeries(name string, typ Type, labels map[string]string, capacity int) *series {
	return &series{
		name:   name,
		typ:    typ,
		labels: labels,
		points: make([]Point, capacity),
		cap:    capacity,
	}
}

// append adds a point in O(1), overwriting the oldest point once full.
func (s *series) append(p Point) {
	idx := (s.start + s.count) % s.cap
	s.points[idx] = p
	if s.count < s.cap {
		s.count++
	} else {
		s.start = (s.start + 1) % s.cap
	}
}

// snapshot returns a copy of all currently-held points, oldest first.
func (s *series) snapshot() []Point {
	out := make([]Point, s.count)
	for i := 0; i < s.count; i++ {
		out[i] = s.points[(s.start+i)%s.cap]
	}
	return out
}

// dropBefore removes points with Timestamp < cutoff, compacting the ring
// in place. Returns the number of points dropped.
func (s *series) dropBefore(cutoff time.Time) int {
	kept := s.snapshot()
	dropped := 0
	out := kept[:0]
	for _, p := range kept {
		if p.Timestamp.Before(cutoff) {
			dropped++
			continue
		}
		out = append(out, p)
	}
	s.start = 0
	s.count = len(out)
	for i, p := range out {
		s.points[i] = p
	}
	return dropped
}

// Config controls collector behavior; see internal/config defaults.
type Config struct {
	MaxPointsPerSeries int
	AggregationPeriod  time.Duration
	Retention          time.Duration
	AggErrorBackoff    time.Duration
	CleanupErrorBackoff time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxPointsPerSeries:  10000,
		AggregationPeriod:   60 * time.Second,
		Retention:           time.Hour,
		AggErrorBackoff:     5 * time.Second,
		CleanupErrorBackoff: 60 * time.Second,
	}
}

// Collector is the process-wide metrics store.
type Collector struct {
	mu     sync.RWMutex
	cfg    Config
	series map[string]*series

	overflowCounts map[string]int64 // observable counter per series for cap-hit drops

	opsMu   sync.Mutex
	pending map[string]pendingOp
}

type pendingOp struct {
	name  string
	start time.Time
}

func NewCollector(cfg Config) *Collector {
	return &Collector{
		cfg:            cfg,
		series:         make(map[string]*series),
		overflowCounts: make(map[string]int64),
		pending:        make(map[string]pendingOp),
	}
}

// Record appends one point to the named series, creating it if absent.
func (c *Collector) Record(name string, value float64, typ Type, labels map[string]string) {
	key := SeriesKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[key]
	if !ok {
		s = newSeries(name, typ, labels, c.cfg.MaxPointsPerSeries)
		c.series[key] = s
	}
	if s.count == s.cap {
		c.overflowCounts[key]++
	}
	s.append(Point{Value: value, Timestamp: time.Now()})
}

// OverflowCount returns how many points were dropped for a series
// because its ring buffer was already at capacity (spec.md §8 invariant
// 8's "must be observable" clause).
func (c *Collector) OverflowCount(name string, labels map[string]string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.overflowCounts[SeriesKey(name, labels)]
}

// SeriesNames returns every currently tracked series key, for
// diagnostics and the Prometheus facade.
func (c *Collector) SeriesNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.series))
	for k := range c.series {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// StartOperation records the start time of a timed operation under the
// caller-supplied id; it does not allocate the id itself. The paired
// CompleteOperation records duration_ms and a success/error_type label
// set, matching spec.md §4.H's start/complete timer helpers.
func (c *Collector) StartOperation(id string) {
	c.opsMu.Lock()
	defer c.opsMu.Unlock()
	c.pending[id] = pendingOp{start: time.Now()}
}

// CompleteOperation records the duration since StartOperation(id) as a
// timer metric named metricName, tagged with success/error_type.
func (c *Collector) CompleteOperation(id, metricName string, success bool, errorType string) {
	c.opsMu.Lock()
	op, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.opsMu.Unlock()
	if !ok {
		return
	}

	durationMs := float64(time.Since(op.start).Milliseconds())
	labels := map[string]string{"success": boolLabel(success)}
	if errorType != "" {
		labels["error_type"] = errorType
	}
	c.Record(metricName, durationMs, TypeTimer, labels)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Aggregator runs the periodic aggregation and retention-cleanup tasks.
type Aggregator struct {
	collector *Collector
	onWindow  func([]Aggregated)
	logger    *obslog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewAggregator builds an Aggregator; onWindow (optional) is invoked with
// each aggregation pass's results, e.g. to log or expose them.
func NewAggregator(c *Collector, onWindow func([]Aggregated)) *Aggregator {
	return &Aggregator{collector: c, onWindow: onWindow, stopCh: make(chan struct{}), logger: obslog.Noop()}
}

// WithLogger attaches logger for panic/error reporting from the
// background aggregation and cleanup goroutines; returns a for chaining.
func (a *Aggregator) WithLogger(logger *obslog.Logger) *Aggregator {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Start launches the aggregation and cleanup goroutines. Both are
// cancellation-safe and, on error, back off rather than crash, per
// spec.md §4.H.
func (a *Aggregator) Start(ctx context.Context) {
	a.wg.Add(2)
	go a.runAggregation(ctx)
	go a.runCleanup(ctx)
}

func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

func (a *Aggregator) runAggregation(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.collector.cfg.AggregationPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.runAggregationTick()
		}
	}
}

// runAggregationTick isolates one aggregation pass's panic so the
// background goroutine survives it, per spec.md §7: the task is logged
// and continues after a short delay rather than taking the server down.
func (a *Aggregator) runAggregationTick() {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("metrics aggregation panicked", "panic", fmt.Sprintf("%v", r))
			time.Sleep(backgroundPanicBackoff)
		}
	}()
	results := a.collector.Aggregate(time.Now(), a.collector.cfg.AggregationPeriod)
	if a.onWindow != nil {
		a.onWindow(results)
	}
}

func (a *Aggregator) runCleanup(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.collector.cfg.Retention)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.runCleanupTick()
		}
	}
}

func (a *Aggregator) runCleanupTick() {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("metrics cleanup panicked", "panic", fmt.Sprintf("%v", r))
			time.Sleep(backgroundPanicBackoff)
		}
	}()
	a.collector.evictOlderThan(time.Now().Add(-a.collector.cfg.Retention))
}

func (c *Collector) evictOlderThan(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.series {
		s.dropBefore(cutoff)
	}
}
