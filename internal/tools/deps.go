package tools

import (
	"time"

	"github.com/veris-memory/mcp-server/internal/backend"
	"github.com/veris-memory/mcp-server/internal/cache"
	"github.com/veris-memory/mcp-server/internal/metrics"
	"github.com/veris-memory/mcp-server/internal/obslog"
	"github.com/veris-memory/mcp-server/internal/stream"
	"github.com/veris-memory/mcp-server/internal/webhook"
)

// Config carries every tunable an executor needs, named per
// internal/config's defaults rather than read from the environment
// directly — per spec.md §1 the tool layer never talks to the outside
// world except through Deps.
type Config struct {
	UserID               string
	MaxResults           int
	DefaultRetrieveLimit int
	MaxContentBytes      int
	MaxScratchpadBytes   int
	MaxUserFactsLimit    int
	ReadOnlyGraph        bool
	GraphMaxResults      int

	CacheTTLRetrieve      time.Duration
	CacheTTLSearch        time.Duration
	CacheTTLListTypes     time.Duration
	AnalyticsCacheTTL     time.Duration
	MetricsFacadeCacheTTL time.Duration

	StreamConfig          stream.IteratorConfig
	BatchSize             int
	BatchInterWindowDelay time.Duration
	BatchItemMaxRetries   int
}

// Notifier emits a notifications/progress-shaped message; nil means no
// progress notifications are sent (e.g. when running outside a live
// transport, such as in tests).
type Notifier func(method string, params any)

// Deps are the collaborators every tool executor is built against. None
// of these depend back on the tools package, per SPEC_FULL.md's
// cyclic-reference-avoidance note.
type Deps struct {
	Backend       *backend.Client
	Cache         *cache.Cache
	Webhooks      *webhook.Registry
	Dispatcher    *webhook.Dispatcher
	Metrics       *metrics.Collector
	StreamLimiter *stream.ConcurrencyLimiter
	Config        Config
	Logger        *obslog.Logger
	Notify        Notifier
}

func (d *Deps) logger() *obslog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return obslog.Noop()
}

func (d *Deps) notify(method string, params any) {
	if d.Notify != nil {
		d.Notify(method, params)
	}
}

// emit pushes an event through the dispatcher, tolerating a nil
// dispatcher (e.g. webhook fan-out disabled).
func (d *Deps) emit(e webhook.Event) {
	if d.Dispatcher != nil {
		d.Dispatcher.Emit(e)
	}
}

// timeOperation wraps StartOperation/CompleteOperation around fn,
// tolerating a nil collector.
func (d *Deps) timeOperation(opID, metricName string, fn func() (success bool, errType string)) {
	if d.Metrics != nil {
		d.Metrics.StartOperation(opID)
	}
	success, errType := fn()
	if d.Metrics != nil {
		d.Metrics.CompleteOperation(opID, metricName, success, errType)
	}
}
