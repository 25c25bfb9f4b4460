package webhook

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veris-memory/mcp-server/internal/obslog"
	"github.com/veris-memory/mcp-server/internal/stream"
)

// DefaultHistorySize bounds the rolling delivery-result history.
const DefaultHistorySize = 10000

// DefaultMaxConcurrentDeliveries bounds in-flight HTTP deliveries.
const DefaultMaxConcurrentDeliveries = 100

// backgroundPanicBackoff is the "short delay" spec.md §7 requires before
// the dispatcher's drain loop resumes after a panicked iteration.
const backgroundPanicBackoff = time.Second

// Dispatcher drains the event queue with a single background worker,
// fanning each event out to every matching active subscription with
// bounded concurrency.
type Dispatcher struct {
	registry *Registry
	queue    *Queue
	limiter  *stream.ConcurrencyLimiter
	client   *http.Client
	cfg      DeliveryConfig
	logger   *obslog.Logger

	historyMu   sync.Mutex
	history     []DeliveryResult
	historySize int

	delivered atomic.Int64
	failed    atomic.Int64

	wg     sync.WaitGroup
	doneCh chan struct{}
}

func NewDispatcher(registry *Registry, queue *Queue, maxConcurrent, historySize int, cfg DeliveryConfig, logger *obslog.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentDeliveries
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if logger == nil {
		logger = obslog.Noop()
	}
	return &Dispatcher{
		registry: registry, queue: queue,
		limiter: stream.NewConcurrencyLimiter(maxConcurrent),
		client:  &http.Client{Timeout: cfg.Timeout + 5*time.Second},
		cfg:     cfg, logger: logger, historySize: historySize,
		doneCh: make(chan struct{}),
	}
}

// Start launches the single draining worker; it runs until ctx is
// cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.doneCh:
			return
		default:
		}

		event, ok := d.queue.Dequeue()
		if !ok {
			return
		}
		if !d.dispatchOne(ctx, event) {
			return
		}
	}
}

// dispatchOne fans event out to every matching subscription, isolating a
// panic anywhere in that fan-out so the drain loop survives it per
// spec.md §7: logged, then the loop continues after a short delay. The
// bool return only ever signals "keep draining"; it is always true,
// including after a recovered panic, where draining resumes once the
// backoff has elapsed.
func (d *Dispatcher) dispatchOne(ctx context.Context, event Event) (keepGoing bool) {
	keepGoing = true
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("webhook dispatch panicked", "panic", fmt.Sprintf("%v", r))
			time.Sleep(backgroundPanicBackoff)
		}
	}()

	targets := d.registry.MatchingActive(event.EventType)
	if len(targets) == 0 {
		return true
	}

	var wg sync.WaitGroup
	for _, sub := range targets {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.limiter.Acquire(ctx); err != nil {
				return
			}
			defer d.limiter.Release()
			d.deliverOne(ctx, sub, event)
		}()
	}
	wg.Wait()
	return true
}

func (d *Dispatcher) deliverOne(ctx context.Context, sub *Subscription, event Event) {
	result := Deliver(ctx, d.client, sub, event, d.cfg)

	success := result.FinalStatus == StatusSuccess
	d.registry.recordDelivery(sub.ID, success, result.CompletedAt)
	if success {
		d.delivered.Add(1)
	} else {
		d.failed.Add(1)
	}

	d.historyMu.Lock()
	d.history = append(d.history, result)
	if len(d.history) > d.historySize {
		d.history = d.history[len(d.history)-d.historySize:]
	}
	d.historyMu.Unlock()

	if !success {
		d.logger.Warn("webhook delivery did not succeed", "webhook_id", sub.ID, "event_id", event.EventID, "final_status", string(result.FinalStatus))
	}
}

// Stop cancels the draining loop and waits for in-flight deliveries
// spawned by the current iteration to finish.
func (d *Dispatcher) Stop() {
	close(d.doneCh)
	d.queue.Close()
	d.wg.Wait()
}

// Stats exposes dispatcher-level counters for the metrics/health tools.
type Stats struct {
	EventsDelivered int64
	EventsFailed    int64
	QueueStats      QueueStats
}

func (d *Dispatcher) Stats() Stats {
	return Stats{EventsDelivered: d.delivered.Load(), EventsFailed: d.failed.Load(), QueueStats: d.queue.Stats()}
}

// History returns a snapshot of the rolling delivery-result history.
func (d *Dispatcher) History(limit int) []DeliveryResult {
	d.historyMu.Lock()
	defer d.historyMu.Unlock()
	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}
	out := make([]DeliveryResult, limit)
	copy(out, d.history[len(d.history)-limit:])
	return out
}

// Emit puts an event on the queue; it never blocks the caller (the
// queue drops on overflow, counted via QueueStats.Dropped).
func (d *Dispatcher) Emit(e Event) bool {
	return d.queue.Enqueue(e)
}
