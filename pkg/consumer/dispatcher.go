package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/objectives/pkg/policystate"
	"mercator-hq/objectives/pkg/telemetry/tracing"
)

const tracerName = "mercator-hq/objectives/pkg/consumer"

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// Handler reduces one event. *policystate.Reducer satisfies it.
type Handler interface {
	Reduce(ctx context.Context, event *policystate.RewardAssignedEvent) (*policystate.Output, error)
}

// Result is the outcome of dispatching one event.
type Result struct {
	Event     *policystate.RewardAssignedEvent
	Output    *policystate.Output
	Err       error
	Attempts  int
	Partition int
	Duration  time.Duration
}

// Observer receives dispatch telemetry. A nil Observer is allowed.
type Observer interface {
	// ObserveResult is called once per dispatched event.
	ObserveResult(res Result)

	// ObserveRetry is called before each retry of a failed reduction.
	ObserveRetry(partition int)

	// ObserveQueueDepth reports a partition's backlog after a submit.
	ObserveQueueDepth(partition, depth int)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// Partitions is the number of workers. Events for the same policy
	// always land on the same partition.
	// Default: 4
	Partitions int

	// BufferSize is the per-partition queue length. Submit blocks when the
	// partition's queue is full.
	// Default: 64
	BufferSize int

	// MaxAttempts bounds how many times an event is reduced before it is
	// reported as failed.
	// Default: 5
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Default: 100 milliseconds
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	// Default: 5 seconds
	MaxBackoff time.Duration

	Logger   *slog.Logger
	Observer Observer

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider

	// OnResult is called from the partition worker after each event.
	// It must not block for long.
	OnResult func(Result)
}

func (c *DispatcherConfig) applyDefaults() {
	if c.Partitions <= 0 {
		c.Partitions = 4
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
}

// Dispatcher fans reward events out to partition workers. Events for one
// (policy type, policy ID) are reduced one at a time in submission order;
// different policies are reduced in parallel.
//
// Failed reductions are retried with exponential backoff, which emulates
// transport redelivery: the reducer never marks a failed event processed,
// so a retry starts from scratch. Invalid events are not retried.
type Dispatcher struct {
	handler Handler
	config  DispatcherConfig
	logger  *slog.Logger
	tracer  trace.Tracer

	queues []chan *policystate.RewardAssignedEvent
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewDispatcher creates a dispatcher. Call Start before Submit.
func NewDispatcher(handler Handler, cfg DispatcherConfig) *Dispatcher {
	cfg.applyDefaults()
	queues := make([]chan *policystate.RewardAssignedEvent, cfg.Partitions)
	for i := range queues {
		queues[i] = make(chan *policystate.RewardAssignedEvent, cfg.BufferSize)
	}
	return &Dispatcher{
		handler: handler,
		config:  cfg,
		logger:  cfg.Logger.With("component", "consumer.dispatcher"),
		tracer:  cfg.TracerProvider.Tracer(tracerName),
		queues:  queues,
	}
}

// Start launches the partition workers. Workers keep draining their queues
// after ctx is cancelled, but retries stop and queued events fail fast.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	for i, q := range d.queues {
		d.wg.Add(1)
		go d.work(ctx, i, q)
	}
	d.logger.Info("dispatcher started",
		"partitions", d.config.Partitions,
		"buffer_size", d.config.BufferSize,
		"max_attempts", d.config.MaxAttempts,
	)
}

// Partition returns the partition index an event is routed to.
func (d *Dispatcher) Partition(event *policystate.RewardAssignedEvent) int {
	return PartitionFor(event.PolicyType, event.PolicyID, len(d.queues))
}

// PartitionFor hashes a policy key onto one of n partitions.
func PartitionFor(policyType policystate.PolicyType, policyID string, n int) int {
	if n <= 1 {
		return 0
	}
	h := xxhash.New()
	_, _ = h.WriteString(string(policyType))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(policyID)
	return int(h.Sum64() % uint64(n))
}

// Submit queues an event on its partition. It blocks while the partition's
// queue is full and returns ctx.Err() if ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, event *policystate.RewardAssignedEvent) error {
	if err := policystate.ValidateEvent(event); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	p := d.Partition(event)
	select {
	case d.queues[p] <- event:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d.config.Observer != nil {
		d.config.Observer.ObserveQueueDepth(p, len(d.queues[p]))
	}
	return nil
}

// Close stops accepting events and waits for queued events to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	started := d.started
	d.mu.Unlock()

	if started {
		d.wg.Wait()
	}
	d.logger.Info("dispatcher closed")
}

func (d *Dispatcher) work(ctx context.Context, partition int, queue <-chan *policystate.RewardAssignedEvent) {
	defer d.wg.Done()
	for event := range queue {
		res := d.dispatch(ctx, partition, event)
		if d.config.Observer != nil {
			d.config.Observer.ObserveResult(res)
		}
		if d.config.OnResult != nil {
			d.config.OnResult(res)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, partition int, event *policystate.RewardAssignedEvent) Result {
	ctx, span := d.tracer.Start(ctx, "consumer.Dispatch",
		trace.WithAttributes(tracing.PolicyAttributes(event.PolicyID, string(event.PolicyType), event.EventID)...),
		trace.WithAttributes(tracing.AttrPartition.Int(partition)))
	defer span.End()

	start := time.Now()
	res := Result{Event: event, Partition: partition}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.config.InitialBackoff
	b.MaxInterval = d.config.MaxBackoff

	out, err := backoff.Retry(ctx, func() (*policystate.Output, error) {
		if res.Attempts > 0 && d.config.Observer != nil {
			d.config.Observer.ObserveRetry(partition)
		}
		res.Attempts++

		out, err := d.handler.Reduce(ctx, event)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, policystate.ErrInvalidEvent) {
			return nil, backoff.Permanent(err)
		}
		d.logger.WarnContext(ctx, "reduction failed",
			"event_id", event.EventID,
			"policy_id", event.PolicyID,
			"partition", partition,
			"attempt", res.Attempts,
			"error", err,
		)
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(d.config.MaxAttempts)))

	res.Output = out
	res.Err = err
	res.Duration = time.Since(start)
	span.SetAttributes(tracing.AttrAttempts.Int(res.Attempts))
	if err != nil {
		tracing.SetError(span, err)
		d.logger.ErrorContext(ctx, "event dropped after retries",
			"event_id", event.EventID,
			"policy_id", event.PolicyID,
			"attempts", res.Attempts,
			"error", err,
		)
	}
	return res
}
