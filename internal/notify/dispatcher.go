package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// Dispatcher delivers events in the background so a slow or failing channel
// never blocks or fails the booking that produced the event. Events that do
// not fit in the queue are dropped and logged.
type Dispatcher struct {
	next    Notifier
	queue   chan Event
	timeout time.Duration
	logger  zerolog.Logger
	metrics *metrics.SchedulingMetrics

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type DispatcherOptions struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
	Metrics   *metrics.SchedulingMetrics
}

func NewDispatcher(next Notifier, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	d := &Dispatcher{
		next:    next,
		queue:   make(chan Event, opts.QueueSize),
		timeout: opts.Timeout,
		logger:  logger,
		metrics: opts.Metrics,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Notify enqueues the event and returns immediately. It never returns an error.
func (d *Dispatcher) Notify(_ context.Context, ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn().Str("event_type", string(ev.Type)).Msg("notification dropped: dispatcher closed")
		d.metrics.ObserveNotification(string(ev.Type), "dropped")
		return nil
	}
	select {
	case d.queue <- ev:
	default:
		d.logger.Warn().Str("event_type", string(ev.Type)).Str("appointment_id", ev.AppointmentID.String()).
			Msg("notification dropped: queue full")
		d.metrics.ObserveNotification(string(ev.Type), "dropped")
	}
	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		d.deliver(ev)
	}
}

func (d *Dispatcher) deliver(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.next.Notify(ctx, ev); err != nil {
		d.logger.Error().Err(err).
			Str("event_type", string(ev.Type)).
			Str("appointment_id", ev.AppointmentID.String()).
			Msg("notification delivery failed")
		d.metrics.ObserveNotification(string(ev.Type), "failed")
		return
	}
	d.metrics.ObserveNotification(string(ev.Type), "sent")
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
