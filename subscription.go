package streamstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SubscriptionState describes where a durable subscription is in its
// lifecycle.
type SubscriptionState int32

const (
	// StateInitializing is the state before the first delivery attempt
	StateInitializing SubscriptionState = iota

	// StateCatchingUp means persisted history is being replayed
	StateCatchingUp

	// StateLive means newly appended events are forwarded as they arrive
	StateLive

	// StateUnsubscribed is the terminal state after Close
	StateUnsubscribed

	// StateError is the terminal state after an unrecoverable fault
	StateError
)

func (s SubscriptionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateCatchingUp:
		return "catching-up"
	case StateLive:
		return "live"
	case StateUnsubscribed:
		return "unsubscribed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Subscription represents an ephemeral live-only subscription. Events
// appended after subscribe time stream over EventData; Err produces the
// terminal error (ErrSubscriptionClosedByClient after Close).
type Subscription struct {
	Err       chan error
	EventData chan RecordedEvent

	close     chan struct{}
	closeOnce sync.Once
}

// Close cancels the subscription. Idempotent. An in-flight delivery may
// still arrive on EventData after Close returns.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.close)
	})
}

// Subscribe creates an anonymous, process-lifetime subscription delivering
// events appended to the target from now on. No cursor is persisted; a
// restarted process starts from the then-current tail again.
func (s *Store) Subscribe(ctx context.Context, target Target) (*Subscription, error) {
	feed, err := s.log.SubscribeLive(ctx, target)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		Err:       make(chan error, 1),
		EventData: make(chan RecordedEvent, 64),
		close:     make(chan struct{}),
	}

	go func() {
		defer feed.Cancel()

		for {
			select {
			case <-sub.close:
				sub.Err <- ErrSubscriptionClosedByClient

				return
			case <-ctx.Done():
				sub.Err <- ctx.Err()

				return
			case rec, ok := <-feed.Recs():
				if !ok {
					sub.Err <- feed.Err()

					return
				}

				evt, err := decodeRecord(rec)
				if err != nil {
					sub.Err <- err

					return
				}

				select {
				case sub.EventData <- evt:
				case <-sub.close:
					sub.Err <- ErrSubscriptionClosedByClient

					return
				case <-ctx.Done():
					sub.Err <- ctx.Err()

					return
				}
			}
		}
	}()

	return sub, nil
}

// EventConsumer handles events delivered by a durable subscription.
// Handling an event does not acknowledge it; call Ack on the handle once
// the event has been durably processed.
type EventConsumer interface {
	HandleEvent(ctx context.Context, e RecordedEvent) error
}

// EventConsumerFunc adapts a function to the EventConsumer interface
type EventConsumerFunc func(ctx context.Context, e RecordedEvent) error

// HandleEvent calls f
func (f EventConsumerFunc) HandleEvent(ctx context.Context, e RecordedEvent) error {
	return f(ctx, e)
}

// SubConfig (configure using SubOpt)
type SubConfig struct {
	startFrom    StartFrom
	batchSize    int
	maxRetries   int
	retryBackoff time.Duration
	onDrop       func(error)
}

// SubOpt represents a durable subscription option
type SubOpt func(SubConfig) SubConfig

// WithStartFrom sets where delivery begins when the subscription has no
// acknowledged position yet (default Origin)
func WithStartFrom(sf StartFrom) SubOpt {
	return func(cfg SubConfig) SubConfig {
		cfg.startFrom = sf

		return cfg
	}
}

// WithSubBatchSize sets the page size used while catching up
func WithSubBatchSize(n int) SubOpt {
	return func(cfg SubConfig) SubConfig {
		cfg.batchSize = n

		return cfg
	}
}

// WithRetry sets the reconnect budget applied after transport faults
// before the subscription is dropped
func WithRetry(maxRetries int, backoff time.Duration) SubOpt {
	return func(cfg SubConfig) SubConfig {
		cfg.maxRetries = maxRetries
		cfg.retryBackoff = backoff

		return cfg
	}
}

// WithDropHandler registers a callback invoked with the terminal reason
// when the subscription transitions to StateError
func WithDropHandler(f func(error)) SubOpt {
	return func(cfg SubConfig) SubConfig {
		cfg.onDrop = f

		return cfg
	}
}

// DurableSubscription is a named, resumable cursor over a target. Delivery
// is at-least-once: events not acknowledged before a restart are delivered
// again.
type DurableSubscription struct {
	name     string
	target   Target
	store    *Store
	consumer EventConsumer
	cfg      SubConfig
	logger   *slog.Logger

	state   atomic.Int32
	acked   atomic.Uint64
	release func()

	close     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// SubscribeDurable creates (or resumes) a durable subscription identified
// by name and starts delivering to consumer in the background.
//
// Delivery first catches up on persisted history after the last
// acknowledged position (or the configured StartFrom when the name is new)
// in strict position order, then switches to live forwarding. No event is
// skipped or delivered out of order across the catch-up/live boundary.
//
// At most one active consumer may hold a subscription name;
// ErrSubscriptionNameInUse is returned otherwise.
func (s *Store) SubscribeDurable(
	ctx context.Context,
	target Target,
	name string,
	consumer EventConsumer,
	opts ...SubOpt) (*DurableSubscription, error) {

	if name == "" {
		return nil, fmt.Errorf("subscription name must be provided")
	}

	if consumer == nil {
		return nil, fmt.Errorf("consumer must be provided")
	}

	cfg := SubConfig{
		startFrom:    Origin(),
		batchSize:    100,
		maxRetries:   5,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		cfg = opt(cfg)
	}

	if cfg.batchSize < 1 {
		return nil, fmt.Errorf("batch size should be at least 1")
	}

	release, err := s.log.ClaimSubscription(ctx, name)
	if err != nil {
		return nil, err
	}

	pos, ok, err := s.log.LoadCursor(ctx, name)
	if err != nil {
		release()

		return nil, err
	}

	if !ok {
		switch {
		case cfg.startFrom.isOrigin():
			pos = 0
		case cfg.startFrom.isCurrent():
			tail, err := s.log.Tail(ctx, target)
			if err != nil {
				release()

				return nil, err
			}

			pos = tail
		default:
			pos, _ = cfg.startFrom.position()
		}
	}

	sub := &DurableSubscription{
		name:     name,
		target:   target,
		store:    s,
		consumer: consumer,
		cfg:      cfg,
		release:  release,
		close:    make(chan struct{}),
		done:     make(chan struct{}),
		logger: s.logger.With(
			slog.String("subscription", name),
			slog.String("target", target.String()),
		),
	}

	sub.acked.Store(pos)
	sub.state.Store(int32(StateInitializing))

	go sub.run(ctx)

	return sub, nil
}

// State returns the subscription's current lifecycle state.
func (d *DurableSubscription) State() SubscriptionState {
	return SubscriptionState(d.state.Load())
}

// Name returns the durable subscription name.
func (d *DurableSubscription) Name() string { return d.name }

// Ack advances the durable cursor past the given event. It is the
// consumer's explicit signal that the event has been durably processed;
// the subscription never acknowledges on its own. Duplicate and stale acks
// are no-ops.
func (d *DurableSubscription) Ack(ctx context.Context, e RecordedEvent) error {
	for {
		cur := d.acked.Load()
		if e.Position <= cur {
			return nil
		}

		if d.acked.CompareAndSwap(cur, e.Position) {
			break
		}
	}

	return d.store.log.SaveCursor(ctx, d.name, e.Position)
}

// Close unsubscribes, stops delivery and releases the name claim.
// Idempotent. A delivery already dispatched to the consumer may complete
// after Close returns.
func (d *DurableSubscription) Close() {
	d.closeOnce.Do(func() {
		close(d.close)
	})

	<-d.done
}

func (d *DurableSubscription) run(ctx context.Context) {
	defer close(d.done)
	defer d.release()

	retries := 0

	for {
		err := d.deliver(ctx)
		if err == nil || d.closed(ctx) {
			if d.State() != StateError {
				d.state.Store(int32(StateUnsubscribed))
			}

			return
		}

		if errors.Is(err, ErrMalformedRecord) {
			// Decode faults are not transient; reconnecting would replay
			// the same record forever.
			d.fail(err)

			return
		}

		retries++
		if retries > d.cfg.maxRetries {
			d.fail(err)

			return
		}

		d.logger.Warn("subscription interrupted, resuming from last ack",
			slog.Any("error", err),
			slog.Int("attempt", retries),
			slog.Uint64("position", d.acked.Load()),
		)

		select {
		case <-time.After(d.cfg.retryBackoff):
		case <-d.close:
		case <-ctx.Done():
		}
	}
}

func (d *DurableSubscription) fail(err error) {
	d.state.Store(int32(StateError))

	err = fmt.Errorf("%w: %w", ErrSubscriptionDropped, err)

	d.logger.Error("subscription dropped", slog.Any("error", err))

	if d.cfg.onDrop != nil {
		d.cfg.onDrop(err)
	}
}

func (d *DurableSubscription) closed(ctx context.Context) bool {
	select {
	case <-d.close:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// deliver performs one delivery attempt: catch up on history after the
// last acknowledged position, then forward live events. Returns nil on
// clean shutdown, otherwise the transport error that interrupted it.
func (d *DurableSubscription) deliver(ctx context.Context) error {
	d.state.Store(int32(StateCatchingUp))

	// Resume strictly after the last acknowledged position; anything past
	// it that was delivered but not acked before the previous attempt died
	// is delivered again.
	watermark := d.acked.Load()

	tail, err := d.store.log.Tail(ctx, d.target)
	if err != nil {
		return err
	}

	watermark, err = d.replay(ctx, watermark)
	if err != nil || d.closed(ctx) {
		return err
	}

	// The live feed only covers appends from this point on, so one more
	// replay pass closes the gap between the last page and the feed
	// attach. The watermark keeps the overlap exactly-once.
	feed, err := d.store.log.SubscribeLive(ctx, d.target)
	if err != nil {
		return err
	}

	defer feed.Cancel()

	watermark, err = d.replay(ctx, watermark)
	if err != nil || d.closed(ctx) {
		return err
	}

	d.state.Store(int32(StateLive))

	d.logger.Debug("subscription live", slog.Uint64("position", watermark))

	for {
		select {
		case <-d.close:
			return nil
		case <-ctx.Done():
			return nil
		case rec, ok := <-feed.Recs():
			if !ok {
				return fmt.Errorf("live feed closed: %v", feed.Err())
			}

			if rec.Position <= watermark {
				break
			}

			if err := d.dispatch(ctx, rec, true); err != nil {
				return err
			}

			watermark = rec.Position

			if tail > watermark {
				d.store.metrics.SubscriptionLag(d.name, tail-watermark)
			} else {
				tail = watermark
				d.store.metrics.SubscriptionLag(d.name, 0)
			}
		}
	}
}

// replay pages through persisted records after pos and dispatches them in
// position order. Returns the new watermark.
func (d *DurableSubscription) replay(ctx context.Context, pos uint64) (uint64, error) {
	for {
		if d.closed(ctx) {
			return pos, nil
		}

		recs, err := d.store.log.ReadFrom(ctx, d.target, pos, d.cfg.batchSize)
		if err != nil {
			return pos, err
		}

		if len(recs) == 0 {
			return pos, nil
		}

		for _, rec := range recs {
			if d.closed(ctx) {
				return pos, nil
			}

			if rec.Position <= pos {
				continue
			}

			if err := d.dispatch(ctx, rec, false); err != nil {
				return pos, err
			}

			pos = rec.Position
		}
	}
}

func (d *DurableSubscription) dispatch(ctx context.Context, rec Record, live bool) error {
	evt, err := decodeRecord(rec)
	if err != nil {
		return err
	}

	// Consumer failures are the consumer's concern: the event stays
	// unacked and will come around again on the next start.
	if err := d.consumer.HandleEvent(ctx, evt); err != nil {
		d.logger.Error("consumer failed to handle event",
			slog.Any("error", err),
			slog.String("event_id", evt.ID),
			slog.Uint64("position", evt.Position),
		)
	}

	d.store.metrics.EventDelivered(d.name, live)

	return nil
}
