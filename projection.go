package streamstore

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Projection handles a projected event. A non-nil error leaves the event
// unacknowledged so it is delivered again.
type Projection func(RecordedEvent) error

// NewProjector constructs a Projector on top of the given store
func NewProjector(s *Store, opts ...SubOpt) *Projector {
	return &Projector{
		store:  s,
		opts:   opts,
		logger: s.logger.With(slog.String("component", "projector")),
	}
}

// Projector runs named projections, each as its own durable subscription
// over all streams. Events are acknowledged only after the projection
// handled them, so a crashed projector resumes where it durably left off.
type Projector struct {
	store       *Store
	opts        []SubOpt
	projections []namedProjection
	logger      *slog.Logger
}

type namedProjection struct {
	name string
	p    Projection
}

// Add registers a projection under a durable subscription name.
// Make sure to add all of your projections before calling Run
func (p *Projector) Add(name string, projection Projection) {
	p.projections = append(p.projections, namedProjection{name: name, p: projection})
}

// Run starts all registered projections and blocks until ctx is cancelled
// or a projection fails to subscribe
func (p *Projector) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, np := range p.projections {
		g.Go(func() error {
			consumer := &ackingConsumer{
				ready:  make(chan struct{}),
				handle: np.p,
			}

			sub, err := p.store.SubscribeDurable(
				ctx,
				AllStreams(),
				np.name,
				consumer,
				p.opts...,
			)
			if err != nil {
				return err
			}

			consumer.sub = sub
			close(consumer.ready)

			p.logger.Info("projection started", slog.String("projection", np.name))

			<-ctx.Done()

			sub.Close()

			return nil
		})
	}

	return g.Wait()
}

// ackingConsumer acknowledges every event its projection handled
// successfully. ready guards the handle assignment since delivery starts
// inside SubscribeDurable.
type ackingConsumer struct {
	ready  chan struct{}
	sub    *DurableSubscription
	handle Projection
}

func (c *ackingConsumer) HandleEvent(ctx context.Context, e RecordedEvent) error {
	<-c.ready

	if err := c.handle(e); err != nil {
		return err
	}

	return c.sub.Ack(ctx, e)
}

// FlushAfter wraps a projection so that, in addition to handling events as
// they come, the provided flush function runs every time the flush
// interval expires
func FlushAfter(p Projection, flush func() error, flushInt time.Duration) Projection {
	var err error

	work := make(chan RecordedEvent)

	go func() {
		for {
			select {
			case <-time.After(flushInt):
				err = flush()

			case w := <-work:
				err = p(w)
			}
		}
	}()

	return func(e RecordedEvent) error {
		if err != nil {
			return err
		}

		work <- e

		return nil
	}
}
