// Package observe turns change notifications of a store.Context into a
// stream of query results.
//
// A Subscription re-runs its query every time the context reports a change
// to the observed entity and publishes the complete result as a Snapshot.
// The store cannot tell which query a change affects, so filtering happens
// when the query is re-run.
//
// A slow consumer never blocks the context: snapshots it did not read yet
// are replaced by newer ones, so it always gets the latest result set but
// not necessarily every intermediate one.
package observe

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/sendable"
	"github.com/go-arrower/livestore/store"
)

var ErrCancelled = errors.New("subscription cancelled")

// Observer creates Subscriptions for records of type E on one context.
type Observer[E repository.Record[E]] struct {
	sctx   *store.Context
	logger alog.Logger
	entity string
}

func New[E repository.Record[E]](sctx *store.Context, logger alog.Logger) *Observer[E] {
	if logger == nil {
		logger = alog.NewNoop()
	}

	var zero E

	return &Observer[E]{
		sctx:   sctx,
		logger: logger,
		entity: zero.Entity(),
	}
}

// Subscribe starts to observe query. The first Snapshot is published right
// away, every change to the entity afterwards publishes another one.
// The Subscription ends with Cancel or once ctx is done.
func (o *Observer[E]) Subscribe(ctx context.Context, query q.Query) (*Subscription[E], error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("could not subscribe: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)

	sub := &Subscription[E]{
		observer: o,
		query:    query.Sendable(),
		mailbox:  newMailbox[Snapshot[E]](),
		changed:  make(chan struct{}, 1),
		stopped:  make(chan struct{}),
		cancel:   cancel,
	}
	sub.state.Store(int32(Created))

	remove := o.sctx.AddChangeListener(func(cs store.ChangeSet) {
		if cs.Touches(o.entity) {
			sub.notify()
		}
	})
	sub.removeListener = remove

	sub.transition(sctx, Subscribed)
	sub.notify()

	go sub.run(sctx)

	return sub, nil
}

// Subscription is a live query. It is safe to use from multiple goroutines,
// but the snapshots are meant for a single consumer.
type Subscription[E repository.Record[E]] struct {
	observer *Observer[E]
	query    sendable.Value[q.Query]
	mailbox  *mailbox[Snapshot[E]]

	changed chan struct{}
	stopped chan struct{}

	state atomic.Int32
	seq   uint64 // owned by run

	once           sync.Once
	cancel         context.CancelFunc
	removeListener func()
}

// C returns the channel the snapshots are published on.
// It is closed once the Subscription is cancelled.
func (s *Subscription[E]) C() <-chan Snapshot[E] {
	return s.mailbox.ch
}

// Next waits for the next Snapshot.
// It returns ErrCancelled if the Subscription ended.
func (s *Subscription[E]) Next(ctx context.Context) (Snapshot[E], error) {
	select {
	case snap, ok := <-s.mailbox.ch:
		if !ok {
			return Snapshot[E]{}, ErrCancelled
		}

		return snap, nil
	case <-ctx.Done():
		return Snapshot[E]{}, ctx.Err() //nolint:wrapcheck // the callers context error
	}
}

// All ranges over the snapshots until the Subscription ends or ctx is done.
func (s *Subscription[E]) All(ctx context.Context) iter.Seq[Snapshot[E]] {
	return func(yield func(Snapshot[E]) bool) {
		for {
			snap, err := s.Next(ctx)
			if err != nil {
				return
			}

			if !yield(snap) {
				return
			}
		}
	}
}

// Cancel ends the Subscription and waits until no more snapshots are
// published. It is safe to call more than once.
//
// Cancel must not be called from within a closure of the observed context.
func (s *Subscription[E]) Cancel() {
	s.stop()
	<-s.stopped
}

func (s *Subscription[E]) State() State {
	return State(s.state.Load())
}

func (s *Subscription[E]) stop() {
	s.once.Do(func() {
		s.removeListener()
		s.cancel()
	})
}

// notify is called on the context's worker, so it must not block
// and must not call Perform.
func (s *Subscription[E]) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Subscription[E]) run(ctx context.Context) {
	defer func() {
		s.stop()
		s.transition(context.WithoutCancel(ctx), Cancelled)
		s.mailbox.close()
		close(s.stopped)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.changed:
		}

		s.transition(ctx, Notified)

		records, err := s.refetch(ctx)
		if ctx.Err() != nil {
			return
		}

		s.transition(ctx, Refetched)

		if err != nil {
			s.observer.logger.LogAttrs(ctx, slog.LevelError, "could not refetch observed query",
				slog.String("entity", s.observer.entity),
				slog.String("query", s.query.Get().String()),
				alog.Error(err),
			)

			records = []E{}
		}

		s.seq++
		if !s.mailbox.put(Snapshot[E]{Seq: s.seq, Records: records, Err: err}) {
			return
		}

		s.transition(ctx, Published)
	}
}

func (s *Subscription[E]) refetch(ctx context.Context) ([]E, error) {
	var records []E

	err := s.observer.sctx.Perform(ctx, func(ctx context.Context, c *store.Context) error {
		objects, err := c.Fetch(ctx, s.observer.entity, s.query.Get())
		if err != nil {
			return err //nolint:wrapcheck // published as is
		}

		var zero E

		records = make([]E, 0, len(objects))
		for _, o := range objects {
			records = append(records, zero.FromEntity(o))
		}

		return nil
	})

	return records, err //nolint:wrapcheck // published as is
}

func (s *Subscription[E]) transition(ctx context.Context, to State) {
	s.state.Store(int32(to))

	s.observer.logger.LogAttrs(ctx, alog.LevelDebug, "subscription state changed",
		slog.String("entity", s.observer.entity),
		slog.String("state", to.String()),
	)
}
