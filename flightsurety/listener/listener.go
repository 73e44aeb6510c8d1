// Package listener consumes contract event subscriptions and hands decoded
// events to one handler per event kind.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/ledger"
)

var (
	eventsCounter   = metrics.NewRegisteredCounter("oracles/listener/events", nil)
	skippedCounter  = metrics.NewRegisteredCounter("oracles/listener/skipped", nil)
	faultsCounter   = metrics.NewRegisteredCounter("oracles/listener/faults", nil)
	activeSubsGauge = metrics.NewRegisteredGauge("oracles/listener/active", nil)
)

var (
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrAlreadyStarted   = errors.New("listener already started")
)

// Source opens a log subscription for one event kind.
type Source interface {
	Subscribe(ctx context.Context, kind contract.EventKind, start ledger.Start) (<-chan ledger.Delivery, error)
}

// Handler receives the decoded events of one kind, in delivery order.
type Handler func(ctx context.Context, ev contract.Event)

// State is the lifecycle stage of one subscription.
type State int

const (
	Unsubscribed State = iota
	Subscribing
	Active
	Error
	Closed
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Error:
		return "error"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type subscription struct {
	kind    contract.EventKind
	start   ledger.Start
	handler Handler
	state   State
}

type Listener struct {
	source  Source
	binding *contract.Binding
	log     log.Logger

	mu      sync.Mutex
	subs    map[contract.EventKind]*subscription
	order   []contract.EventKind
	started bool

	consumers sync.WaitGroup
}

func New(source Source, binding *contract.Binding, logger log.Logger) *Listener {
	return &Listener{
		source:  source,
		binding: binding,
		log:     logger.New("component", "listener"),
		subs:    make(map[contract.EventKind]*subscription),
	}
}

// Handle registers the handler for kind. Subscriptions open on Start.
func (l *Listener) Handle(kind contract.EventKind, start ledger.Start, h Handler) error {
	if !l.binding.Supports(kind) {
		return fmt.Errorf("%w: %s", contract.ErrUnknownEvent, kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return ErrAlreadyStarted
	}
	if _, ok := l.subs[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, kind)
	}
	l.subs[kind] = &subscription{kind: kind, start: start, handler: h}
	l.order = append(l.order, kind)
	return nil
}

// Start opens every registered subscription and starts one consumer per kind.
// A kind that fails to subscribe is closed and reported; the others keep
// running. Consumers stop when ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	subs := make([]*subscription, 0, len(l.order))
	for _, kind := range l.order {
		subs = append(subs, l.subs[kind])
	}
	l.mu.Unlock()

	var errs []error
	for _, s := range subs {
		l.setState(s, Subscribing)

		deliveries, err := l.source.Subscribe(ctx, s.kind, s.start)
		if err != nil {
			l.setState(s, Closed)
			l.log.Error("Failed to subscribe to events", "kind", s.kind, "err", err)
			errs = append(errs, fmt.Errorf("failed to subscribe to %s events: %w", s.kind, err))
			continue
		}

		l.setState(s, Active)
		l.log.Info("Listening for events", "kind", s.kind, "from", s.start)

		l.consumers.Add(1)
		go l.consume(ctx, s, deliveries)
	}

	return errors.Join(errs...)
}

func (l *Listener) consume(ctx context.Context, s *subscription, deliveries <-chan ledger.Delivery) {
	defer l.consumers.Done()
	defer l.setState(s, Closed)

	for {
		var (
			d  ledger.Delivery
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case d, ok = <-deliveries:
			if !ok {
				l.log.Info("Event subscription ended", "kind", s.kind)
				return
			}
		}

		if d.Err != nil {
			faultsCounter.Inc(1)
			l.setState(s, Error)
			l.log.Error("Event subscription error", "kind", s.kind, "err", d.Err)
			continue
		}
		l.setState(s, Active)

		if d.Log.Removed {
			skippedCounter.Inc(1)
			l.log.Debug("Skipping removed log", "kind", s.kind, "tx", d.Log.TxHash, "index", d.Log.Index)
			continue
		}

		ev, err := l.binding.Decode(s.kind, d.Log)
		if err != nil {
			skippedCounter.Inc(1)
			l.log.Warn("Failed to decode event", "kind", s.kind, "tx", d.Log.TxHash, "index", d.Log.Index, "err", err)
			continue
		}

		eventsCounter.Inc(1)
		s.handler(ctx, ev)
	}
}

func (l *Listener) setState(s *subscription, state State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s.state == state {
		return
	}
	switch {
	case state == Active:
		activeSubsGauge.Inc(1)
	case s.state == Active:
		activeSubsGauge.Dec(1)
	}
	s.state = state
}

// State reports the subscription state of kind.
func (l *Listener) State(kind contract.EventKind) State {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.subs[kind]
	if !ok {
		return Unsubscribed
	}
	return s.state
}

// Kinds lists the registered event kinds in registration order.
func (l *Listener) Kinds() []contract.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]contract.EventKind(nil), l.order...)
}

// Wait blocks until every consumer has stopped.
func (l *Listener) Wait() {
	l.consumers.Wait()
}
