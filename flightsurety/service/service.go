// Package service assembles the oracle server: it registers the oracle
// identities, then listens for contract events and answers oracle requests.
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/dispatcher"
	"github.com/flightsurety/oracle-server/flightsurety/ledger"
	"github.com/flightsurety/oracle-server/flightsurety/listener"
	"github.com/flightsurety/oracle-server/flightsurety/pool"
	"github.com/flightsurety/oracle-server/flightsurety/registrar"
)

// Ledger is everything the service needs from the node.
type Ledger interface {
	registrar.Ledger
	dispatcher.Submitter
	listener.Source
	Accounts(ctx context.Context) ([]common.Address, error)
}

// Journal records observed events.
type Journal interface {
	Record(ctx context.Context, ev contract.Event) (bool, error)
}

// Trigger selects which event makes the oracles answer.
type Trigger string

const (
	// TriggerRequest answers every OracleRequest with a status from the
	// configured source.
	TriggerRequest Trigger = "request"
	// TriggerResponse only tracks OracleRequest indexes and re-submits every
	// SubmitOracleResponse from all matching oracles.
	TriggerResponse Trigger = "response"
)

func ParseTrigger(s string) (Trigger, error) {
	switch t := Trigger(strings.ToLower(s)); t {
	case TriggerRequest, TriggerResponse:
		return t, nil
	case "":
		return TriggerRequest, nil
	}
	return "", fmt.Errorf("unknown trigger %q", s)
}

type Options struct {
	// Offset and Count select the node accounts used as oracles.
	Offset int
	Count  int
	Commit registrar.CommitPolicy

	Trigger Trigger
	Status  dispatcher.StatusSource

	// History is where informational subscriptions start.
	History ledger.Start

	// Journal may be nil.
	Journal Journal
}

type Service struct {
	ledger     Ledger
	binding    *contract.Binding
	opts       Options
	log        log.Logger
	pool       *pool.Pool
	registrar  *registrar.Registrar
	dispatcher *dispatcher.Dispatcher
	listener   *listener.Listener
}

func New(l Ledger, binding *contract.Binding, opts Options, logger log.Logger) *Service {
	if opts.Trigger == "" {
		opts.Trigger = TriggerRequest
	}
	if opts.Status == nil {
		opts.Status = dispatcher.RandomStatus{}
	}

	p := pool.New()
	return &Service{
		ledger:     l,
		binding:    binding,
		opts:       opts,
		log:        logger,
		pool:       p,
		registrar:  registrar.New(l, p, opts.Commit, logger),
		dispatcher: dispatcher.New(l, p, logger),
		listener:   listener.New(l, binding, logger),
	}
}

func (s *Service) Pool() *pool.Pool {
	return s.pool
}

func (s *Service) Registrar() *registrar.Registrar {
	return s.registrar
}

// LastObservedIndex returns the index of the most recent oracle request.
func (s *Service) LastObservedIndex() (uint8, bool) {
	return s.dispatcher.LastObservedIndex()
}

// State reports the subscription state of kind.
func (s *Service) State(kind contract.EventKind) listener.State {
	return s.listener.State(kind)
}

// Register registers the configured node accounts as oracles.
func (s *Service) Register(ctx context.Context) ([]common.Address, error) {
	accounts, err := s.ledger.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	selected, err := registrar.SelectAccounts(accounts, s.opts.Offset, s.opts.Count)
	if err != nil {
		return nil, err
	}

	err = s.registrar.RegisterAll(ctx, selected)
	if err != nil {
		return selected, err
	}

	s.log.Info("Oracles registered", "count", s.pool.Len())
	return selected, nil
}

// Listen subscribes to the contract events and starts answering requests.
// Kinds that fail to subscribe are reported in the returned error; the others
// keep running until ctx is cancelled.
func (s *Service) Listen(ctx context.Context) error {
	var err error
	switch s.opts.Trigger {
	case TriggerRequest:
		err = s.listenForRequests()
	case TriggerResponse:
		err = s.listenForResponses()
	default:
		err = fmt.Errorf("unknown trigger %q", s.opts.Trigger)
	}
	if err != nil {
		return err
	}

	for _, kind := range append([]contract.EventKind{contract.KindOracleReport}, contract.LifecycleKinds...) {
		if !s.binding.Supports(kind) {
			s.log.Warn("Contract does not declare event, not listening", "kind", kind)
			continue
		}
		err = s.listener.Handle(kind, s.opts.History, s.informational)
		if err != nil {
			return err
		}
	}

	return s.listener.Start(ctx)
}

func (s *Service) listenForRequests() error {
	err := s.listener.Handle(contract.KindOracleRequest, ledger.StartLatest, func(ctx context.Context, ev contract.Event) {
		s.record(ctx, ev)
		req := ev.(*contract.OracleRequest)
		status := s.opts.Status.StatusCode(req)
		s.log.Info("Oracle request", "index", req.Index, "airline", req.Airline, "flight", req.Flight,
			"timestamp", req.Timestamp, "status", contract.StatusName(status))
		s.dispatcher.Dispatch(ctx, dispatcher.FromOracleRequest(req, status))
	})
	if err != nil {
		return err
	}
	return s.listener.Handle(contract.KindSubmitOracleResponse, ledger.StartLatest, s.informational)
}

func (s *Service) listenForResponses() error {
	err := s.listener.Handle(contract.KindOracleRequest, ledger.StartGenesis, func(ctx context.Context, ev contract.Event) {
		s.record(ctx, ev)
		req := ev.(*contract.OracleRequest)
		s.log.Info("Oracle request", "index", req.Index, "airline", req.Airline, "flight", req.Flight, "timestamp", req.Timestamp)
		s.dispatcher.Observe(req.Index)
	})
	if err != nil {
		return err
	}
	return s.listener.Handle(contract.KindSubmitOracleResponse, ledger.StartLatest, func(ctx context.Context, ev contract.Event) {
		s.record(ctx, ev)
		resp := ev.(*contract.SubmitOracleResponse)
		s.log.Info("Oracle response", "indexes", pool.FormatIndexes(resp.Indexes[:]), "flight", resp.Flight,
			"status", contract.StatusName(resp.StatusCode))
		s.dispatcher.Submit(ctx, dispatcher.FromOracleResponse(resp))
	})
}

func (s *Service) informational(ctx context.Context, ev contract.Event) {
	s.record(ctx, ev)
	l := ev.Log()
	s.log.Info("Contract event", "kind", ev.Kind(), "block", l.BlockNumber, "tx", l.TxHash, "fields", ev.Fields())
}

func (s *Service) record(ctx context.Context, ev contract.Event) {
	if s.opts.Journal == nil {
		return
	}
	if _, err := s.opts.Journal.Record(ctx, ev); err != nil {
		s.log.Warn("Failed to journal event", "kind", ev.Kind(), "err", err)
	}
}

// Wait blocks until every subscription has closed and every submission has
// finished.
func (s *Service) Wait() {
	s.listener.Wait()
	s.dispatcher.Wait()
}
