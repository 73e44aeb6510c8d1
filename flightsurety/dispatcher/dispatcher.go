// Package dispatcher answers oracle requests on behalf of every pooled identity
// that holds the requested indexes.
//
// Each answer is an independent transaction: dispatching returns as soon as the
// submissions are spawned, and a failed submission is logged and forgotten
// without touching its siblings.
package dispatcher

import (
	"context"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/pool"
)

var (
	requestsCounter  = metrics.NewRegisteredCounter("oracles/dispatch/requests", nil)
	submittedCounter = metrics.NewRegisteredCounter("oracles/dispatch/submitted", nil)
	failedCounter    = metrics.NewRegisteredCounter("oracles/dispatch/failed", nil)
	lastIndexGauge   = metrics.NewRegisteredGauge("oracles/dispatch/lastindex", nil)
)

// Submitter sends a response transaction from one oracle identity.
type Submitter interface {
	SubmitResponse(ctx context.Context, from common.Address, resp contract.Response) (*types.Receipt, error)
}

// Request is one status verification request to answer.
type Request struct {
	// Index is the request index recorded as the last observed index.
	Index uint8
	// Indexes selects the identities that answer: those holding all of them.
	// Empty means just Index.
	Indexes    []uint8
	Airline    common.Address
	Flight     string
	Timestamp  *big.Int
	StatusCode uint8
}

func (r Request) correlation() []uint8 {
	if len(r.Indexes) == 0 {
		return []uint8{r.Index}
	}
	return r.Indexes
}

// responseFor builds the transaction payload for an identity. A full index set
// is echoed back as received; otherwise the identity answers with its own
// assigned indexes.
func (r Request) responseFor(assigned []uint8) contract.Response {
	var indexes [contract.IndexCount]uint8
	if len(r.Indexes) == contract.IndexCount {
		copy(indexes[:], r.Indexes)
	} else {
		copy(indexes[:], assigned)
	}
	return contract.Response{
		Indexes:    indexes,
		Airline:    r.Airline,
		Flight:     r.Flight,
		Timestamp:  r.Timestamp,
		StatusCode: r.StatusCode,
	}
}

// FromOracleRequest answers an OracleRequest event with the given status.
func FromOracleRequest(ev *contract.OracleRequest, status uint8) Request {
	return Request{
		Index:      ev.Index,
		Airline:    ev.Airline,
		Flight:     ev.Flight,
		Timestamp:  ev.Timestamp,
		StatusCode: status,
	}
}

// FromOracleResponse re-submits the content of a SubmitOracleResponse event.
func FromOracleResponse(ev *contract.SubmitOracleResponse) Request {
	return Request{
		Indexes:    slices.Clone(ev.Indexes[:]),
		Airline:    ev.Airline,
		Flight:     ev.Flight,
		Timestamp:  ev.Timestamp,
		StatusCode: ev.StatusCode,
	}
}

type Dispatcher struct {
	submitter Submitter
	pool      *pool.Pool
	log       log.Logger

	// lastIndex holds the last observed request index, or -1.
	lastIndex atomic.Int32
	inflight  sync.WaitGroup
}

func New(submitter Submitter, p *pool.Pool, logger log.Logger) *Dispatcher {
	d := &Dispatcher{
		submitter: submitter,
		pool:      p,
		log:       logger.New("component", "dispatcher"),
	}
	d.lastIndex.Store(-1)
	return d
}

// Observe records index as the last observed request index.
func (d *Dispatcher) Observe(index uint8) {
	d.lastIndex.Store(int32(index))
	lastIndexGauge.Update(int64(index))
}

// LastObservedIndex returns the index of the most recent request, if any.
func (d *Dispatcher) LastObservedIndex() (uint8, bool) {
	v := d.lastIndex.Load()
	if v < 0 {
		return 0, false
	}
	return uint8(v), true
}

// Dispatch records the request index and submits a response from every
// matching identity. It returns the number of submissions started.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) int {
	d.Observe(req.Index)
	return d.Submit(ctx, req)
}

// Submit starts one response submission per matching identity without
// recording the request index.
func (d *Dispatcher) Submit(ctx context.Context, req Request) int {
	requestsCounter.Inc(1)

	wanted := req.correlation()
	started := 0
	for id, assigned := range d.pool.Matching(wanted) {
		started++
		resp := req.responseFor(assigned)
		d.inflight.Add(1)
		go func() {
			defer d.inflight.Done()
			d.submit(ctx, id, resp)
		}()
	}

	d.log.Debug("Dispatched oracle request", "index", req.Index, "indexes", pool.FormatIndexes(wanted),
		"flight", req.Flight, "status", contract.StatusName(req.StatusCode), "oracles", started)
	return started
}

func (d *Dispatcher) submit(ctx context.Context, from common.Address, resp contract.Response) {
	receipt, err := d.submitter.SubmitResponse(ctx, from, resp)
	if err != nil {
		failedCounter.Inc(1)
		d.log.Warn("Oracle didn't respond", "oracle", from, "flight", resp.Flight, "err", err)
		return
	}
	submittedCounter.Inc(1)

	var tx common.Hash
	if receipt != nil {
		tx = receipt.TxHash
	}
	d.log.Info("Oracle responded", "oracle", from, "flight", resp.Flight,
		"status", contract.StatusName(resp.StatusCode), "tx", tx)
}

// Wait blocks until every started submission has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
