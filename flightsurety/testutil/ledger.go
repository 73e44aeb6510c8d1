package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
	"github.com/flightsurety/oracle-server/flightsurety/ledger"
)

var AppAddress = common.HexToAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")

var ErrNotOracle = errors.New("execution reverted: not registered as an oracle")

// Submission is a submitOracleResponse transaction accepted by the Ledger.
type Submission struct {
	From     common.Address
	Response contract.Response
}

type subscriber struct {
	kind contract.EventKind
	ch   chan ledger.Delivery
}

// Ledger is an in-memory stand-in for the application contract and the node
// that hosts it.
type Ledger struct {
	binding *contract.Binding

	mu          sync.Mutex
	accounts    []common.Address
	fee         *big.Int
	assignments map[common.Address][]uint8
	nextIndex   uint8
	oracles     map[common.Address][]uint8
	paid        map[common.Address]*big.Int
	submissions []Submission

	registerErr  map[common.Address]error
	indexesErr   map[common.Address]error
	submitErr    map[common.Address]error
	submitGate   map[common.Address]chan struct{}
	subscribeErr map[contract.EventKind]error
	feeErr       error

	block       uint64
	history     []types.Log
	subscribers []*subscriber
}

// NewLedger creates a ledger with n node accounts.
func NewLedger(binding *contract.Binding, n int) *Ledger {
	accounts := make([]common.Address, n)
	for i := range accounts {
		accounts[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
	}
	return &Ledger{
		binding:      binding,
		accounts:     accounts,
		fee:          big.NewInt(1_000_000_000_000_000_000),
		assignments:  map[common.Address][]uint8{},
		oracles:      map[common.Address][]uint8{},
		paid:         map[common.Address]*big.Int{},
		registerErr:  map[common.Address]error{},
		indexesErr:   map[common.Address]error{},
		submitErr:    map[common.Address]error{},
		submitGate:   map[common.Address]chan struct{}{},
		subscribeErr: map[contract.EventKind]error{},
	}
}

func (l *Ledger) Account(i int) common.Address {
	return l.accounts[i]
}

// AssignIndexes fixes the indexes the contract hands to account on
// registration.
func (l *Ledger) AssignIndexes(account common.Address, indexes []uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assignments[account] = slices.Clone(indexes)
}

// SetFee changes the registration fee the contract asks for.
func (l *Ledger) SetFee(fee *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fee = new(big.Int).Set(fee)
}

func (l *Ledger) FailRegistration(account common.Address, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registerErr[account] = err
}

func (l *Ledger) FailIndexQuery(account common.Address, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.indexesErr[account] = err
}

func (l *Ledger) FailSubmission(account common.Address, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErr[account] = err
}

func (l *Ledger) FailFeeRead(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeErr = err
}

func (l *Ledger) FailSubscription(kind contract.EventKind, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribeErr[kind] = err
}

// HoldSubmissions makes submissions from account wait until the returned
// function is called.
func (l *Ledger) HoldSubmissions(account common.Address) (release func()) {
	gate := make(chan struct{})
	l.mu.Lock()
	l.submitGate[account] = gate
	l.mu.Unlock()
	return sync.OnceFunc(func() { close(gate) })
}

func (l *Ledger) Accounts(ctx context.Context) ([]common.Address, error) {
	return slices.Clone(l.accounts), nil
}

func (l *Ledger) RegistrationFee(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.feeErr != nil {
		return nil, l.feeErr
	}
	return new(big.Int).Set(l.fee), nil
}

func (l *Ledger) RegisterOracle(ctx context.Context, from common.Address, fee *big.Int) (*types.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.registerErr[from]; err != nil {
		return nil, err
	}
	if fee == nil || fee.Cmp(l.fee) < 0 {
		return nil, fmt.Errorf("%w: registration fee is required", ledger.ErrTransactionReverted)
	}

	indexes, ok := l.assignments[from]
	if !ok {
		indexes = []uint8{l.nextIndex % 10, (l.nextIndex + 1) % 10, (l.nextIndex + 2) % 10}
		l.nextIndex += 3
	}
	l.oracles[from] = indexes
	l.paid[from] = new(big.Int).Set(fee)
	return l.receipt(), nil
}

func (l *Ledger) AssignedIndexes(ctx context.Context, from common.Address) ([]uint8, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.indexesErr[from]; err != nil {
		return nil, err
	}
	indexes, ok := l.oracles[from]
	if !ok {
		return nil, ErrNotOracle
	}
	return slices.Clone(indexes), nil
}

func (l *Ledger) SubmitResponse(ctx context.Context, from common.Address, resp contract.Response) (*types.Receipt, error) {
	l.mu.Lock()
	gate := l.submitGate[from]
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.submitErr[from]; err != nil {
		return nil, err
	}
	if _, ok := l.oracles[from]; !ok {
		return nil, ErrNotOracle
	}
	l.submissions = append(l.submissions, Submission{From: from, Response: resp})
	return l.receipt(), nil
}

func (l *Ledger) receipt() *types.Receipt {
	l.block++
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(l.block)),
		BlockNumber: new(big.Int).SetUint64(l.block),
	}
}

// IsOracle reports whether account registered on chain.
func (l *Ledger) IsOracle(account common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.oracles[account]
	return ok
}

func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.submissions)
}

// Subscribe streams logs of kind. Genesis subscriptions start with every log
// emitted so far.
func (l *Ledger) Subscribe(ctx context.Context, kind contract.EventKind, start ledger.Start) (<-chan ledger.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.subscribeErr[kind]; err != nil {
		return nil, err
	}
	id, err := l.binding.EventID(kind)
	if err != nil {
		return nil, err
	}

	s := &subscriber{kind: kind, ch: make(chan ledger.Delivery, 1024)}
	if start == ledger.StartGenesis {
		for _, lg := range l.history {
			if len(lg.Topics) > 0 && lg.Topics[0] == id {
				s.ch <- ledger.Delivery{Log: lg}
			}
		}
	}
	l.subscribers = append(l.subscribers, s)

	go func() {
		<-ctx.Done()
		l.unsubscribe(s)
	}()

	return s.ch, nil
}

func (l *Ledger) unsubscribe(s *subscriber) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := slices.Index(l.subscribers, s)
	if i < 0 {
		return
	}
	l.subscribers = slices.Delete(l.subscribers, i, i+1)
	close(s.ch)
}

// Emit mines a log of kind with the given arguments and delivers it to the
// subscribers of that kind.
func (l *Ledger) Emit(kind contract.EventKind, args ...any) (types.Log, error) {
	lg, err := l.binding.EncodeLog(kind, AppAddress, args...)
	if err != nil {
		return types.Log{}, err
	}
	return l.EmitRaw(kind, lg), nil
}

// EmitRaw delivers lg as a log of kind without checking its content and
// returns it as mined.
func (l *Ledger) EmitRaw(kind contract.EventKind, lg types.Log) types.Log {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.block++
	lg.BlockNumber = l.block
	lg.TxHash = common.BigToHash(new(big.Int).SetUint64(l.block))
	l.history = append(l.history, lg)

	for _, s := range l.subscribers {
		if s.kind == kind {
			s.ch <- ledger.Delivery{Log: lg}
		}
	}
	return lg
}

// EmitFault delivers a transport error to the subscribers of kind.
func (l *Ledger) EmitFault(kind contract.EventKind, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.subscribers {
		if s.kind == kind {
			s.ch <- ledger.Delivery{Err: err}
		}
	}
}

// EndSubscriptions closes every subscription of kind, as a node dropping the
// connection would.
func (l *Ledger) EndSubscriptions(kind contract.EventKind) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.subscribers = slices.DeleteFunc(l.subscribers, func(s *subscriber) bool {
		if s.kind != kind {
			return false
		}
		close(s.ch)
		return true
	})
}
