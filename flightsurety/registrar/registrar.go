// Package registrar registers the oracle identities of this process with the
// contract and records the indexes the contract assigns them.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/flightsurety/oracle-server/flightsurety/pool"
	"golang.org/x/sync/errgroup"
)

var (
	registeredCounter = metrics.NewRegisteredCounter("oracles/registrar/registered", nil)
	failedCounter     = metrics.NewRegisteredCounter("oracles/registrar/failed", nil)
)

var ErrNotEnoughAccounts = errors.New("not enough accounts")

// Ledger is the part of the contract the registrar drives.
type Ledger interface {
	RegistrationFee(ctx context.Context) (*big.Int, error)
	RegisterOracle(ctx context.Context, from common.Address, fee *big.Int) (*types.Receipt, error)
	AssignedIndexes(ctx context.Context, from common.Address) ([]uint8, error)
}

// Status is the registration state of one identity.
type Status int

const (
	Unregistered Status = iota
	Pending
	Registered
)

func (s Status) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Pending:
		return "pending"
	case Registered:
		return "registered"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// CommitPolicy decides when registered identities enter the pool.
type CommitPolicy string

const (
	// CommitEach adds every identity as soon as its own registration completes.
	// Identities that completed before a sibling failed stay in the pool.
	CommitEach CommitPolicy = "each"
	// CommitAll adds identities only once every registration has completed.
	CommitAll CommitPolicy = "all"
)

func ParseCommitPolicy(s string) (CommitPolicy, error) {
	switch p := CommitPolicy(strings.ToLower(s)); p {
	case CommitEach, CommitAll:
		return p, nil
	case "":
		return CommitEach, nil
	}
	return "", fmt.Errorf("unknown commit policy %q", s)
}

type Registrar struct {
	ledger Ledger
	pool   *pool.Pool
	policy CommitPolicy
	log    log.Logger

	mu     sync.Mutex
	status map[common.Address]Status
}

func New(ledger Ledger, p *pool.Pool, policy CommitPolicy, logger log.Logger) *Registrar {
	if policy == "" {
		policy = CommitEach
	}
	return &Registrar{
		ledger: ledger,
		pool:   p,
		policy: policy,
		log:    logger.New("component", "registrar"),
		status: make(map[common.Address]Status),
	}
}

// SelectAccounts returns the count accounts starting at offset.
func SelectAccounts(accounts []common.Address, offset, count int) ([]common.Address, error) {
	if offset < 0 || count <= 0 {
		return nil, fmt.Errorf("invalid account selection offset=%d count=%d", offset, count)
	}
	if offset+count > len(accounts) {
		return nil, fmt.Errorf("%w: need %d from offset %d, node has %d", ErrNotEnoughAccounts, count, offset, len(accounts))
	}
	return accounts[offset : offset+count], nil
}

// Status reports the registration state of account.
func (r *Registrar) Status(account common.Address) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status[account]
}

func (r *Registrar) setStatus(account common.Address, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[account] = s
}

type registration struct {
	account common.Address
	indexes []uint8
}

// RegisterAll reads the registration fee once, then registers every account
// concurrently. It succeeds only if every account was registered and its
// indexes were read back; otherwise it returns the first error. It always
// waits for every in-flight registration before returning, and never retries.
func (r *Registrar) RegisterAll(ctx context.Context, accounts []common.Address) error {
	fee, err := r.ledger.RegistrationFee(ctx)
	if err != nil {
		return fmt.Errorf("failed to read registration fee: %w", err)
	}

	r.log.Debug("Registering oracles", "count", len(accounts), "fee", fee, "policy", r.policy)

	staged := make([]*registration, len(accounts))

	var g errgroup.Group
	for i, account := range accounts {
		r.setStatus(account, Pending)
		g.Go(func() error {
			indexes, err := r.register(ctx, account, fee)
			if err != nil {
				r.setStatus(account, Unregistered)
				failedCounter.Inc(1)
				return err
			}

			if r.policy == CommitAll {
				staged[i] = &registration{account: account, indexes: indexes}
				return nil
			}
			return r.commit(account, indexes)
		})
	}

	if err := g.Wait(); err != nil {
		if r.policy == CommitAll {
			for _, s := range staged {
				if s == nil {
					continue
				}
				r.setStatus(s.account, Unregistered)
				r.log.Warn("Oracle registered on chain but not added to pool", "account", s.account, "indexes", pool.FormatIndexes(s.indexes))
			}
		}
		return err
	}

	if r.policy == CommitAll {
		var errs []error
		for _, s := range staged {
			errs = append(errs, r.commit(s.account, s.indexes))
		}
		return errors.Join(errs...)
	}

	return nil
}

func (r *Registrar) register(ctx context.Context, account common.Address, fee *big.Int) ([]uint8, error) {
	_, err := r.ledger.RegisterOracle(ctx, account, fee)
	if err != nil {
		return nil, fmt.Errorf("failed to register oracle %s: %w", account, err)
	}

	indexes, err := r.ledger.AssignedIndexes(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes of oracle %s: %w", account, err)
	}

	return indexes, nil
}

func (r *Registrar) commit(account common.Address, indexes []uint8) error {
	if err := r.pool.Add(account, indexes); err != nil {
		// already pooled by an earlier registration
		r.setStatus(account, Registered)
		return fmt.Errorf("failed to add oracle %s to pool: %w", account, err)
	}
	r.setStatus(account, Registered)
	registeredCounter.Inc(1)
	r.log.Info("Oracle registered", "account", account, "indexes", pool.FormatIndexes(indexes))
	return nil
}
