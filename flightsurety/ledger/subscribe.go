package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/flightsurety/oracle-server/flightsurety/contract"
)

// Start selects where a subscription begins.
type Start int

const (
	// StartLatest follows logs from new blocks only.
	StartLatest Start = iota
	// StartGenesis replays every log since block zero before following new ones.
	StartGenesis
)

func (s Start) String() string {
	switch s {
	case StartLatest:
		return "latest"
	case StartGenesis:
		return "genesis"
	}
	return fmt.Sprintf("start(%d)", int(s))
}

// Delivery is one item of a subscription stream: either a log or a transport
// fault.
type Delivery struct {
	Log types.Log
	Err error
}

const deliveryBuffer = 128

// Subscribe streams the logs of one event kind. The channel is closed when ctx
// is cancelled or the node ends the subscription; a terminating fault is
// delivered as the last item.
func (c *Client) Subscribe(ctx context.Context, kind contract.EventKind, start Start) (<-chan Delivery, error) {
	topic, err := c.binding.EventID(kind)
	if err != nil {
		return nil, err
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{topic}},
	}

	live := make(chan types.Log, deliveryBuffer)
	sub, err := c.eth.SubscribeFilterLogs(ctx, query, live)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s logs: %w", kind, err)
	}

	// Subscribing first means nothing mined between the replay and the live
	// stream is lost; anything at or below head is dropped from the live side.
	var (
		history []types.Log
		head    uint64
	)
	if start == StartGenesis {
		head, err = c.eth.BlockNumber(ctx)
		if err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("failed to get head block: %w", err)
		}

		replay := query
		replay.FromBlock = big.NewInt(0)
		replay.ToBlock = new(big.Int).SetUint64(head)
		history, err = c.eth.FilterLogs(ctx, replay)
		if err != nil {
			sub.Unsubscribe()
			return nil, fmt.Errorf("failed to filter %s logs: %w", kind, err)
		}
	}

	c.log.Debug("Subscribed to contract events", "kind", kind, "start", start, "replayed", len(history))

	out := make(chan Delivery, deliveryBuffer)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for _, l := range history {
			if !send(ctx, out, Delivery{Log: l}) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-sub.Err():
				if ok && err != nil {
					send(ctx, out, Delivery{Err: err})
				}
				return
			case l := <-live:
				if start == StartGenesis && l.BlockNumber <= head {
					continue
				}
				if !send(ctx, out, Delivery{Log: l}) {
					return
				}
			}
		}
	}()

	return out, nil
}

func send(ctx context.Context, out chan<- Delivery, d Delivery) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}
