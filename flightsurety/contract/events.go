package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventKind is the ABI name of a contract event.
type EventKind string

const (
	KindOracleRequest        EventKind = "OracleRequest"
	KindSubmitOracleResponse EventKind = "SubmitOracleResponse"
	KindOracleReport         EventKind = "OracleReport"
	KindRegisterAirline      EventKind = "RegisterAirline"
	KindFundedAirlines       EventKind = "FundedAirlines"
	KindPurchaseInsurance    EventKind = "PurchaseInsurance"
	KindCreditInsurees       EventKind = "CreditInsurees"
	KindWithdraw             EventKind = "Withdraw"
)

// LifecycleKinds are consumed for logging only.
var LifecycleKinds = []EventKind{
	KindRegisterAirline,
	KindFundedAirlines,
	KindPurchaseInsurance,
	KindCreditInsurees,
	KindWithdraw,
}

// Event is a decoded contract log.
type Event interface {
	Kind() EventKind
	Log() types.Log
	// Fields returns the decoded arguments keyed by ABI name.
	Fields() map[string]any
}

type base struct {
	kind   EventKind
	raw    types.Log
	fields map[string]any
}

func (b base) Kind() EventKind        { return b.kind }
func (b base) Log() types.Log         { return b.raw }
func (b base) Fields() map[string]any { return b.fields }

// OracleRequest asks the oracles holding Index for the status of a flight.
type OracleRequest struct {
	base
	Index     uint8
	Airline   common.Address
	Flight    string
	Timestamp *big.Int
}

// SubmitOracleResponse echoes a response carrying the index set of the oracle
// that produced it.
type SubmitOracleResponse struct {
	base
	Indexes    [IndexCount]uint8
	Airline    common.Address
	Flight     string
	Timestamp  *big.Int
	StatusCode uint8
}

type OracleReport struct {
	base
	Airline   common.Address
	Flight    string
	Timestamp *big.Int
	Status    uint8
}

// Lifecycle covers airline, insurance and payout events.
type Lifecycle struct {
	base
}

// Response is the payload of a submitOracleResponse transaction.
type Response struct {
	Indexes    [IndexCount]uint8
	Airline    common.Address
	Flight     string
	Timestamp  *big.Int
	StatusCode uint8
}

// Decode turns a raw log into the typed event of the given kind.
func (b *Binding) Decode(kind EventKind, l types.Log) (Event, error) {
	ev, ok := b.abi.Events[string(kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		return nil, fmt.Errorf("log %s/%d is not a %s event", l.TxHash, l.Index, kind)
	}

	fields := map[string]any{}
	if len(l.Data) > 0 {
		if err := b.abi.UnpackIntoMap(fields, ev.Name, l.Data); err != nil {
			return nil, fmt.Errorf("failed to unpack %s: %w", kind, err)
		}
	} else if len(ev.Inputs.NonIndexed()) > 0 {
		return nil, fmt.Errorf("failed to unpack %s: empty log data", kind)
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse %s topics: %w", kind, err)
	}

	f := fieldReader{kind: kind, fields: fields}
	b0 := base{kind: kind, raw: l, fields: fields}

	var out Event
	switch kind {
	case KindOracleRequest:
		out = &OracleRequest{
			base:      b0,
			Index:     f.getUint8("index"),
			Airline:   f.getAddress("airline"),
			Flight:    f.getString("flight"),
			Timestamp: f.getBigInt("timestamp"),
		}
	case KindSubmitOracleResponse:
		out = &SubmitOracleResponse{
			base:       b0,
			Indexes:    f.getIndexes("indexes"),
			Airline:    f.getAddress("airline"),
			Flight:     f.getString("flight"),
			Timestamp:  f.getBigInt("timestamp"),
			StatusCode: f.getUint8("statusCode"),
		}
	case KindOracleReport:
		out = &OracleReport{
			base:      b0,
			Airline:   f.getAddress("airline"),
			Flight:    f.getString("flight"),
			Timestamp: f.getBigInt("timestamp"),
			Status:    f.getUint8("status"),
		}
	default:
		out = &Lifecycle{base: b0}
	}
	if f.err != nil {
		return nil, f.err
	}
	return out, nil
}

// EncodeLog builds the log the contract would emit for the given arguments,
// in ABI declaration order.
func (b *Binding) EncodeLog(kind EventKind, address common.Address, args ...any) (types.Log, error) {
	ev, ok := b.abi.Events[string(kind)]
	if !ok {
		return types.Log{}, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}
	if len(args) != len(ev.Inputs) {
		return types.Log{}, fmt.Errorf("%s takes %d arguments, got %d", kind, len(ev.Inputs), len(args))
	}

	var (
		plain   []any
		indexed [][]any
	)
	for i, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, []any{args[i]})
		} else {
			plain = append(plain, args[i])
		}
	}

	data, err := ev.Inputs.NonIndexed().Pack(plain...)
	if err != nil {
		return types.Log{}, fmt.Errorf("failed to pack %s: %w", kind, err)
	}

	topics := []common.Hash{ev.ID}
	if len(indexed) > 0 {
		extra, err := abi.MakeTopics(indexed...)
		if err != nil {
			return types.Log{}, fmt.Errorf("failed to build %s topics: %w", kind, err)
		}
		for _, t := range extra {
			topics = append(topics, t[0])
		}
	}

	return types.Log{Address: address, Topics: topics, Data: data}, nil
}

// fieldReader converts unpacked ABI values, remembering the first mismatch.
type fieldReader struct {
	kind   EventKind
	fields map[string]any
	err    error
}

func (f *fieldReader) get(name string) any {
	v, ok := f.fields[name]
	if !ok && f.err == nil {
		f.err = fmt.Errorf("%s has no field %q", f.kind, name)
	}
	return v
}

func (f *fieldReader) mismatch(name string, v any) {
	if f.err == nil {
		f.err = fmt.Errorf("%s field %q has unexpected type %T", f.kind, name, v)
	}
}

func (f *fieldReader) getUint8(name string) uint8 {
	v := f.get(name)
	n, ok := v.(uint8)
	if !ok && v != nil {
		f.mismatch(name, v)
	}
	return n
}

func (f *fieldReader) getString(name string) string {
	v := f.get(name)
	s, ok := v.(string)
	if !ok && v != nil {
		f.mismatch(name, v)
	}
	return s
}

func (f *fieldReader) getAddress(name string) common.Address {
	v := f.get(name)
	a, ok := v.(common.Address)
	if !ok && v != nil {
		f.mismatch(name, v)
	}
	return a
}

func (f *fieldReader) getBigInt(name string) *big.Int {
	v := f.get(name)
	n, ok := v.(*big.Int)
	if !ok && v != nil {
		f.mismatch(name, v)
	}
	return n
}

func (f *fieldReader) getIndexes(name string) [IndexCount]uint8 {
	v := f.get(name)
	a, ok := v.([IndexCount]uint8)
	if !ok && v != nil {
		f.mismatch(name, v)
	}
	return a
}
