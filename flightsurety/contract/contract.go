// Package contract binds the FlightSurety application contract: the methods the
// oracle server calls and the events it listens to.
//
// The ABI is embedded, but a truffle build artifact can be loaded instead so the
// server follows whatever the deployed contract declares.
package contract

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// IndexCount is the number of indexes the contract assigns to every oracle.
const IndexCount = 3

const (
	MethodRegistrationFee = "REGISTRATION_FEE"
	MethodRegisterOracle  = "registerOracle"
	MethodGetMyIndexes    = "getMyIndexes"
	MethodSubmitResponse  = "submitOracleResponse"
)

//go:embed FlightSuretyApp.abi.json
var embeddedABI []byte

var ErrUnknownEvent = errors.New("unknown event")

// Binding packs calls and decodes logs against one contract ABI.
type Binding struct {
	abi abi.ABI
}

// Default returns the binding for the embedded ABI.
func Default() *Binding {
	b, err := Parse(bytes.NewReader(embeddedABI))
	if err != nil {
		panic(fmt.Errorf("embedded contract ABI is invalid: %w", err))
	}
	return b
}

// Parse reads a JSON ABI definition.
func Parse(r io.Reader) (*Binding, error) {
	parsed, err := abi.JSON(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}
	b := &Binding{abi: parsed}
	if err := b.check(); err != nil {
		return nil, err
	}
	return b, nil
}

// LoadArtifact reads a truffle build artifact ({"abi": [...]}) or a bare ABI
// array from disk.
func LoadArtifact(path string) (*Binding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract artifact: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(trimmed, &artifact); err != nil {
			return nil, fmt.Errorf("failed to decode contract artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return nil, fmt.Errorf("contract artifact %s has no abi", path)
		}
		trimmed = artifact.ABI
	}

	return Parse(bytes.NewReader(trimmed))
}

// check makes sure everything the oracle server relies on is declared.
func (b *Binding) check() error {
	for _, m := range []string{MethodRegistrationFee, MethodRegisterOracle, MethodGetMyIndexes, MethodSubmitResponse} {
		if _, ok := b.abi.Methods[m]; !ok {
			return fmt.Errorf("contract ABI is missing method %s", m)
		}
	}
	for _, k := range []EventKind{KindOracleRequest, KindSubmitOracleResponse} {
		if _, ok := b.abi.Events[string(k)]; !ok {
			return fmt.Errorf("contract ABI is missing event %s", k)
		}
	}
	return nil
}

func (b *Binding) Pack(method string, args ...any) ([]byte, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}

func (b *Binding) Unpack(method string, data []byte) ([]any, error) {
	out, err := b.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}

// Supports reports whether the ABI declares the event kind.
func (b *Binding) Supports(kind EventKind) bool {
	_, ok := b.abi.Events[string(kind)]
	return ok
}

// EventID returns the topic hash of the event kind.
func (b *Binding) EventID(kind EventKind) (common.Hash, error) {
	ev, ok := b.abi.Events[string(kind)]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}
	return ev.ID, nil
}

// PackResponse encodes a submitOracleResponse call.
func (b *Binding) PackResponse(r Response) ([]byte, error) {
	return b.Pack(MethodSubmitResponse, r.Indexes, r.Airline, r.Flight, r.Timestamp, r.StatusCode)
}

// UnpackIndexes decodes the getMyIndexes return value.
func (b *Binding) UnpackIndexes(data []byte) ([]uint8, error) {
	out, err := b.Unpack(MethodGetMyIndexes, data)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", MethodGetMyIndexes, len(out))
	}
	indexes, ok := out[0].([IndexCount]uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", MethodGetMyIndexes, out[0])
	}
	return indexes[:], nil
}

// UnpackFee decodes the REGISTRATION_FEE return value.
func (b *Binding) UnpackFee(data []byte) (*big.Int, error) {
	out, err := b.Unpack(MethodRegistrationFee, data)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", MethodRegistrationFee, len(out))
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", MethodRegistrationFee, out[0])
	}
	return fee, nil
}
