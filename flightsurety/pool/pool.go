// Package pool holds the oracle identities controlled by this process and the
// indexes the contract assigned to each of them.
//
// The pool is append-only: identities are added once, by the registrar, and are
// never removed for the lifetime of the process. Readers iterate it lazily in
// registration order.
package pool

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrDuplicateIdentity = errors.New("identity already registered in pool")
	ErrUnknownIdentity   = errors.New("unknown identity")
)

type Pool struct {
	mu      sync.RWMutex
	order   []common.Address
	indexes map[common.Address][]uint8
}

func New() *Pool {
	return &Pool{
		indexes: make(map[common.Address][]uint8),
	}
}

// Add inserts an identity with its assigned indexes.
func (p *Pool) Add(id common.Address, indexes []uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.indexes[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentity, id)
	}

	p.indexes[id] = slices.Clone(indexes)
	p.order = append(p.order, id)
	return nil
}

// IndexesOf returns a copy of the indexes assigned to id.
func (p *Pool) IndexesOf(id common.Address) ([]uint8, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	indexes, ok := p.indexes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, id)
	}
	return slices.Clone(indexes), nil
}

func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// All iterates identities in insertion order. The sequence is evaluated lazily
// and can be ranged over any number of times; identities added while iterating
// are visited as well.
func (p *Pool) All() iter.Seq2[common.Address, []uint8] {
	return func(yield func(common.Address, []uint8) bool) {
		for i := 0; ; i++ {
			p.mu.RLock()
			if i >= len(p.order) {
				p.mu.RUnlock()
				return
			}
			id := p.order[i]
			indexes := slices.Clone(p.indexes[id])
			p.mu.RUnlock()

			if !yield(id, indexes) {
				return
			}
		}
	}
}

// Matching iterates the identities holding every one of the given indexes.
func (p *Pool) Matching(indexes []uint8) iter.Seq2[common.Address, []uint8] {
	return func(yield func(common.Address, []uint8) bool) {
		for id, assigned := range p.All() {
			if !Holds(assigned, indexes) {
				continue
			}
			if !yield(id, assigned) {
				return
			}
		}
	}
}

// Holds reports whether assigned contains all of wanted. An empty wanted set
// matches nothing.
func Holds(assigned, wanted []uint8) bool {
	if len(wanted) == 0 {
		return false
	}
	for _, w := range wanted {
		if !slices.Contains(assigned, w) {
			return false
		}
	}
	return true
}

// FormatIndexes renders indexes as "0, 1, 2".
func FormatIndexes(indexes []uint8) string {
	parts := make([]string, len(indexes))
	for i, idx := range indexes {
		parts[i] = fmt.Sprint(idx)
	}
	return strings.Join(parts, ", ")
}
