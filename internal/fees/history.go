package fees

import (
	"container/list"
	"math/big"
	"sort"
	"sync"

	"evmforge/internal/txtypes"
)

// historyLimit is the maximum number of block entries retained (spec.md
// §3 "Fee-history cache").
const historyLimit = 2048

// percentileCount is the number of percentile points sampled per block,
// {0.0, 0.5, 1.0, ..., 100.0} (spec.md §4.5 step 4).
const percentileCount = 201

// Entry is one block's fee-history record (spec.md §3).
type Entry struct {
	BaseFee      *big.Int
	GasUsedRatio float64
	Rewards      []*big.Int
}

// BlockView is the subset of block/receipt data the history builder needs
// for one notification (spec.md §4.5 step 1).
type BlockView struct {
	Number     uint64
	GasUsed    uint64
	GasLimit   uint64
	BaseFee    *big.Int
	Envelopes  []*txtypes.Envelope
	GasUsedPer []uint64 // per-transaction gas used, aligned with Envelopes
}

// History is the Fee-History Service (C6, spec.md §4.5): an ordered,
// size-bounded cache of per-block fee-history entries built from a stream
// of block notifications processed strictly in arrival order.
type History struct {
	mu         sync.Mutex
	elasticity uint64
	order      *list.List // of uint64 block numbers, oldest first
	entries    map[uint64]*Entry
	elems      map[uint64]*list.Element
}

// NewHistory returns an empty History for the given elasticity multiplier.
func NewHistory(elasticity uint64) *History {
	if elasticity == 0 {
		elasticity = 2
	}
	return &History{
		elasticity: elasticity,
		order:      list.New(),
		entries:    make(map[uint64]*Entry),
		elems:      make(map[uint64]*list.Element),
	}
}

// OnBlock processes one block notification synchronously; the caller is
// responsible for feeding notifications in arrival order (spec.md §4.5
// "Ordering": "the service... never awaits concurrently on two blocks").
func (h *History) OnBlock(view *BlockView) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if view == nil {
		return
	}

	entry := &Entry{BaseFee: bigOrZero(view.BaseFee), Rewards: make([]*big.Int, percentileCount)}
	for i := range entry.Rewards {
		entry.Rewards[i] = big.NewInt(0)
	}

	if view.GasLimit > 0 {
		// Open Question (a), spec.md §9: both the intermediate gas_target
		// form and the direct ratio are computed, preserving whatever
		// floating-point rounding the reference exhibits even though they
		// are algebraically equivalent to gas_used / gas_limit.
		gasTarget := float64(view.GasLimit) / float64(h.elasticity)
		entry.GasUsedRatio = float64(view.GasUsed) / (gasTarget * float64(h.elasticity))
	}

	entry.Rewards = computeRewardTable(view, entry.BaseFee)

	h.insert(view.Number, entry)
}

// computeRewardTable pairs each receipt's (gas_used, effective_reward),
// sorts by reward ascending, then samples 201 percentile points by
// cumulative gas used (spec.md §4.5 steps 3-4).
func computeRewardTable(view *BlockView, baseFee *big.Int) []*big.Int {
	type pair struct {
		gasUsed uint64
		reward  *big.Int
	}
	pairs := make([]pair, 0, len(view.Envelopes))
	var totalGas uint64
	for i, env := range view.Envelopes {
		gasUsed := uint64(0)
		if i < len(view.GasUsedPer) {
			gasUsed = view.GasUsedPer[i]
		}
		pairs = append(pairs, pair{gasUsed: gasUsed, reward: env.EffectiveTip(baseFee)})
		totalGas += gasUsed
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].reward.Cmp(pairs[j].reward) < 0 })

	rewards := make([]*big.Int, percentileCount)
	if len(pairs) == 0 || totalGas == 0 {
		for i := range rewards {
			rewards[i] = big.NewInt(0)
		}
		return rewards
	}

	for p := 0; p < percentileCount; p++ {
		percentile := float64(p) * 0.5 // 0.0, 0.5, 1.0, ..., 100.0
		threshold := percentile / 100.0 * float64(totalGas)
		var cumulative uint64
		idx := len(pairs) - 1
		for i, pr := range pairs {
			cumulative += pr.gasUsed
			if float64(cumulative) >= threshold {
				idx = i
				break
			}
		}
		rewards[p] = new(big.Int).Set(pairs[idx].reward)
	}
	return rewards
}

func (h *History) insert(number uint64, entry *Entry) {
	if _, exists := h.elems[number]; exists {
		h.entries[number] = entry
		return
	}
	elem := h.order.PushBack(number)
	h.elems[number] = elem
	h.entries[number] = entry

	if h.order.Len() <= historyLimit {
		return
	}
	// Evict keys <= block_number - limit, sweeping from the oldest entry
	// forward, so at most historyLimit consecutive blocks remain.
	cutoff := number - historyLimit + 1
	for e := h.order.Front(); e != nil; {
		n := e.Value.(uint64)
		if n >= cutoff {
			break
		}
		next := e.Next()
		h.order.Remove(e)
		delete(h.elems, n)
		delete(h.entries, n)
		e = next
	}
}

// Get returns the fee-history entry for blockNumber, if present.
func (h *History) Get(blockNumber uint64) (*Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[blockNumber]
	return e, ok
}

// Len reports the number of retained entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// RecordMissing inserts a zero-rewards entry for a block whose header or
// receipts could not be resolved (spec.md §4.5 step 1: "If either is
// missing, record an entry with zero rewards and return").
func (h *History) RecordMissing(number uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry := &Entry{BaseFee: big.NewInt(0), Rewards: make([]*big.Int, percentileCount)}
	for i := range entry.Rewards {
		entry.Rewards[i] = big.NewInt(0)
	}
	h.insert(number, entry)
}
