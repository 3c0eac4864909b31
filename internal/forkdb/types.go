// Package forkdb implements the Journaled State (C3, spec.md §4.3) and the
// Fork Database (C4, spec.md §4.1): together they present the DatabaseExt
// contract the byte-code interpreter queries, sourcing missing data from an
// in-process journal, a process-wide fork cache, and a remote RPC endpoint
// pinned to a specific block.
package forkdb

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"evmforge/internal/chainconfig"
	"evmforge/internal/forkcache"
)

// Address and Hash reuse go-ethereum's 20/32-byte value types, matching
// spec.md §3's Identifiers section and the teacher's own use of
// common.Address/common.Hash in core/virtual_machine.go.
type (
	Address = common.Address
	Hash    = common.Hash
)

// Word is spec.md §3's "32-byte big-endian unsigned" value type, modeled as
// an arbitrary-precision integer (the wire/storage width is enforced at
// serialization time, not in-memory).
type Word = big.Int

// ForkId is a process-unique opaque integer (spec.md §3).
type ForkId uint64

// SnapshotId is an opaque, single-use identifier returned by Snapshot
// (spec.md §3 "Snapshot").
type SnapshotId uint64

// AccountInfo is spec.md §3's "Account record", shared verbatim with the
// fork cache's on-disk representation.
type AccountInfo = forkcache.Account

// EmptyAccount returns the zero-value account the load path falls back to
// when no fork is active (spec.md §4.1 step 2).
func EmptyAccount() *AccountInfo {
	return &AccountInfo{Balance: big.NewInt(0), Nonce: 0}
}

// ForkDescriptor is spec.md §3's "Fork descriptor".
type ForkDescriptor struct {
	URL             string
	Env             chainconfig.CfgEnv
	EvmOpts         map[string]any
	EnableCaching   bool
	ForkBlockNumber *uint64 // nil ⇒ endpoint's current tip at load time
}

// BlockEnv is re-exported from chainconfig for callers that only import
// forkdb.
type BlockEnv = chainconfig.BlockEnv

// AccountDelta is one committed account mutation, re-exported from
// forkcache since Commit forwards directly into the cache's batch-apply
// rules (spec.md §4.2).
type AccountDelta = forkcache.AccountDelta
