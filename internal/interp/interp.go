// Package interp implements the narrow byte-code execution capability the
// Fork Database's Transact/replay operations consume (spec.md §1 "the core
// consumes an interpreter through a narrow capability interface"). Two
// implementations are provided: Reference, a minimal opcode interpreter in
// the style of the teacher's own virtual machine, and WasmAdapter, which
// delegates to a WebAssembly runtime.
package interp

import (
	"context"

	"evmforge/internal/forkdb"
	"evmforge/internal/txtypes"
)

// ExecResult is what one Transact/replay call produces.
type ExecResult struct {
	GasUsed    uint64
	ReturnData []byte
	Logs       []txtypes.Log
	Reverted   bool
	RevertMsg  string
}

// HostContext is the cheatcode-level capability handed to an interpreter
// during Transact, analogous to the teacher's sandbox-management hooks
// (core/vm_sandbox_management.go): it gates privileged calls by the
// database's cheatcode-access set.
type HostContext struct {
	DB *forkdb.Database
}

// Interpreter is the capability forkdb.Executor requires structurally: any
// type with this method set satisfies forkdb.Executor without forkdb
// importing this package (spec.md §9 avoids the cyclic dependency the same
// way it avoids the journal<->database cycle).
type Interpreter interface {
	Exec(ctx context.Context, journal *forkdb.Journal, env forkdb.BlockEnv, loader forkdb.Loader, txHash forkdb.Hash, host any) error
}

// LastResult exposes the most recent ExecResult an Interpreter produced;
// implementations embed resultHolder to provide it without a second return
// value threading through forkdb.Executor's fixed signature.
type LastResult interface {
	Result() ExecResult
}

type resultHolder struct {
	last ExecResult
}

func (r *resultHolder) Result() ExecResult { return r.last }

// EnvelopeResolver is the lookup hook that maps txHash to its Envelope (a
// real node would use the active fork's RPC client or a local mempool).
// Both Interpreter implementations here call it from Exec when it is set to
// pick the target address; Reference.Exec with a nil resolver runs the code
// registered at the zero address.
type EnvelopeResolver func(ctx context.Context, txHash forkdb.Hash) (*txtypes.Envelope, error)
