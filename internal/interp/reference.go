package interp

import (
	"context"
	"math/big"

	"evmforge/internal/forkdb"
)

// Opcode mirrors the teacher's own minimal instruction set
// (core/virtual_machine.go's PUSH/ADD/STORE/LOAD/LOG/RET), extended with a
// byte-level encoding so program counters and instruction counters can
// diverge (PUSH carries an immediate operand the IC<->PC map must skip).
type Opcode byte

const (
	OpStop Opcode = iota
	OpPush
	OpAdd
	OpSub
	OpStore
	OpLoad
	OpLog
	OpReturn
)

// Program is a deployed contract's byte-code for the Reference
// interpreter: a flat opcode stream where OpPush is followed by 32
// immediate bytes.
type Program []byte

// Reference is a minimal stack-machine interpreter in the style of the
// teacher's own virtual machine (core/virtual_machine.go), generalized to
// operate against a forkdb.Journal instead of the teacher's in-memory
// memState.
type Reference struct {
	resultHolder
	Resolve EnvelopeResolver
	Code    map[forkdb.Address]Program
	GasCap  uint64
}

// NewReference returns a Reference interpreter with an empty code table.
func NewReference() *Reference {
	return &Reference{Code: make(map[forkdb.Address]Program), GasCap: 10_000_000}
}

// Exec implements forkdb.Executor (and interp.Interpreter) structurally.
func (r *Reference) Exec(ctx context.Context, journal *forkdb.Journal, env forkdb.BlockEnv, loader forkdb.Loader, txHash forkdb.Hash, host any) error {
	var target forkdb.Address
	if r.Resolve != nil {
		tx, err := r.Resolve(ctx, txHash)
		if err != nil {
			r.last = ExecResult{Reverted: true, RevertMsg: err.Error()}
			return err
		}
		if tx.To != nil {
			target = forkdb.Address(*tx.To)
		}
	}

	code, ok := r.Code[target]
	if !ok {
		r.last = ExecResult{}
		return nil
	}
	res := r.run(journal, loader, target, code)
	r.last = res
	return nil
}

// run executes code against addr's storage under journal, a direct
// generalization of the teacher's opcode switch to the journal's
// SLoad/SStore capability.
func (r *Reference) run(journal *forkdb.Journal, loader forkdb.Loader, addr forkdb.Address, code Program) ExecResult {
	var stack []*big.Int
	var gasUsed uint64
	pc := 0

	push := func(v *big.Int) { stack = append(stack, v) }
	pop := func() *big.Int {
		if len(stack) == 0 {
			return big.NewInt(0)
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for pc < len(code) {
		if gasUsed >= r.GasCap {
			return ExecResult{GasUsed: gasUsed, Reverted: true, RevertMsg: "out of gas"}
		}
		op := Opcode(code[pc])
		pc++
		gasUsed++

		switch op {
		case OpStop:
			return ExecResult{GasUsed: gasUsed}
		case OpPush:
			end := pc + 32
			if end > len(code) {
				end = len(code)
			}
			push(new(big.Int).SetBytes(code[pc:end]))
			pc = end
		case OpAdd:
			b, a := pop(), pop()
			push(new(big.Int).Add(a, b))
		case OpSub:
			b, a := pop(), pop()
			push(new(big.Int).Sub(a, b))
		case OpStore:
			key, val := pop(), pop()
			journal.SStore(addr, *key, val)
		case OpLoad:
			key := pop()
			val, err := journal.SLoad(addr, *key, loader)
			if err != nil {
				return ExecResult{GasUsed: gasUsed, Reverted: true, RevertMsg: err.Error()}
			}
			push(val)
		case OpLog:
			// Logging is a no-op placeholder in the reference interpreter;
			// a full implementation would append to ExecResult.Logs here.
		case OpReturn:
			return ExecResult{GasUsed: gasUsed}
		default:
			return ExecResult{GasUsed: gasUsed, Reverted: true, RevertMsg: "invalid opcode"}
		}
	}
	return ExecResult{GasUsed: gasUsed}
}
