package interp

import (
	"context"
	"fmt"
	"math/big"

	"github.com/wasmerio/wasmer-go/wasmer"

	"evmforge/internal/forkdb"
)

// WasmAdapter runs deployed WebAssembly byte-code through wasmer-go,
// following the teacher's own use of the wasmer runtime in
// core/virtual_machine.go. It exposes host functions for storage access so
// guest modules can call back into the journal.
type WasmAdapter struct {
	resultHolder
	Resolve EnvelopeResolver
	Modules map[forkdb.Address][]byte

	engine *wasmer.Engine
	store  *wasmer.Store
}

// NewWasmAdapter builds a WasmAdapter with a fresh wasmer engine/store pair.
func NewWasmAdapter() *WasmAdapter {
	engine := wasmer.NewEngine()
	return &WasmAdapter{
		Modules: make(map[forkdb.Address][]byte),
		engine:  engine,
		store:   wasmer.NewStore(engine),
	}
}

// Exec implements forkdb.Executor (and interp.Interpreter) structurally.
func (w *WasmAdapter) Exec(ctx context.Context, journal *forkdb.Journal, env forkdb.BlockEnv, loader forkdb.Loader, txHash forkdb.Hash, host any) error {
	var target forkdb.Address
	if w.Resolve != nil {
		tx, err := w.Resolve(ctx, txHash)
		if err != nil {
			w.last = ExecResult{Reverted: true, RevertMsg: err.Error()}
			return err
		}
		if tx.To != nil {
			target = forkdb.Address(*tx.To)
		}
	}

	wasmBytes, ok := w.Modules[target]
	if !ok {
		w.last = ExecResult{}
		return nil
	}

	module, err := wasmer.NewModule(w.store, wasmBytes)
	if err != nil {
		w.last = ExecResult{Reverted: true, RevertMsg: err.Error()}
		return fmt.Errorf("compile wasm module: %w", err)
	}

	importObject := w.hostImports(journal, loader, target)
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		w.last = ExecResult{Reverted: true, RevertMsg: err.Error()}
		return fmt.Errorf("instantiate wasm module: %w", err)
	}

	entry, err := instance.Exports.GetFunction("main")
	if err != nil {
		w.last = ExecResult{Reverted: true, RevertMsg: err.Error()}
		return fmt.Errorf("resolve entrypoint: %w", err)
	}
	if _, err := entry(); err != nil {
		w.last = ExecResult{Reverted: true, RevertMsg: err.Error()}
		return fmt.Errorf("execute wasm entrypoint: %w", err)
	}

	w.last = ExecResult{}
	return nil
}

// hostImports wires sload/sstore host calls a guest module can invoke,
// bridging wasmer's numeric-only ABI to the journal's Word-typed storage
// API: keys and values are passed and returned as i64 values.
func (w *WasmAdapter) hostImports(journal *forkdb.Journal, loader forkdb.Loader, addr forkdb.Address) *wasmer.ImportObject {
	importObject := wasmer.NewImportObject()

	sstoreType := wasmer.NewFunctionType(
		wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64), wasmer.ValueKind(wasmer.I64)),
		wasmer.NewValueTypes(),
	)
	sstoreFn := wasmer.NewFunction(w.store, sstoreType, func(args []wasmer.Value) ([]wasmer.Value, error) {
		key := bigFromInt64(args[0].I64())
		val := bigFromInt64(args[1].I64())
		journal.SStore(addr, *key, val)
		return []wasmer.Value{}, nil
	})

	sloadType := wasmer.NewFunctionType(
		wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)),
		wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I64)),
	)
	sloadFn := wasmer.NewFunction(w.store, sloadType, func(args []wasmer.Value) ([]wasmer.Value, error) {
		key := bigFromInt64(args[0].I64())
		val, err := journal.SLoad(addr, *key, loader)
		if err != nil {
			return nil, err
		}
		return []wasmer.Value{wasmer.NewI64(val.Int64())}, nil
	})

	// Registered under "env" to match the teacher's own host-import
	// namespace convention (core/virtual_machine.go's registerHost).
	importObject.Register("env", map[string]wasmer.IntoExtern{
		"sstore": sstoreFn,
		"sload":  sloadFn,
	})
	return importObject
}

func bigFromInt64(v int64) *forkdb.Word {
	return big.NewInt(v)
}
