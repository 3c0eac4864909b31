package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"evmforge/internal/broadcast"
	"evmforge/internal/forkdb"
	"evmforge/internal/interp"
	"evmforge/internal/txtypes"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "run a contract's deployed byte-code against the fork-backed interpreter",
	RunE: func(cmd *cobra.Command, args []string) error {
		forkURL, _ := cmd.Flags().GetString("fork-url")
		workers, _ := cmd.Flags().GetInt("workers")
		return runTests(cmd.Context(), forkURL, workers)
	},
}

func init() {
	testCmd.Flags().String("fork-url", "", "optional RPC endpoint to fork from before running")
	testCmd.Flags().Int("workers", 4, "number of broadcast pool workers to fan out test cases across")
}

// RegisterTest wires the test command onto root.
func RegisterTest(root *cobra.Command) { root.AddCommand(testCmd) }

// runTests replays one trivial test case per broadcast participant (each
// worker plus the calling goroutine) through the reference interpreter,
// fanned out across a broadcast pool so every participant finishes before
// the call returns (spec.md §8). With zero workers it runs nothing. Each
// participant gets its own Reference instance: the interpreter's ExecResult is
// unsynchronized state meant for single-caller use, so sharing one across
// concurrent workers would race.
func runTests(ctx context.Context, forkURL string, workers int) error {
	if workers <= 0 {
		fmt.Println("0/0 test cases passed")
		return nil
	}
	db, _, err := dialFork(ctx, forkURL)
	if err != nil {
		return err
	}
	forked := db.ActiveForkID() != nil

	pool := broadcast.New()
	results := make([]bool, workers+1) // indices 0 (caller) through workers

	broadcastCase := func(workerIndex int) {
		addr := forkdb.Address{byte(workerIndex + 1)}
		ref := interp.NewReference()
		ref.Code[addr] = interp.Program{byte(interp.OpReturn)}
		ref.Resolve = func(ctx context.Context, txHash forkdb.Hash) (*txtypes.Envelope, error) {
			return &txtypes.Envelope{To: &addr}, nil
		}

		journal := forkdb.NewJournal()
		txHash := forkdb.Hash{}
		var execErr error
		if forked {
			execErr = db.Transact(ctx, nil, txHash, journal, ref, nil)
		} else {
			execErr = ref.Exec(ctx, journal, forkdb.BlockEnv{}, nil, txHash, nil)
		}
		results[workerIndex] = execErr == nil && !ref.Result().Reverted
	}
	pool.Broadcast(workers, broadcastCase)

	passed := 0
	for _, ok := range results {
		if ok {
			passed++
		}
	}
	fmt.Printf("%d/%d test cases passed\n", passed, len(results))
	return nil
}
