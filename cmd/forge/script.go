package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"evmforge/internal/forkdb"
	"evmforge/internal/interp"
	"evmforge/internal/txtypes"
)

var scriptCmd = &cobra.Command{
	Use:   "script <address>",
	Short: "replay a single deployed contract's entrypoint against a fork",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		forkURL, _ := cmd.Flags().GetString("fork-url")
		return runScript(cmd.Context(), forkURL, args[0])
	},
}

func init() {
	scriptCmd.Flags().String("fork-url", "", "RPC endpoint to fork from before replaying")
}

// RegisterScript wires the script command onto root.
func RegisterScript(root *cobra.Command) { root.AddCommand(scriptCmd) }

// runScript pins a fork (if a URL is given), loads addrHex's on-chain code
// through the fork database's load path, and replays it through the
// reference interpreter, printing the resulting gas usage or revert
// reason.
func runScript(ctx context.Context, forkURL string, addrHex string) error {
	db, journal, err := dialFork(ctx, forkURL)
	if err != nil {
		return err
	}

	addr := forkdb.Address(common.HexToAddress(addrHex))
	acct, _, err := db.Basic(ctx, addr, journal)
	if err != nil {
		return fmt.Errorf("load account %s: %w", addrHex, err)
	}
	if len(acct.Code) == 0 {
		return fmt.Errorf("address %s has no code on the pinned fork", addrHex)
	}

	ref := interp.NewReference()
	ref.Code[addr] = acct.Code
	ref.Resolve = func(ctx context.Context, txHash forkdb.Hash) (*txtypes.Envelope, error) {
		return &txtypes.Envelope{To: &addr}, nil
	}

	if db.ActiveForkID() != nil {
		err = db.Transact(ctx, nil, forkdb.Hash{}, journal, ref, nil)
	} else {
		err = ref.Exec(ctx, journal, forkdb.BlockEnv{}, nil, forkdb.Hash{}, nil)
	}
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	res := ref.Result()
	if res.Reverted {
		fmt.Printf("reverted: %s (gas used %d)\n", res.RevertMsg, res.GasUsed)
		return nil
	}
	fmt.Printf("ok: gas used %d\n", res.GasUsed)
	return nil
}
