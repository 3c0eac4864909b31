package main

import (
	"context"

	"evmforge/internal/chainconfig"
	"evmforge/internal/forkdb"
	"evmforge/internal/rpcclient"
)

// dialFork builds a fresh Database and Journal, optionally forking from url
// at startup. Every subcommand that touches the fork-backed interpreter
// shares this helper rather than re-deriving the wiring.
func dialFork(ctx context.Context, url string) (*forkdb.Database, *forkdb.Journal, error) {
	db := forkdb.NewDatabase(func(u string) (*rpcclient.Client, error) {
		return rpcclient.Dial(u)
	})
	journal := forkdb.NewJournal()
	if url == "" {
		return db, journal, nil
	}
	desc := forkdb.ForkDescriptor{URL: url, Env: chainconfig.DefaultCfgEnv(1), EnableCaching: true}
	if _, err := db.CreateSelectFork(ctx, desc, journal); err != nil {
		return nil, nil, err
	}
	return db, journal, nil
}
