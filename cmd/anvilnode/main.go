// Command anvilnode is a thin local node that wires the Fork Database
// (C4), the Fee Manager (C5) and the Fee-History Service (C6) behind a
// small JSON-RPC-ish HTTP/WS surface, giving those components a runnable
// home. Full JSON-RPC method coverage is out of scope: only
// eth_getBalance, eth_getStorageAt, eth_blockNumber and eth_feeHistory are
// implemented.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"evmforge/internal/broadcast"
	"evmforge/internal/chainconfig"
	"evmforge/internal/fees"
	"evmforge/internal/forkdb"
	"evmforge/internal/rpcclient"
	"evmforge/pkg/config"
	"evmforge/pkg/telemetry"
)

func main() {
	var (
		listenAddr string
		chainID    uint64
		forkURL    string
		logPath    string
	)

	root := &cobra.Command{
		Use:   "anvilnode",
		Short: "run a thin local node over the fork database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), listenAddr, chainID, forkURL, logPath)
		},
	}
	root.Flags().StringVar(&listenAddr, "listen-addr", "127.0.0.1:8545", "HTTP/WS listen address")
	root.Flags().Uint64Var(&chainID, "chain-id", 1, "chain id reported by this node")
	root.Flags().StringVar(&forkURL, "fork-url", "", "optional upstream RPC endpoint to fork from at startup")
	root.Flags().StringVar(&logPath, "log-file", "anvilnode.log", "path to the structured JSON log file")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, listenAddr string, chainID uint64, forkURL, logPath string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Warn("no config file found, using flag defaults")
		cfg = &config.Config{}
	}
	if cfg.Node.ListenAddr != "" {
		listenAddr = cfg.Node.ListenAddr
	}
	if cfg.Node.ChainID != 0 {
		chainID = cfg.Node.ChainID
	}
	if forkURL == "" {
		forkURL = cfg.Fork.DefaultURL
	}

	db := forkdb.NewDatabase(func(url string) (*rpcclient.Client, error) {
		return rpcclient.Dial(url)
	})
	journal := forkdb.NewJournal()

	denom := cfg.Fees.BaseFeeChangeDenominator
	elasticity := cfg.Fees.ElasticityMultiplier
	if denom == 0 {
		denom = 8
	}
	if elasticity == 0 {
		elasticity = 2
	}
	feeManager := fees.NewManager(chainconfig.HardforkLondon, big.NewInt(1_000_000_000), nil, denom, elasticity)
	feeHistory := fees.NewHistory(elasticity)
	pool := broadcast.New()

	if forkURL != "" {
		desc := forkdb.ForkDescriptor{URL: forkURL, Env: chainconfig.DefaultCfgEnv(chainID), EnableCaching: cfg.Fork.EnableCaching}
		if _, err := db.CreateSelectFork(ctx, desc, journal); err != nil {
			return fmt.Errorf("fork at startup: %w", err)
		}
	}

	node := &nodeState{db: db, journal: journal, fees: feeManager, history: feeHistory, pool: pool, chainID: chainID}

	logger, err := telemetry.New(node, logPath)
	if err != nil {
		return fmt.Errorf("telemetry logger: %w", err)
	}
	defer logger.Close()

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	go logger.Run(metricsCtx, 15*time.Second)

	srv := newServer(listenAddr, node, logger)
	logger.LogEvent(logrus.InfoLevel, fmt.Sprintf("anvilnode listening on %s", listenAddr))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// nodeState bundles the wired components each handler and the telemetry
// source need to reach.
type nodeState struct {
	db      *forkdb.Database
	journal *forkdb.Journal
	fees    *fees.Manager
	history *fees.History
	pool    *broadcast.Pool
	chainID uint64
}

// telemetry.Source implementation.
func (n *nodeState) ActiveForks() int      { return n.db.ForkCount() }
func (n *nodeState) JournalDepth() int     { return n.journal.Depth() }
func (n *nodeState) FeeHistoryLen() int    { return n.history.Len() }
func (n *nodeState) BroadcastWorkers() int { return n.pool.Size() }
func (n *nodeState) CoverageItems() int    { return 0 }
