package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/config"
	"github.com/goran-ethernal/ChainReducer/internal/ingest"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/metrics"
	"github.com/goran-ethernal/ChainReducer/internal/reorg"
	"github.com/goran-ethernal/ChainReducer/internal/rpc"
	pkgconfig "github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║         ChainReducer v%s               ║
║   NFT and Order Event Reduction Engine    ║
╚═══════════════════════════════════════════╝
`
)

var (
	configPath  string
	rebuildFlag bool
	allFlag     bool
	limitFlag   int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "reducer",
	Short: "ChainReducer - NFT and order event reduction engine",
	Long: `ChainReducer folds ordered streams of NFT and order events into entity
snapshots. It scans the chain into an event log, handles reorgs by reverting
events, and keeps every item, ownership, collection and order up to date.`,
	Version: version,
	RunE:    runReducer,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Scan the chain and reduce every affected entity",
	RunE:  runReducer,
}

var reduceCmd = &cobra.Command{
	Use:   "reduce <family> [id...]",
	Short: "Reduce entities of one family from the event log",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReduce,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Inspect and drain the reindex queue",
}

var reindexListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending reindex requests",
	RunE:  runReindexList,
}

var reindexRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Rebuild every entity with a pending reindex request",
	RunE:  runReindexRun,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entity families and their revert windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Entity families:")
		fams := &cfg.Families
		for _, f := range []struct {
			name string
			cfg  *pkgconfig.FamilyConfig
		}{
			{"item", &fams.Item},
			{"ownership", &fams.Ownership},
			{"token", &fams.Token},
			{"order", &fams.Order},
		} {
			state := "enabled"
			if !f.cfg.IsEnabled() {
				state = "disabled"
			}
			fmt.Printf("  - %-10s %-8s confirmation_depth=%d max_revertable_events=%d\n",
				f.name, state, f.cfg.ConfirmationDepth, f.cfg.MaxRevertableEvents)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ChainReducer v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	reduceCmd.Flags().BoolVar(&rebuildFlag, "rebuild", false, "re-derive the entities from genesis")
	reduceCmd.Flags().BoolVar(&allFlag, "all", false, "reduce every entity of the family found in the event log")
	reindexListCmd.Flags().IntVar(&limitFlag, "limit", 0, "maximum number of requests (0 lists all)")
	reindexRunCmd.Flags().IntVar(&limitFlag, "limit", 0, "maximum number of requests (0 drains all)")

	reindexCmd.AddCommand(reindexListCmd, reindexRunCmd)
	rootCmd.AddCommand(runCmd, reduceCmd, reindexCmd, listCmd, versionCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n\nShutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func setup() (context.Context, context.CancelFunc, *app, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signalContext()
	a, err := newApp(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, a, nil
}

func runReducer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	ctx, cancel, a, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.close()

	cfg := a.cfg
	log := a.log
	if cfg.Scanner == nil {
		return errors.New("the scanner section is required to run")
	}

	// Initialize metrics server if enabled
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics, logger.NewComponentLoggerFromConfig(common.ComponentDriver, cfg.Logging))
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("Metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("Connecting to Ethereum node...")
	ethClient, err := rpc.NewClient(ctx, cfg.Scanner.RPCURL, cfg.Scanner.Retry,
		logger.NewComponentLoggerFromConfig(common.ComponentRPC, cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer ethClient.Close()
	log.Infof("Connected to Ethereum node: %s", cfg.Scanner.RPCURL)

	detector := reorg.NewReorgDetector(
		a.db,
		ethClient,
		logger.NewComponentLoggerFromConfig(common.ComponentReorgDetector, cfg.Logging),
		a.maint,
	)
	defer detector.Close()

	scanner, err := ingest.NewScanner(
		*cfg.Scanner,
		ethClient,
		detector,
		a.events,
		a.dispatcher,
		logger.NewComponentLoggerFromConfig(common.ComponentScanner, cfg.Logging),
	)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	log.Infow("Starting ChainReducer...", "families", a.dispatcher.Families())
	if err := scanner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scanner failed: %w", err)
	}

	log.Info("ChainReducer stopped successfully")
	return nil
}

func runReduce(cmd *cobra.Command, args []string) error {
	ctx, cancel, a, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.close()

	family, ids := args[0], args[1:]
	u, err := a.updater(family)
	if err != nil {
		return err
	}

	if allFlag {
		if ids, err = a.events.EntityIDs(ctx, family); err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		return errors.New("no ids given; pass ids or --all")
	}

	if rebuildFlag {
		err = u.RebuildIDs(ctx, ids)
	} else {
		err = u.UpdateIDs(ctx, ids)
	}
	if err != nil {
		return fmt.Errorf("failed to reduce %s: %w", family, err)
	}

	fmt.Printf("Reduced %d %s entities\n", len(ids), family)
	return nil
}

func runReindexList(cmd *cobra.Command, args []string) error {
	ctx, cancel, a, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.close()

	tasks, err := a.queue.Pending(ctx, limitFlag)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No pending reindex requests")
		return nil
	}

	fmt.Printf("Pending reindex requests (%d):\n", len(tasks))
	for _, t := range tasks {
		fmt.Printf("  #%d %s %s event=%s block=%d created=%s\n    %s\n",
			t.ID, t.Family, t.EntityID, t.EventID, t.Ordinal.BlockNumber,
			t.CreatedAt.Format("2006-01-02 15:04:05"), t.Reason)
	}
	return nil
}

func runReindexRun(cmd *cobra.Command, args []string) error {
	ctx, cancel, a, err := setup()
	if err != nil {
		return err
	}
	defer cancel()
	defer a.close()

	done, err := a.queue.Drain(ctx, limitFlag, func(ctx context.Context, family string, ids []string) error {
		u, err := a.updater(family)
		if err != nil {
			return err
		}
		return u.RebuildIDs(ctx, ids)
	})
	fmt.Printf("Completed %d reindex request(s)\n", done)
	return err
}
