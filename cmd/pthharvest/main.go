package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chrisconley/rhizome/internal"
	"github.com/chrisconley/rhizome/internal/infra"
	specs "github.com/chrisconley/rhizome/specs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	verbose    bool
	testMode   bool
	only       string
	limit      int
	dbPath     string
	offline    bool
	resume     bool
	quiet      bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pthharvest",
	Short: "Harvest and filter Portal to Texas History records",
	Long: `pthharvest crawls the Portal's OAI-PMH ListRecords feed into numbered
checkpoints, classifies every record against the configured rule-groups,
checks each group's expected result count, and stores the accepted records.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = infra.NewLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Fetch every page, then classify, validate and store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), offline, resume)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Classify, validate and store existing checkpoints without network access",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), true, false)
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and list its rule-groups",
	Args:  cobra.NoArgs,
	RunE:  runCheckConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/pth.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&testMode, "test-mode", false, "Fail the run on any validation discrepancy")
	rootCmd.PersistentFlags().StringVar(&only, "only", "", "Check a single rule-group, e.g. partner:HHCT")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "data/rhizome.db", "SQLite result database (empty disables storage)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")

	harvestCmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many records (0 means no limit)")
	harvestCmd.Flags().BoolVar(&offline, "offline", false, "Use existing checkpoints only")
	harvestCmd.Flags().BoolVar(&resume, "resume", false, "Continue a truncated harvest instead of starting over")

	rootCmd.AddCommand(harvestCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", internal.Diagnose(err), err)
		os.Exit(1)
	}
}

func loadConfig() (specs.AppConfigSpec, error) {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return specs.AppConfigSpec{}, err
	}
	if testMode {
		cfg.Harvest.TestMode = true
	}
	if limit > 0 {
		cfg.Harvest.RecordLimit = limit
	}
	return cfg, nil
}

func run(ctx context.Context, replay bool, resumeRun bool) error {
	if replay && resumeRun {
		return fmt.Errorf("%w: --offline and --resume cannot be combined", internal.ErrInvalidConfig)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if replay {
		cfg.Harvest.Offline = true
	}

	settings, err := internal.NewHarvestSettings(cfg.Harvest)
	if err != nil {
		return err
	}

	var lister internal.PageLister
	if !settings.Offline() {
		client, err := infra.NewClient(infra.ClientOptions{
			BaseURL:        settings.BaseURL(),
			MetadataPrefix: settings.MetadataPrefix(),
			Timeout:        settings.RequestTimeout(),
			MaxRetries:     settings.MaxRetries(),
			InitialBackoff: settings.InitialBackoff(),
			Logger:         logger,
		})
		if err != nil {
			return err
		}
		lister = client
	}

	bus := infra.NewBus()
	opts := []internal.PipelineOption{
		internal.WithBus(bus),
		internal.WithLogger(logger),
	}
	if dbPath != "" {
		store, err := infra.OpenSQLiteStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		opts = append(opts, internal.WithSink(store))
	}

	checkpoints := infra.NewFileCheckpointStore(settings.CheckpointDir())
	pipeline, err := internal.NewPipeline(cfg, lister, checkpoints, opts...)
	if err != nil {
		return err
	}
	if only != "" {
		if err := pipeline.Isolate(only); err != nil {
			return err
		}
	}

	bus.Subscribe(infra.DiscrepancyFound, func(e infra.Event) {
		d := e.(internal.DiscrepancyFoundEvent).Discrepancy
		logger.Debug("discrepancy found", zap.String("group", d.Group), zap.String("kind", d.Kind))
	})
	if !quiet {
		finish := attachProgress(bus, os.Stderr)
		defer finish()
	}

	var summary specs.RunSummarySpec
	if resumeRun {
		summary, err = pipeline.Resume(ctx)
	} else {
		summary, err = pipeline.Run(ctx)
	}
	if err != nil {
		var verr *internal.ValidationError
		if errors.As(err, &verr) {
			for _, d := range verr.Discrepancies {
				fmt.Fprintln(os.Stderr, d.Message)
			}
		}
		return err
	}

	fmt.Printf("run %s: %d pages, %d records fetched, %d accepted (ratio %s), %d discrepancies\n",
		summary.RunID, summary.Pages, summary.Fetched, summary.Accepted, summary.AcceptanceRatio, len(summary.Discrepancies))
	return nil
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	settings, err := internal.NewHarvestSettings(cfg.Harvest)
	if err != nil {
		return err
	}
	rules, err := internal.NewRuleConfig(cfg.Rules)
	if err != nil {
		return err
	}
	if _, err := internal.NewPostProcessor(cfg.PostProcess); err != nil {
		return err
	}
	if only != "" {
		key, err := internal.ParseRuleGroupKey(only)
		if err != nil {
			return err
		}
		if rules, err = rules.Isolate(key); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "endpoint: %s (prefix %s)\n", settings.BaseURL(), settings.MetadataPrefix())
	fmt.Fprintf(out, "checkpoints: %s\n", settings.CheckpointDir())
	for _, g := range rules.Groups() {
		state := "active"
		if !g.Active() {
			state = "ignored"
		}
		fmt.Fprintf(out, "%-20s %-8s filters=%d expect=%s\n",
			g.Key().ToString(), state, len(g.Filters()), g.Expectation().ToString())
	}
	return nil
}
