// fallguardd is the fall detection companion daemon. It runs the elder
// role (sample ingest, detection, confirmation, escalation), the caregiver
// role (escalation alarm) or both.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fallguard/internal/app"
	"fallguard/internal/config"
	"fallguard/internal/engine"
	"fallguard/internal/ingest"
	"fallguard/internal/logging"
	"fallguard/internal/metrics"
	"fallguard/internal/model"
	"fallguard/internal/motion"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "fallguardd",
		Short:        "Fall detection and caregiver alert daemon",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the configured role",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(mgr.Get().LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(ctx, mgr, logger, app.Options{Version: version})
			if err != nil {
				return err
			}
			logger.Info("fallguard starting", "version", version, "role", mgr.Get().Role, "config", mgr.Path())
			return a.Run(ctx)
		},
	}

	var start, persist bool
	bridgeCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Run the background sensor bridge service on its own",
		Long: `bridge runs the always-on half of background monitoring. It reads
motion samples from the configured ingest sources and publishes fall
signals to the Redis relay for a serve process to pick up. Monitoring
resumes on its own when the persisted flag is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.NewLogger(mgr.Get().LogLevel)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunBridge(ctx, mgr, logger, start, persist)
		},
	}
	bridgeCmd.Flags().BoolVar(&start, "start", false, "start monitoring even if the persisted flag is off")
	bridgeCmd.Flags().BoolVar(&persist, "persist", false, "with --start, persist the flag across reboots")

	replay := &cobra.Command{
		Use:   "replay FILE",
		Short: "Run a recorded sample file through the detector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runReplay(mgr.Get(), args[0])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(serve, bridgeCmd, replay, versionCmd)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Manager, error) {
	if path == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	mgr, err := config.NewManager(config.ResolvePath(path))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return mgr, nil
}

// runReplay prints each fall event as one JSON line on stdout and a summary
// on stderr.
func runReplay(cfg *config.Config, path string) error {
	feed := motion.NewFeed()
	eng := engine.NewEngine(cfg, nil, metrics.NewStore(cfg.Metrics.StoreLimit), nil, feed)
	enc := json.NewEncoder(os.Stdout)
	falls := 0
	eng.OnFallDetected(func(ev model.FallEvent) {
		falls++
		_ = enc.Encode(ev)
	})
	eng.Enable()
	defer eng.Disable()

	accepted, failed, err := ingest.ReplayFile(path, ingest.NewParser(), cfg, feed.Publish)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "replayed %d samples (%d unparsable), %d fall events\n", accepted, failed, falls)
	return nil
}
