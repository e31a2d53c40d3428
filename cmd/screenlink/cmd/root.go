package cmd

import (
	"fmt"
	"os"

	"screenlink/internal/app"
	"screenlink/pkg/config"
	"screenlink/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile     string
	logLevel    string
	metricsAddr string

	cfg   *config.Config
	log   *zap.SugaredLogger
	telem *telemetry
)

var rootCmd = &cobra.Command{
	Use:   "screenlink",
	Short: "Share a screen with one viewer through an access code.",
	Long: `screenlink pairs a host and a viewer by a short access code.

The host publishes a screen recording and prints the code. The viewer
joins with that code and records what it receives.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := app.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		log = logger.NewWithFormat(cfg.Logging.Level, "console").Sugar()
		telem = startTelemetry(metricsAddr)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if telem != nil {
			telem.Stop()
			telem = nil
		}
		if log != nil {
			_ = log.Sync()
		}
	},
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
}
