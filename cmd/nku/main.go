package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"nku/internal/config"
	"nku/internal/logging"
)

var (
	// Global flags
	configPath string
	prefsDir   string
	verbose    bool
	logFile    string

	// cfg is loaded once in PersistentPreRunE.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "nku",
	Short: "nku - offline patient screening for community health workers",
	Long: `nku screens a patient from camera and microphone readings plus reported
symptoms, and returns a triage category with referral advice.

Reasoning runs on-device when the model fits the device's temperature and
memory budget. Otherwise a deterministic rule-based screening is used, so an
assessment is always produced.

Every result is a screening aid, not a diagnosis.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		if verbose {
			loaded.Logging.DebugMode = true
		}
		if logFile != "" {
			loaded.Logging.File = logFile
		}
		cfg = loaded

		if err := logging.Initialize(logging.Options{
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
			File:       cfg.Logging.File,
			DebugMode:  cfg.Logging.DebugMode,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logging.CLIDebug("command %s (config=%s)", cmd.CommandPath(), configPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "nku.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&prefsDir, "prefs-dir", "data", "Directory holding device preferences")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")

	rootCmd.AddCommand(
		triageCmd,
		modelCmd,
		thermalCmd,
		guardCmd,
		prefsCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
