package cmd

import (
	"fmt"
	"os"

	"github.com/psantana5/workgate/internal/config"
	"github.com/psantana5/workgate/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "workgate",
	Short: "HTTP service that serializes a timed unit of work",
	Long: `workgate serves GET /test. Every request waits for a single process-wide
gate, runs the work unit while holding it, and reports how long the whole
call took, waiting included.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.workgate/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("log-json", false, "log JSON lines instead of text")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))
}

// loadConfig resolves the effective configuration from the global viper
// instance, which carries every bound flag
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the component logger. File output falls back to stderr
// when no log directory is writable.
func newLogger(cfg config.LogConfig, component string) *logging.Logger {
	level := logging.ParseLevel(cfg.Level)
	if cfg.File {
		logger, err := logging.NewFileLogger(component, level, cfg.JSON)
		if err == nil {
			return logger
		}
		fmt.Fprintf(os.Stderr, "Warning: file logging unavailable, using stderr: %v\n", err)
	}
	return logging.NewLogger(level, cfg.JSON)
}
