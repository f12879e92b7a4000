// Package cmd implements the pagecraft command line.
//
// Configuration comes from, in increasing precedence: built-in defaults,
// .pagecraft.yml (or the file named by --config or PAGECRAFT_CONFIG_FILE),
// PAGECRAFT_<SECTION>_<KEY> environment variables, and flags.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/pagecraft/internal/config"
	"github.com/conneroisu/pagecraft/internal/logging"
	"github.com/conneroisu/pagecraft/internal/persist"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pagecraft",
	Short: "Collaborative page editing hub and tools",
	Long: `pagecraft keeps the element trees of web pages convergent across every
editor connected to them.

Quick Start:
  pagecraft serve                          Start the hub, API and preview server
  pagecraft page create home -P acme       Register a page
  pagecraft join -P acme home              Attach a headless editor to a page
  pagecraft inspect -P acme home           Dump the stored element tree
  pagecraft templates                      List the element template library`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .pagecraft.yml, can also use PAGECRAFT_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PAGECRAFT_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pagecraft")
	}

	viper.SetEnvPrefix("PAGECRAFT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing file is fine; defaults and the environment still apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) logging.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// openPages opens the configured page storage.
func openPages(cfg *config.Config) (persist.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return persist.NewMemory(), nil
	case "sqlite":
		db, err := persist.OpenSQLite(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Storage.Path, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
