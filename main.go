package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ossyrian/evoswf/internal/cache"
	"github.com/ossyrian/evoswf/internal/config"
	"github.com/ossyrian/evoswf/internal/detect"
	"github.com/ossyrian/evoswf/internal/logging"
	"github.com/ossyrian/evoswf/internal/manifest"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "evoswf",
	Short:         "Extract, decrypt and rebuild Evony SWF clients",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	// detection
	rootCmd.PersistentFlags().Int("workers", 1, "tags (or files, for a directory input) processed in parallel")
	rootCmd.PersistentFlags().String("cache-dir", "", "directory of the persistent classification cache (default in-memory)")
	rootCmd.PersistentFlags().Duration("cache-ttl", cache.DefaultTTL, "how long cached classifications stay valid")
	rootCmd.PersistentFlags().Bool("position-xor", false, "also try position-seeded XOR schemes on unknown high-entropy tags")

	// SWF header handling
	rootCmd.PersistentFlags().Float64("size-tolerance-min", 0.5, "lowest accepted ratio of body size to declared size")
	rootCmd.PersistentFlags().Float64("size-tolerance-max", 2.0, "highest accepted ratio of body size to declared size")
	rootCmd.PersistentFlags().String("length-field", "disk", "what a rebuilt header's length declares (disk, body)")

	// other opts
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")
	rootCmd.PersistentFlags().Bool("dry-run", false, "parse without writing output (validation)")

	viper.BindPFlag("workers", rootCmd.PersistentFlags().Lookup("workers"))
	viper.BindPFlag("cache_dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("cache_ttl", rootCmd.PersistentFlags().Lookup("cache-ttl"))
	viper.BindPFlag("position_xor", rootCmd.PersistentFlags().Lookup("position-xor"))
	viper.BindPFlag("size_tolerance_min", rootCmd.PersistentFlags().Lookup("size-tolerance-min"))
	viper.BindPFlag("size_tolerance_max", rootCmd.PersistentFlags().Lookup("size-tolerance-max"))
	viper.BindPFlag("length_field", rootCmd.PersistentFlags().Lookup("length-field"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_output_dir", rootCmd.PersistentFlags().Lookup("log-output-dir"))
	viper.BindPFlag("dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))

	rootCmd.AddCommand(extractCmd, rebuildCmd, inspectCmd)
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "evoswf"))
		}
		viper.AddConfigPath("/etc/evoswf")
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
	}

	viper.SetEnvPrefix("EVOSWF")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// env is what every subcommand runs with.
type env struct {
	fs    afero.Fs
	cache cache.Cache
	opts  manifest.Options
	close func()
}

// setup decodes the config, installs logging and opens the
// classification cache.
func setup() (*env, error) {
	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	fs := afero.NewOsFs()

	closeLog, err := logging.Setup(fs, os.Stderr, cfg.LogLevel, cfg.LogOutputDir)
	if err != nil {
		return nil, fmt.Errorf("could not set up logging: %w", err)
	}

	parserOpts, err := cfg.ParserOptions()
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var c cache.Cache
	if cfg.CacheDir != "" {
		c, err = cache.OpenBadger(cfg.CacheDir, cfg.CacheTTL, slog.Default())
	} else {
		c, err = cache.NewMemory(cache.DefaultMaxEntries, cfg.CacheTTL)
	}
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("could not open cache: %w", err)
	}

	classifier := detect.NewClassifier(detect.Options{
		Cache:       c,
		Logger:      slog.Default(),
		PositionXOR: cfg.PositionXOR,
	})

	return &env{
		fs:    fs,
		cache: c,
		opts: manifest.Options{
			Parser:     parserOpts,
			Classifier: classifier,
			Workers:    cfg.Workers,
			DryRun:     cfg.DryRun,
			Logger:     slog.Default(),
		},
		close: func() {
			if err := c.Close(); err != nil {
				slog.Warn("failed to close cache", "error", err)
			}
			closeLog()
		},
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
