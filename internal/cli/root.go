package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alecf/sdfcache/internal/cache"
	"github.com/alecf/sdfcache/internal/config"
	"github.com/alecf/sdfcache/internal/levelset"
	"github.com/alecf/sdfcache/internal/usage"
)

var (
	cfgFile  string
	cacheDir string
	noCache  bool
	force    bool
	verbose  bool
	debug    bool
	quiet    bool
	jsonOut  bool
)

// newGenerator builds the level-set generator from the configuration
var newGenerator = func(cfg *config.Config) levelset.Generator {
	return levelset.NewCommand(cfg.GeneratorCommand)
}

func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	viper.Reset()

	rootCmd := &cobra.Command{
		Use:   "sdfcache [flags] <command>",
		Short: "Content-addressed cache of signed distance fields",
		Long: `sdfcache returns signed distance field grids for binary STL meshes,
generating them with an external level-set generator only when the cache
has no entry for the mesh contents and target resolution.

Example:
  sdfcache get meshes/bunny.stl --nx 64 --ny 64 --nz 64 --padding 1`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/sdfcache/config.toml)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "cache directory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "bypass the cache and write grids beside the mesh")
	rootCmd.PersistentFlags().BoolVar(&force, "force", false, "regenerate even when a cached grid exists")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show operation details")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "show debug diagnostics")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress messages")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "JSON output")

	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(hashCmd())
	rootCmd.AddCommand(infoCmd())
	rootCmd.AddCommand(cacheStatsCmd())
	rootCmd.AddCommand(clearCacheCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(initConfigCmd())

	// Bind flags to viper
	viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	viper.BindPFlag("no-cache", rootCmd.PersistentFlags().Lookup("no-cache"))
	viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// Environment variable support
	viper.SetEnvPrefix("SDFCACHE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	return rootCmd
}

// loadConfig reads the config file and applies flag and environment overrides
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if dir := viper.GetString("cache-dir"); dir != "" {
		cfg.CacheDirectory = dir
	}
	if viper.GetBool("no-cache") {
		cfg.EnableCache = false
	}
	if viper.GetBool("force") {
		cfg.ForceRegenerate = true
	}
	if viper.GetBool("verbose") {
		cfg.Verbose = true
	}
	return cfg, nil
}

// newLogger logs warnings by default, info with --verbose and everything with --debug
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case viper.GetBool("debug"):
		level = slog.LevelDebug
	case cfg.Verbose:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// session bundles a store with the resources backing it
type session struct {
	cfg    *config.Config
	store  *cache.Store
	ledger *usage.Ledger
	logger *slog.Logger
}

func (s *session) Close() {
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			s.logger.Warn("failed to close usage ledger", "error", err)
		}
	}
}

// openSession builds the store described by the configuration
func openSession(cmd *cobra.Command, extra ...cache.Option) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg)
	opts := []cache.Option{
		cache.WithLogger(logger),
		cache.WithBandWidth(cfg.GetBandWidth()),
		cache.WithBackend(cfg.LevelSetBackend()),
	}

	opts = append(opts, extra...)

	var ledger *usage.Ledger
	if cfg.EnableCache && cfg.TrackUsage {
		if err := os.MkdirAll(cfg.CacheDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		ledger, err = usage.Open(cfg.CacheDirectory)
		if err != nil {
			// Usage tracking is optional
			logger.Warn("usage tracking disabled", "error", err)
			ledger = nil
		} else {
			opts = append(opts, cache.WithUsage(ledger))
		}
	}

	store, err := cache.New(cfg.CacheConfig(), newGenerator(cfg), opts...)
	if err != nil {
		if ledger != nil {
			ledger.Close()
		}
		return nil, err
	}

	return &session{cfg: cfg, store: store, ledger: ledger, logger: logger}, nil
}
