package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/alecf/sdfcache/internal/cache"
	"github.com/alecf/sdfcache/internal/config"
	"github.com/alecf/sdfcache/internal/grid"
	"github.com/alecf/sdfcache/internal/hash"
	"github.com/alecf/sdfcache/internal/output"
	"github.com/alecf/sdfcache/internal/spinner"
	"github.com/alecf/sdfcache/internal/usage"
)

// target holds the resolution flags shared by get and key
type target struct {
	nx, ny, nz uint32
	padding    int32
}

func (t *target) register(cmd *cobra.Command) {
	cmd.Flags().Uint32Var(&t.nx, "nx", 64, "target cells along X")
	cmd.Flags().Uint32Var(&t.ny, "ny", 64, "target cells along Y")
	cmd.Flags().Uint32Var(&t.nz, "nz", 64, "target cells along Z")
	cmd.Flags().Int32Var(&t.padding, "padding", 1, "padding cells on each side (minimum 1)")
}

func getCmd() *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "get <mesh.stl>",
		Short: "Print the path of the SDF grid for a mesh, generating it if needed",
		Long: `Look up the SDF grid for a binary STL mesh at the requested resolution.
On a cache miss the configured generator_command is run and the result is
stored in the cache directory.

Example:
  sdfcache get meshes/bunny.stl --nx 128 --ny 96 --nz 128 --padding 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			meshPath := args[0]
			spin := spinner.NewWithWriter(cmd.ErrOrStderr(), fmt.Sprintf("Resolving SDF for %s...", filepath.Base(meshPath)))
			if !quiet && !verbose && !debug && !jsonOut {
				spin.Start()
			}
			res, err := sess.store.Resolve(cmd.Context(), meshPath, t.nx, t.ny, t.nz, t.padding)
			spin.Stop()
			if err != nil {
				return fmt.Errorf("failed to get SDF: %w", err)
			}

			if jsonOut {
				out, err := output.FormatJSON(output.NewGetOutput(res))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}

			if verbose {
				state := "generated"
				if res.Hit {
					state = "cache hit"
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s)\n", state, res.Key)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Path)
			return nil
		},
	}
	t.register(cmd)
	return cmd
}

// KeyOutput is the JSON form of the key command
type KeyOutput struct {
	Key   string `json:"key"`
	Short string `json:"short"`
	Entry string `json:"entry"`
}

func keyCmd() *cobra.Command {
	var t target
	cmd := &cobra.Command{
		Use:   "key <mesh.stl>",
		Short: "Print the cache key and entry name for a mesh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			padding := cache.ClampPadding(t.padding)
			key, err := cache.GenerateKey(args[0], t.nx, t.ny, t.nz, padding)
			if err != nil {
				return err
			}

			dims := cache.Dims{NX: int(t.nx), NY: int(t.ny), NZ: int(t.nz)}.Padded(padding)
			out := KeyOutput{
				Key:   key.String(),
				Short: key.Short(),
				Entry: cache.EntryName(cache.MeshBasename(args[0]), dims, key, true),
			}

			if jsonOut {
				s, err := output.FormatJSON(out)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", out.Key, out.Entry)
			return nil
		},
	}
	t.register(cmd)
	return cmd
}

func hashCmd() *cobra.Command {
	var seed uint64
	cmd := &cobra.Command{
		Use:   "hash <mesh.stl>...",
		Short: "Print the content hash of STL files, ignoring their headers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				h, err := hash.MeshFile(path, seed)
				if err != nil {
					return fmt.Errorf("failed to hash %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%016x  %s\n", h, path)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "xxHash64 seed")
	return cmd
}

func infoCmd() *cobra.Command {
	var headerOnly bool
	cmd := &cobra.Command{
		Use:   "info <grid.sdf>",
		Short: "Describe an SDF grid file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			var out output.GridOutput
			if headerOnly {
				h, err := grid.ReadFileHeader(path)
				if err != nil {
					return err
				}
				out = output.NewGridOutput(path, h, nil)
			} else {
				g, err := grid.ReadFile(path)
				if err != nil {
					return err
				}
				out = output.NewGridOutput(path, g.Header, g)
			}

			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()
			if sess.ledger != nil && inDir(path, sess.cfg.CacheDirectory) {
				if rec, err := sess.ledger.Get(filepath.Base(path)); err == nil {
					out.Hits = &rec.Hits
					out.GeneratedAt = &rec.CreatedAt
				}
			}

			if jsonOut {
				s, err := output.FormatJSON(out)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), output.FormatGrid(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&headerOnly, "header-only", false, "read only the header")
	return cmd
}

// addUsage fills in the ledger record of a grid that lives in the cache
// directory. Nothing is created when the ledger does not exist.
func addUsage(out *output.GridOutput, path string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.EnableCache || !cfg.TrackUsage || !inDir(path, cfg.CacheDirectory) {
		return nil
	}
	if _, err := os.Stat(filepath.Join(cfg.CacheDirectory, usage.FileName)); err != nil {
		return nil
	}

	ledger, err := usage.Open(cfg.CacheDirectory)
	if err != nil {
		return nil
	}
	defer ledger.Close()
	if rec, err := ledger.Get(filepath.Base(path)); err == nil {
		out.Hits = &rec.Hits
		out.GeneratedAt = &rec.CreatedAt
	}
	return nil
}

// inDir reports whether path names a file directly inside dir
func inDir(path, dir string) bool {
	p, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return false
	}
	d, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return p == d
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cache-stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			stats, err := sess.store.GetStats()
			if err != nil {
				return fmt.Errorf("failed to get cache stats: %w", err)
			}

			if jsonOut {
				s, err := output.FormatJSON(output.StatsOutput{
					Directory: sess.cfg.CacheDirectory,
					Stats:     stats,
					SizeMB:    stats.TotalSizeMB(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), output.FormatStats(sess.cfg.CacheDirectory, stats))
			return nil
		},
	}
}

func clearCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache [basename]",
		Short: "Delete cached grids",
		Long: `Delete the cached grids generated from meshes named <basename>, or every
cached grid when no basename is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.Close()

			var removed int
			if len(args) == 1 {
				removed, err = sess.store.Clear(args[0])
			} else {
				removed, err = sess.store.ClearAll()
			}
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached entries\n", removed)
			return nil
		},
	}
}

func initConfigCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = config.GetConfigPath()
			}

			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("config file %s already exists (use --overwrite to replace it)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to check config file: %w", err)
			}

			save := config.Save
			if cfgFile != "" {
				save = func(cfg *config.Config) error { return config.SaveFile(cfgFile, cfg) }
			}
			if err := save(config.Default()); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration saved to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing config file")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report grids added to or removed from the cache directory",
		Long: `Rescan the cache directory, then print a line for every grid another
process adds ("+") or removes ("-") until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			sess, err := openSession(cmd, cache.WithChangeHook(func(name string, added bool) {
				mu.Lock()
				defer mu.Unlock()
				op := "-"
				if added {
					op = "+"
				}
				fmt.Fprintf(out, "%s %s\n", op, name)
			}))
			if err != nil {
				return err
			}
			defer sess.Close()

			done, err := sess.store.Watch(ctx)
			if err != nil {
				return fmt.Errorf("failed to watch cache directory: %w", err)
			}
			if err := sess.store.Reindex(); err != nil {
				return fmt.Errorf("failed to scan cache directory: %w", err)
			}

			stats, err := sess.store.GetStats()
			if err != nil {
				return fmt.Errorf("failed to get cache stats: %w", err)
			}
			mu.Lock()
			fmt.Fprintf(out, "Watching %s (%d entries, %s)\n", sess.cfg.CacheDirectory, stats.TotalEntries, humanize.IBytes(uint64(stats.TotalSizeBytes)))
			mu.Unlock()

			<-done
			return nil
		},
	}
}
