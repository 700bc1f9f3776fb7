package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/saumyakr1232/can-msg-visualizer/cache"
	"github.com/saumyakr1232/can-msg-visualizer/cli/render"
	"github.com/saumyakr1232/can-msg-visualizer/config"
)

// CacheEntryView is the listing row for one committed cache entry.
type CacheEntryView struct {
	Key       string `json:"key"`
	Trace     string `json:"trace"`
	Samples   int64  `json:"samples"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
}

// CacheStatsView is the response for cache stats.
type CacheStatsView struct {
	Dir        string `json:"dir"`
	Entries    int    `json:"entries"`
	Samples    int64  `json:"samples"`
	TotalBytes int64  `json:"total_bytes"`
}

// CacheCommand returns the cache command with subcommands.
func CacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect and manage the decoded-sample cache",
		Subcommands: []*cli.Command{
			cacheListCommand(),
			cacheStatsCommand(),
			cacheClearCommand(),
			cacheClearAllCommand(),
		},
	}
}

// loadConfig reads --config when given, otherwise returns defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

// resolveCacheDir picks the cache directory: flag, then config, then
// the platform user cache directory.
func resolveCacheDir(c *cli.Context, cfg *config.Config) (string, error) {
	if dir := c.String("cache-dir"); dir != "" {
		return dir, nil
	}
	if cfg.Cache.Dir != "" {
		return cfg.Cache.Dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve user cache dir: %w", err)
	}
	return filepath.Join(base, "canstream"), nil
}

func openCacheStore(c *cli.Context) (*cache.Store, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	dir, err := resolveCacheDir(c, cfg)
	if err != nil {
		return nil, err
	}
	return cache.NewStore(dir)
}

func cacheListCommand() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "List committed cache entries",
		Flags:  append(ReadOnlyFlags(), ConfigFlag, CacheDirFlag),
		Action: cacheListAction,
	}
}

func cacheListAction(c *cli.Context) error {
	store, err := openCacheStore(c)
	if err != nil {
		return err
	}
	entries, err := store.ListEntries()
	if err != nil {
		return err
	}

	views := make([]CacheEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, CacheEntryView{
			Key:       e.Key,
			Trace:     e.Fingerprint.Path,
			Samples:   e.SampleCount,
			SizeBytes: e.SizeBytes,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(views)
}

func cacheStatsCommand() *cli.Command {
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show aggregate cache statistics",
		Flags:  append(ReadOnlyFlags(), ConfigFlag, CacheDirFlag),
		Action: cacheStatsAction,
	}
}

func cacheStatsAction(c *cli.Context) error {
	store, err := openCacheStore(c)
	if err != nil {
		return err
	}
	stats, err := store.ComputeStats()
	if err != nil {
		return err
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(CacheStatsView{
		Dir:        store.Dir(),
		Entries:    stats.Entries,
		Samples:    stats.Samples,
		TotalBytes: stats.TotalBytes,
	})
}

func cacheClearCommand() *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "Remove one cache entry by key",
		ArgsUsage: "<key>",
		Flags:     []cli.Flag{ConfigFlag, CacheDirFlag},
		Action:    cacheClearAction,
	}
}

func cacheClearAction(c *cli.Context) error {
	key := c.Args().First()
	if key == "" {
		return cli.Exit("usage: canstream cache clear <key>", 1)
	}
	store, err := openCacheStore(c)
	if err != nil {
		return err
	}
	if err := store.Clear(key); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "removed %s\n", key)
	return nil
}

func cacheClearAllCommand() *cli.Command {
	return &cli.Command{
		Name:   "clear-all",
		Usage:  "Remove every cache entry",
		Flags:  []cli.Flag{ConfigFlag, CacheDirFlag},
		Action: cacheClearAllAction,
	}
}

func cacheClearAllAction(c *cli.Context) error {
	store, err := openCacheStore(c)
	if err != nil {
		return err
	}
	removed, err := store.ClearAll()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "removed %d entries\n", removed)
	return nil
}
