package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/cognitriage-api/internal/bootstrap"
	"github.com/target/cognitriage-api/internal/domain/model"
)

const (
	scanCount          = 100
	defaultDeleteBatch = 500
	redisCmdTimeout    = 2 * time.Minute
)

func literatureCachePattern() string {
	return bootstrap.LiteratureCachePrefix + "*"
}

type cacheEntry struct {
	Key       string
	TTL       time.Duration
	Citations int
	Err       error
}

type cacheScanRequest struct {
	Ctx    context.Context
	Client redis.UniversalClient
	Logger *slog.Logger
	Limit  int
}

func runListLiteratureCache(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-literature-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	limit := fs.Int("limit", 50, "Maximum number of keys to print (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit < 0 {
		return errors.New("--limit must be >= 0")
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, redisCmdTimeout)
	defer cancel()

	client, err := maybeConnectRedis(cmdCtx.Logger, &cmdCtx.Config.Redis)
	if errors.Is(err, errRedisNotConfigured) {
		return writeln(os.Stderr, "Redis client is not available")
	}
	if err != nil {
		return err
	}
	defer closeRedis(client, cmdCtx.Logger)

	entries, total, err := scanLiteratureCache(&cacheScanRequest{
		Ctx:    ctx,
		Client: client,
		Logger: cmdCtx.Logger,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	return renderCacheEntries(cmdCtx.Out, entries, total)
}

func scanLiteratureCache(req *cacheScanRequest) ([]cacheEntry, int, error) {
	req.Logger.Info("scanning redis", "pattern", literatureCachePattern())

	iter := req.Client.Scan(req.Ctx, 0, literatureCachePattern(), scanCount).Iterator()
	var entries []cacheEntry
	total := 0
	for iter.Next(req.Ctx) {
		total++
		if req.Limit > 0 && len(entries) >= req.Limit {
			continue
		}
		entries = append(entries, inspectCacheKey(req.Ctx, req.Client, iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, 0, fmt.Errorf("redis scan: %w", err)
	}
	return entries, total, nil
}

func inspectCacheKey(ctx context.Context, client redis.UniversalClient, key string) cacheEntry {
	entry := cacheEntry{Key: key}
	ttl, err := client.TTL(ctx, key).Result()
	if err != nil {
		entry.Err = err
		return entry
	}
	entry.TTL = ttl

	raw, err := client.Get(ctx, key).Bytes()
	if err != nil {
		entry.Err = err
		return entry
	}
	var citations []model.Citation
	if err := json.Unmarshal(raw, &citations); err != nil {
		entry.Err = fmt.Errorf("decode: %w", err)
		return entry
	}
	entry.Citations = len(citations)
	return entry
}

func renderCacheEntries(w io.Writer, entries []cacheEntry, total int) error {
	if err := writef(w, "\nLiterature cache (%s)\n", literatureCachePattern()); err != nil {
		return err
	}
	if total == 0 {
		return writeln(w, "(no keys found)")
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "KEY\tTTL\tCITATIONS"); err != nil {
		return err
	}
	for _, e := range entries {
		if e.Err != nil {
			if err := writef(tw, "%s\t-\terror: %v\n", e.Key, e.Err); err != nil {
				return err
			}
			continue
		}
		if err := writef(tw, "%s\t%s\t%d\n", e.Key, renderTTL(e.TTL), e.Citations); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(entries) < total {
		return writef(w, "\nShowing %d of %d keys\n", len(entries), total)
	}
	return writef(w, "\nTotal keys: %d\n", total)
}

type cacheClearOptions struct {
	DryRun bool
	Yes    bool
}

func (o cacheClearOptions) IsDryRun() bool { return o.DryRun }
func (o cacheClearOptions) IsYes() bool    { return o.Yes }
func (o cacheClearOptions) GetWarning() string {
	return "WARNING: this will delete every cached literature lookup; the next searches go upstream."
}

func parseCacheClearFlags(args []string) (cacheClearOptions, error) {
	fs := flag.NewFlagSet("clear-literature-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts cacheClearOptions
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Print actions without executing")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return cacheClearOptions{}, err
	}
	return opts, nil
}

type cacheDeleteStats struct {
	total    int
	deleted  int64
	failures int
}

type cacheDeleteRequest struct {
	Ctx      context.Context
	Client   redis.UniversalClient
	Logger   *slog.Logger
	DryRun   bool
	BatchCap int
}

func runClearLiteratureCache(cmdCtx *commandContext, args []string) error {
	opts, err := parseCacheClearFlags(args)
	if err != nil {
		return err
	}
	if err := confirmAction(opts, os.Stdin, cmdCtx.Out); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, redisCmdTimeout)
	defer cancel()

	client, err := maybeConnectRedis(cmdCtx.Logger, &cmdCtx.Config.Redis)
	if errors.Is(err, errRedisNotConfigured) {
		return writeln(os.Stderr, "Redis client is not available")
	}
	if err != nil {
		return err
	}
	defer closeRedis(client, cmdCtx.Logger)

	stats, err := deleteLiteratureCache(&cacheDeleteRequest{
		Ctx:      ctx,
		Client:   client,
		Logger:   cmdCtx.Logger,
		DryRun:   opts.DryRun,
		BatchCap: defaultDeleteBatch,
	})
	if err != nil {
		return err
	}
	return printDeleteSummary(cmdCtx.Out, stats, opts.DryRun)
}

func deleteLiteratureCache(req *cacheDeleteRequest) (cacheDeleteStats, error) {
	batchCap := req.BatchCap
	if batchCap <= 0 {
		batchCap = defaultDeleteBatch
	}
	req.Logger.Info("scanning redis", "pattern", literatureCachePattern(), "dry_run", req.DryRun)

	var stats cacheDeleteStats
	iter := req.Client.Scan(req.Ctx, 0, literatureCachePattern(), scanCount).Iterator()
	batch := make([]string, 0, batchCap)
	for iter.Next(req.Ctx) {
		stats.total++
		batch = append(batch, iter.Val())
		if len(batch) == batchCap {
			req.flush(batch, &stats)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("redis scan: %w", err)
	}
	req.flush(batch, &stats)
	return stats, nil
}

func (req *cacheDeleteRequest) flush(batch []string, stats *cacheDeleteStats) {
	if len(batch) == 0 {
		return
	}
	if req.DryRun {
		stats.deleted += int64(len(batch))
		return
	}
	n, err := req.Client.Del(req.Ctx, batch...).Result()
	if err != nil {
		stats.failures++
		req.Logger.Error("failed to delete literature cache keys", "count", len(batch), "error", err)
		return
	}
	stats.deleted += n
}

func printDeleteSummary(w io.Writer, stats cacheDeleteStats, dryRun bool) error {
	if stats.total == 0 {
		return writeln(w, "No literature cache keys found in Redis")
	}
	if dryRun {
		return writef(w, "Dry-run: would delete %d/%d keys\n", stats.deleted, stats.total)
	}
	if err := writef(w, "Deleted %d/%d keys\n", stats.deleted, stats.total); err != nil {
		return err
	}
	if stats.failures > 0 {
		return fmt.Errorf("%d delete batches failed", stats.failures)
	}
	return nil
}
