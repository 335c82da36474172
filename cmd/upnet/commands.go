package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/applicator"
	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/manifest"
	"github.com/freewebtopdf/upnet/internal/metrics"
	"github.com/freewebtopdf/upnet/internal/source"
)

// targetOptions select the install directory and the manifest location
type targetOptions struct {
	Dir      string `short:"d" long:"dir" description:"Install directory (default: $UPNET_TARGET_DIR)"`
	Manifest string `short:"f" long:"manifest" description:"Manifest file path or http(s) URL (default: $UPNET_MANIFEST)"`
	Refresh  bool   `long:"refresh" description:"Discard the cached manifest before loading"`
}

// newApplicator builds an Applicator from configuration overridden by flags.
// The manifest cache is nil unless a cache directory is configured.
func (a *app) newApplicator(target targetOptions, post string, delay time.Duration) (*applicator.Applicator, *source.ManifestCache, error) {
	dir := a.cfg.Apply.TargetDir
	if target.Dir != "" {
		dir = target.Dir
	}
	location := a.cfg.Apply.Manifest
	if target.Manifest != "" {
		location = target.Manifest
	}

	ds, err := source.Open(location, a.cfg.SourceOptions())
	if err != nil {
		return nil, nil, usagef("%v", err)
	}

	var cache *source.ManifestCache
	if cached, ok := ds.(*source.Cached); ok {
		cache = cached.Cache()
		if target.Refresh {
			if err := cache.Invalidate(context.Background()); err != nil {
				return nil, nil, err
			}
			log.Debug().Msg("Cached manifest discarded")
		}
	}

	opts := applicator.Options{
		TargetDir:    dir,
		Source:       ds,
		InitialDelay: delay,
		PostCommand:  post,
	}
	if a.cfg.Metrics.Textfile != "" {
		opts.Metrics = metrics.NewRecorder()
		opts.MetricsTextfile = a.cfg.Metrics.Textfile
	}

	app, err := applicator.New(opts)
	if err != nil {
		return nil, nil, usagef("%v", err)
	}
	log.Debug().Str("target", app.TargetDir()).Str("manifest", location).Msg("Update source opened")
	return app, cache, nil
}

// signalContext is cancelled on SIGINT or SIGTERM, and after timeout when positive
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

type cmdApply struct {
	targetOptions
	Post    string `short:"p" long:"post" description:"Command run in the install directory after a successful update (default: $UPNET_POST_COMMAND)"`
	DelayMs int    `short:"t" long:"delay" default:"-1" description:"Initial delay in milliseconds (default: $UPNET_INITIAL_DELAY)"`

	app *app
}

func (cmd *cmdApply) Execute([]string) error {
	post := cmd.app.cfg.Apply.PostCommand
	if cmd.Post != "" {
		post = cmd.Post
	}
	delay := cmd.app.cfg.Apply.InitialDelay
	if cmd.DelayMs >= 0 {
		delay = time.Duration(cmd.DelayMs) * time.Millisecond
	}

	app, _, err := cmd.app.newApplicator(cmd.targetOptions, post, delay)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.app.cfg.Apply.Timeout)
	defer cancel()

	report, err := app.Run(ctx)
	if err != nil {
		return err
	}

	if report.Changed() {
		fmt.Fprintf(cmd.app.stdout, "Updated %s -> %s (%d patches in %s)\n",
			report.From, report.To, report.Patches, report.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(cmd.app.stdout, "Already up to date (%s)\n", report.To)
	}
	return nil
}

type cmdCheck struct {
	targetOptions

	app *app
}

func (cmd *cmdCheck) Execute([]string) error {
	app, cache, err := cmd.app.newApplicator(cmd.targetOptions, "", 0)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.app.cfg.Apply.Timeout)
	defer cancel()

	result, err := app.Check(ctx)
	if err != nil {
		return err
	}

	out := cmd.app.stdout
	fmt.Fprintf(out, "Installed: %s\n", result.Installed)
	fmt.Fprintf(out, "Latest:    %s\n", result.Latest)
	if cache != nil {
		printCacheStatus(ctx, out, cache)
	}
	if !result.Available() {
		fmt.Fprintln(out, "Up to date")
		return nil
	}

	fmt.Fprintf(out, "Pending:   %d patches, %d files to download\n", len(result.Pending), result.Downloads())

	table := tablewriter.NewWriter(out)
	table.Header("Version", "Released", "Changes", "Downloads")
	for _, p := range result.Pending {
		if err := table.Append([]string{
			p.Version.String(),
			fmt.Sprintf("%s (%s)", p.ReleaseDate.Format("2006-01-02"), humanize.Time(p.ReleaseDate)),
			strconv.Itoa(p.Changes),
			strconv.Itoa(p.Downloads),
		}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	for _, p := range result.Pending {
		notes := strings.TrimSpace(p.ReleaseNotes)
		if notes == "" {
			continue
		}
		fmt.Fprintf(out, "\n%s:\n", p.Version)
		for _, line := range strings.Split(notes, "\n") {
			fmt.Fprintf(out, "  %s\n", line)
		}
	}
	return nil
}

// printCacheStatus reports when the cached manifest was fetched and whether it is still fresh
func printCacheStatus(ctx context.Context, out io.Writer, cache *source.ManifestCache) {
	meta, err := cache.GetMeta(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("No cached manifest")
		return
	}
	state := "expired"
	if cache.IsValid(ctx) {
		state = "fresh"
	}
	fmt.Fprintf(out, "Cache:     %s, fetched %s (ttl %s)\n", state, humanize.Time(meta.CachedAt), cache.TTL())
}

type cmdWatch struct {
	targetOptions
	Post     string        `short:"p" long:"post" description:"Command run after each successful update (default: $UPNET_POST_COMMAND)"`
	Interval time.Duration `short:"i" long:"interval" description:"Poll interval, at least 1m (default: $UPNET_WATCH_INTERVAL)"`

	app *app
}

func (cmd *cmdWatch) Execute([]string) error {
	post := cmd.app.cfg.Apply.PostCommand
	if cmd.Post != "" {
		post = cmd.Post
	}
	interval := cmd.app.cfg.Watch.Interval
	if cmd.Interval > 0 {
		interval = cmd.Interval
	}

	app, _, err := cmd.app.newApplicator(cmd.targetOptions, post, 0)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := applicator.NewPoller(app, interval)
	poller.SetOnApplied(func(r *applicator.Report) {
		fmt.Fprintf(cmd.app.stdout, "Updated %s -> %s (%d patches)\n", r.From, r.To, r.Patches)
	})

	log.Info().Dur("interval", poller.Interval()).Str("target", app.TargetDir()).Msg("Watching for updates")
	poller.Start(ctx)

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal, stopping watcher")
	poller.Stop()
	<-poller.Done()
	return nil
}

type cmdCreate struct {
	Dir     string `short:"d" long:"dir" default:"." description:"Release directory to describe"`
	Base    string `short:"b" long:"base" description:"Previous manifest to extend"`
	Output  string `short:"o" long:"output" required:"true" description:"Manifest file to write (.json, .yaml or .yml)"`
	Version string `long:"version" description:"Version of the new patch (default: next revision of the base)"`
	Notes   string `long:"notes" description:"Release notes"`
	Objects string `long:"objects" description:"Directory receiving content-addressed objects (default: objects next to the output)"`
	InPlace bool   `long:"in-place" description:"Use paths under the release directory as content keys instead of objects"`

	app *app
}

func (cmd *cmdCreate) Execute([]string) error {
	fsys := afero.NewOsFs()

	opts := manifest.BuildOptions{
		Dir:   cmd.Dir,
		Notes: cmd.Notes,
		Fs:    fsys,
	}

	if cmd.Version != "" {
		v, err := domain.ParseVersion(cmd.Version)
		if err != nil {
			return usagef("invalid --version: %v", err)
		}
		opts.Version = v
	}

	if cmd.Base != "" {
		base, err := manifest.DecodeFile(fsys, cmd.Base)
		if err != nil {
			return err
		}
		opts.Base = base
	} else if exists, _ := afero.Exists(fsys, cmd.Output); exists {
		return usagef("%s already exists; pass --base to extend it", cmd.Output)
	}

	output, err := filepath.Abs(cmd.Output)
	if err != nil {
		return usagef("invalid --output: %v", err)
	}
	if !cmd.InPlace {
		opts.ObjectsDir = cmd.Objects
		if opts.ObjectsDir == "" {
			opts.ObjectsDir = filepath.Join(filepath.Dir(output), strings.TrimSuffix(manifest.ObjectsKeyPrefix, "/"))
		}
	}
	opts.Exclude = createExcludes(cmd.Dir, output)

	ctx, cancel := signalContext(0)
	defer cancel()

	result, err := manifest.Build(ctx, opts)
	if err != nil {
		return err
	}
	if err := manifest.EncodeFile(fsys, output, result.Update); err != nil {
		return err
	}

	fmt.Fprintf(cmd.app.stdout, "Wrote %s: version %s, %d changes, %d new objects (%s)\n",
		output, result.Patch.Version(), result.Patch.Count(), result.Objects, humanize.Bytes(result.ObjectsBytes))
	return nil
}

// createExcludes keeps the manifest itself and install state out of a release scan
func createExcludes(dir, output string) []string {
	excludes := []string{applicator.StateFileName}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return excludes
	}
	if rel, err := filepath.Rel(absDir, output); err == nil && filepath.IsLocal(rel) {
		excludes = append(excludes, filepath.ToSlash(rel))
	}
	return excludes
}
