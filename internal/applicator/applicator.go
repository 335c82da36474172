// Package applicator drives an update end to end against an install
// directory: it loads the manifest, reads and records the installed version,
// applies pending patches, runs the post-update hook and records metrics.
package applicator

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/metrics"
	"github.com/freewebtopdf/upnet/internal/update"
)

// Options configures an Applicator
type Options struct {
	TargetDir       string
	Source          update.DataSource
	InitialDelay    time.Duration
	PostCommand     string
	Fs              afero.Fs
	Metrics         *metrics.Recorder
	MetricsTextfile string
	Runner          CommandRunner
	Now             func() time.Time
}

// Report summarises one Run
type Report struct {
	From     domain.Version `json:"from"`
	To       domain.Version `json:"to"`
	Patches  int            `json:"patches"`
	Duration time.Duration  `json:"duration"`
}

// Changed reports whether the run installed anything
func (r *Report) Changed() bool {
	return r.Patches > 0
}

// PendingPatch describes a patch that would be applied
type PendingPatch struct {
	Version      domain.Version `json:"version"`
	ReleaseDate  time.Time      `json:"releaseDate"`
	ReleaseNotes string         `json:"releaseNotes"`
	Changes      int            `json:"changes"`
	Downloads    int            `json:"downloads"`
}

// CheckResult is the outcome of Check
type CheckResult struct {
	Installed domain.Version `json:"installed"`
	Latest    domain.Version `json:"latest"`
	Pending   []PendingPatch `json:"pending"`
}

// Available reports whether any patch is pending
func (c *CheckResult) Available() bool {
	return len(c.Pending) > 0
}

// Downloads is the total number of files to fetch
func (c *CheckResult) Downloads() int {
	total := 0
	for _, p := range c.Pending {
		total += p.Downloads
	}
	return total
}

// Applicator applies updates from one source to one install directory
type Applicator struct {
	opts  Options
	state *StateStore
}

// New validates opts and creates an Applicator
func New(opts Options) (*Applicator, error) {
	if opts.TargetDir == "" {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "Target directory is required", 400, nil)
	}
	if opts.Source == nil {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "Update source is required", 400, nil)
	}
	if opts.InitialDelay < 0 {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "Initial delay must not be negative", 400, nil)
	}

	target, err := filepath.Abs(opts.TargetDir)
	if err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Invalid target directory", 400, err, map[string]any{"target": opts.TargetDir})
	}
	opts.TargetDir = target

	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Runner == nil {
		opts.Runner = RunShell
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Applicator{
		opts:  opts,
		state: NewStateStore(opts.Fs, filepath.Join(target, StateFileName)),
	}, nil
}

// TargetDir returns the absolute install directory
func (a *Applicator) TargetDir() string {
	return a.opts.TargetDir
}

// State exposes the install state store
func (a *Applicator) State() *StateStore {
	return a.state
}

// Run waits for the initial delay, then loads and applies the update
func (a *Applicator) Run(ctx context.Context) (*Report, error) {
	if a.opts.InitialDelay > 0 {
		log.Debug().Dur("delay", a.opts.InitialDelay).Msg("Waiting before update")
		timer := time.NewTimer(a.opts.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, domain.NewCancelled(ctx, "initial-delay")
		case <-timer.C:
		}
	}

	u, installed, err := a.load(ctx)
	if err != nil {
		a.observeFailure(0)
		return nil, err
	}
	return a.apply(ctx, u, installed)
}

// Check loads the manifest and reports what an apply would install
func (a *Applicator) Check(ctx context.Context) (*CheckResult, error) {
	u, installed, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Installed: installed, Latest: installed}
	if latest, err := u.LatestVersion(); err == nil {
		result.Latest = latest
	}

	for _, p := range u.Pending(installed) {
		pending := PendingPatch{
			Version:      p.Version(),
			ReleaseDate:  p.Meta().ReleaseDate,
			ReleaseNotes: p.Meta().ReleaseNotes,
			Changes:      p.Count(),
		}
		for _, c := range p.Changes() {
			if c.Kind() == update.KindAddOrReplace {
				pending.Downloads++
			}
		}
		result.Pending = append(result.Pending, pending)
	}
	return result, nil
}

// poll applies only when the manifest carries something newer
func (a *Applicator) poll(ctx context.Context) (*Report, error) {
	u, installed, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	if !u.UpdatesAvailable(installed) {
		log.Debug().Stringer("installed", installed).Msg("No updates available")
		return &Report{From: installed, To: installed}, nil
	}
	return a.apply(ctx, u, installed)
}

func (a *Applicator) load(ctx context.Context) (*update.Update, domain.Version, error) {
	u, err := update.LoadFrom(ctx, a.opts.Source)
	if err != nil {
		return nil, domain.Version{}, err
	}
	installed, err := a.state.Installed()
	if err != nil {
		return nil, domain.Version{}, err
	}
	return u, installed, nil
}

func (a *Applicator) apply(ctx context.Context, u *update.Update, installed domain.Version) (*Report, error) {
	start := a.opts.Now()
	pending := u.Pending(installed)

	result, err := u.Apply(ctx, a.opts.TargetDir, installed,
		update.WithFs(a.opts.Fs),
		update.WithProgress(logProgress),
	)
	elapsed := a.opts.Now().Sub(start)
	if err != nil {
		a.observeFailure(elapsed)
		return &Report{From: installed, To: installed, Duration: elapsed}, err
	}

	report := &Report{
		From:     result.From,
		To:       result.Installed,
		Patches:  len(result.Applied),
		Duration: elapsed,
	}

	if !report.Changed() {
		a.observe(metrics.ResultNoop, elapsed, report.To)
		return report, nil
	}

	if err := a.state.Record(report.From, report.To, report.Patches, a.opts.Now()); err != nil {
		a.observeFailure(elapsed)
		return report, err
	}

	if a.opts.Metrics != nil {
		a.opts.Metrics.AddPatches(report.Patches)
		for kind, n := range countChanges(pending) {
			a.opts.Metrics.AddChanges(string(kind), n)
		}
	}

	if a.opts.PostCommand != "" {
		if err := a.opts.Runner(ctx, a.opts.TargetDir, a.opts.PostCommand); err != nil {
			a.observeFailure(elapsed)
			return report, err
		}
	}

	a.observe(metrics.ResultSuccess, elapsed, report.To)
	return report, nil
}

func countChanges(patches []update.Patch) map[update.Kind]int {
	counts := make(map[update.Kind]int)
	for _, p := range patches {
		for _, c := range p.Changes() {
			counts[c.Kind()]++
		}
	}
	return counts
}

func logProgress(p update.Progress) {
	log.Info().
		Stringer("state", p.State).
		Int("percent", p.Percent).
		Int("completed", p.Completed).
		Int("total", p.Total).
		Stringer("version", p.Version).
		Msg("Update progress")
}

func (a *Applicator) observe(result string, elapsed time.Duration, installed domain.Version) {
	if a.opts.Metrics == nil {
		return
	}
	a.opts.Metrics.ObserveRun(result, elapsed)
	a.opts.Metrics.SetInstalled(installed.String())
	a.flushMetrics()
}

func (a *Applicator) observeFailure(elapsed time.Duration) {
	if a.opts.Metrics == nil {
		return
	}
	a.opts.Metrics.ObserveRun(metrics.ResultFailure, elapsed)
	a.flushMetrics()
}

func (a *Applicator) flushMetrics() {
	if a.opts.MetricsTextfile == "" {
		return
	}
	if err := a.opts.Metrics.WriteTextfile(a.opts.MetricsTextfile); err != nil {
		log.Warn().Err(err).Str("path", a.opts.MetricsTextfile).Msg("Failed to write metrics textfile")
	}
}
