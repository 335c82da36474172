package update

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
)

// State is a phase of an apply run
type State int

const (
	StateIdle State = iota
	StateStaging
	StateStagingFailed
	StateStaged
	StateCommitting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateStagingFailed:
		return "staging_failed"
	case StateStaged:
		return "staged"
	case StateCommitting:
		return "committing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StateIdle:          {StateStaging},
	StateStaging:       {StateStaged, StateStagingFailed},
	StateStaged:        {StateCommitting},
	StateStagingFailed: {StateCommitting},
	StateCommitting:    {StateDone},
}

// Progress is reported at least once per pending patch per phase.
// Percent never decreases within a run.
type Progress struct {
	State     State
	Percent   int
	Completed int
	Total     int
	Version   domain.Version
}

// ProgressFunc receives progress notifications synchronously
type ProgressFunc func(Progress)

// Result describes a finished apply run
type Result struct {
	From      domain.Version
	Installed domain.Version
	Applied   []domain.Version
}

type applyConfig struct {
	fs       afero.Fs
	progress ProgressFunc
}

// ApplyOption customizes Apply
type ApplyOption func(*applyConfig)

// WithFs applies against fsys instead of the host filesystem. The install root
// is resolved inside fsys.
func WithFs(fsys afero.Fs) ApplyOption {
	return func(c *applyConfig) {
		c.fs = fsys
	}
}

// WithProgress registers a progress callback
func WithProgress(fn ProgressFunc) ApplyOption {
	return func(c *applyConfig) {
		c.progress = fn
	}
}

// applyRun tracks the state machine and progress of one Apply call
type applyRun struct {
	state     State
	succeeded bool
	completed int
	total     int
	progress  ProgressFunc
}

func newApplyRun(pending int, progress ProgressFunc) *applyRun {
	return &applyRun{
		state:     StateIdle,
		succeeded: true,
		total:     pending * 2,
		progress:  progress,
	}
}

func (r *applyRun) transition(to State) {
	for _, allowed := range transitions[r.state] {
		if allowed == to {
			r.state = to
			return
		}
	}
	panic(fmt.Sprintf("update: invalid apply transition %s -> %s", r.state, to))
}

func (r *applyRun) step(version domain.Version) {
	r.completed++
	r.report(version)
}

func (r *applyRun) report(version domain.Version) {
	if r.progress == nil {
		return
	}
	percent := 100
	if r.total > 0 {
		percent = r.completed * 100 / r.total
	}
	r.progress(Progress{
		State:     r.state,
		Percent:   percent,
		Completed: r.completed,
		Total:     r.total,
		Version:   version,
	})
}

// Apply brings the install at root from installed to the latest version.
//
// Every patch newer than installed is staged in ascending version order.
// Staging stops at the first failure. All selected patches are then committed
// with the staging outcome: on success each change is finalized, otherwise
// every change is rolled back. Commit failures are collected, not short-circuited,
// and returned together with any staging failure.
func (u *Update) Apply(ctx context.Context, root string, installed domain.Version, opts ...ApplyOption) (*Result, error) {
	cfg := applyConfig{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&cfg)
	}

	ds, ok := u.Source()
	if !ok {
		return nil, domain.NewAppError(domain.ErrNotConfigured, "No DataSource bound to update", 412, nil).WithOperation("apply")
	}

	base, err := filepath.Abs(root)
	if err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Invalid install root", 400, err, map[string]any{"root": root})
	}
	if err := cfg.fs.MkdirAll(base, 0o755); err != nil {
		return nil, domain.NewIOFailure("Failed to create install root", err, map[string]any{"root": base})
	}
	fsys := afero.NewBasePathFs(cfg.fs, base)

	pending := isolateStaging(u.Pending(installed))
	result := &Result{From: installed, Installed: installed}
	run := newApplyRun(len(pending), cfg.progress)

	log.Info().
		Str("root", base).
		Stringer("installed", installed).
		Int("pending", len(pending)).
		Msg("Applying update")

	var errs domain.AggregateError

	run.transition(StateStaging)
	staged := 0
	for _, p := range pending {
		if err := p.Stage(ctx, ds, fsys); err != nil {
			errs = append(errs, fmt.Errorf("stage patch %s: %w", p.Version(), err))
			run.succeeded = false
			log.Warn().Err(err).Stringer("version", p.Version()).Msg("Staging failed, rolling back")
			break
		}
		run.step(p.Version())
		staged++
	}
	if run.succeeded {
		run.transition(StateStaged)
	} else {
		run.transition(StateStagingFailed)
		for _, p := range pending[staged:] {
			run.step(p.Version())
		}
	}

	run.transition(StateCommitting)
	for _, p := range pending {
		if err := p.Commit(ctx, ds, fsys, run.succeeded); err != nil {
			errs = append(errs, fmt.Errorf("commit patch %s: %w", p.Version(), err))
		}
		run.step(p.Version())
	}
	run.transition(StateDone)

	if err := errs.ErrorOrNil(); err != nil {
		return result, err
	}

	if len(pending) == 0 {
		run.report(installed)
		log.Info().Stringer("installed", installed).Msg("Install is up to date")
		return result, nil
	}

	for _, p := range pending {
		result.Applied = append(result.Applied, p.Version())
	}
	result.Installed = pending[len(pending)-1].Version()

	log.Info().
		Stringer("from", installed).
		Stringer("to", result.Installed).
		Int("patches", len(pending)).
		Msg("Update applied")
	return result, nil
}

// isolateStaging gives each AddOrReplace whose path a later pending patch
// writes again its own <path>.<version>.update sibling. Every commit then
// installs the bytes its own patch verified. The last writer of a path keeps
// the default sibling.
func isolateStaging(pending []Patch) []Patch {
	lastWriter := make(map[string]int)
	for i, p := range pending {
		for _, c := range p.changes {
			if add, ok := c.(AddOrReplace); ok {
				lastWriter[filepath.Clean(localPath(add.relativePath))] = i
			}
		}
	}

	isolated := make([]Patch, len(pending))
	for i, p := range pending {
		isolated[i] = p
		var changes []Change
		for j, c := range p.changes {
			add, ok := c.(AddOrReplace)
			if !ok || lastWriter[filepath.Clean(localPath(add.relativePath))] == i {
				continue
			}
			if changes == nil {
				changes = slices.Clone(p.changes)
			}
			changes[j] = add.withStagingPath(add.relativePath + "." + p.version.String() + StagingSuffix)
		}
		if changes != nil {
			isolated[i] = Patch{changes: changes, meta: p.meta, version: p.version}
		}
	}
	return isolated
}
