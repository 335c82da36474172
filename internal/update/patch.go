package update

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/freewebtopdf/upnet/internal/domain"
)

// Patch is an ordered set of changes that moves an install to one version
type Patch struct {
	changes []Change
	meta    domain.UserMeta
	version domain.Version
}

// NewPatch creates a patch. The changes slice is copied.
func NewPatch(changes []Change, meta domain.UserMeta, version domain.Version) Patch {
	return Patch{
		changes: slices.Clone(changes),
		meta:    meta,
		version: version,
	}
}

// Changes returns a copy of the patch's changes in declaration order
func (p Patch) Changes() []Change {
	return slices.Clone(p.changes)
}

func (p Patch) Count() int              { return len(p.changes) }
func (p Patch) Meta() domain.UserMeta   { return p.meta }
func (p Patch) Version() domain.Version { return p.version }

// Equal reports structural equality, including change order
func (p Patch) Equal(other Patch) bool {
	if p.version != other.version || !p.meta.Equal(other.meta) || len(p.changes) != len(other.changes) {
		return false
	}
	for i := range p.changes {
		if !Equal(p.changes[i], other.changes[i]) {
			return false
		}
	}
	return true
}

// Validate checks every change and reports all failures together
func (p Patch) Validate() error {
	var errs domain.AggregateError
	for i, change := range p.changes {
		if change == nil {
			errs = append(errs, fmt.Errorf("patch %s change %d: %w", p.version, i,
				domain.NewAppError(domain.ErrInvalidInput, "Change is nil", 400, nil)))
			continue
		}
		if err := change.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("patch %s change %d: %w", p.version, i, err))
		}
	}
	return errs.ErrorOrNil()
}

// Stage stages every change concurrently and returns the first failure.
// A failure cancels the remaining stages.
func (p Patch) Stage(ctx context.Context, src DataSource, fsys afero.Fs) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, change := range p.changes {
		g.Go(func() error {
			if err := change.Stage(gctx, src, fsys); err != nil {
				return fmt.Errorf("stage %s %q: %w", change.Kind(), change.Path(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Commit commits (or rolls back) every change. Changes run in descending
// priority tiers; a tier starts only after the previous one has finished.
// Every change is attempted and all failures are aggregated.
func (p Patch) Commit(ctx context.Context, src DataSource, fsys afero.Fs, succeeded bool) error {
	var (
		mu   sync.Mutex
		errs domain.AggregateError
	)
	for _, tier := range p.tiers() {
		var wg sync.WaitGroup
		for _, change := range tier {
			wg.Go(func() {
				if err := change.Commit(ctx, src, fsys, succeeded); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("commit %s %q: %w", change.Kind(), change.Path(), err))
					mu.Unlock()
				}
			})
		}
		wg.Wait()
	}
	return errs.ErrorOrNil()
}

// tiers groups changes by priority, highest first. Order within a tier
// follows declaration order.
func (p Patch) tiers() [][]Change {
	if len(p.changes) == 0 {
		return nil
	}
	sorted := slices.Clone(p.changes)
	slices.SortStableFunc(sorted, func(a, b Change) int {
		switch {
		case a.Priority() > b.Priority():
			return -1
		case a.Priority() < b.Priority():
			return 1
		default:
			return 0
		}
	})

	var tiers [][]Change
	start := 0
	for i := 1; i <= len(sorted); i++ {
		if i == len(sorted) || sorted[i].Priority() != sorted[start].Priority() {
			tiers = append(tiers, sorted[start:i])
			start = i
		}
	}
	return tiers
}
