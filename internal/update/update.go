package update

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/freewebtopdf/upnet/internal/domain"
)

// Update is the full manifest: every known patch plus an optional DataSource
// binding. The binding can be set exactly once.
type Update struct {
	patches []Patch
	source  atomic.Pointer[binding]
}

type binding struct {
	ds DataSource
}

// New creates an unbound update. The patches slice is copied.
func New(patches []Patch) *Update {
	return &Update{patches: slices.Clone(patches)}
}

// LoadFrom fetches the manifest through ds and binds the result to ds
func LoadFrom(ctx context.Context, ds DataSource) (*Update, error) {
	if ds == nil {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "DataSource is required", 400, nil)
	}
	if err := domain.CheckContext(ctx, "load manifest"); err != nil {
		return nil, err
	}

	u, err := ds.GetManifest(ctx)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, domain.NewAppError(domain.ErrManifestInvalid, "DataSource returned no manifest", 422, nil)
	}
	if err := u.Bind(ds); err != nil {
		return nil, err
	}

	log.Debug().Int("patches", u.Count()).Msg("Loaded update manifest")
	return u, nil
}

// Bind attaches the DataSource used to fetch content. It succeeds only once.
func (u *Update) Bind(ds DataSource) error {
	if ds == nil {
		return domain.NewAppError(domain.ErrInvalidInput, "DataSource is required", 400, nil)
	}
	if !u.source.CompareAndSwap(nil, &binding{ds: ds}) {
		return domain.NewAppError(domain.ErrInvalidOperation, "DataSource is already bound", 409, nil)
	}
	return nil
}

// Source returns the bound DataSource
func (u *Update) Source() (DataSource, bool) {
	b := u.source.Load()
	if b == nil {
		return nil, false
	}
	return b.ds, true
}

// Patches returns a copy of the patches in declaration order
func (u *Update) Patches() []Patch {
	return slices.Clone(u.patches)
}

// Count returns the number of patches
func (u *Update) Count() int {
	return len(u.patches)
}

// LatestVersion returns the greatest patch version. It fails with
// EMPTY_UPDATE when there are no patches.
func (u *Update) LatestVersion() (domain.Version, error) {
	versions := make([]domain.Version, 0, len(u.patches))
	for _, p := range u.patches {
		versions = append(versions, p.Version())
	}
	latest, ok := domain.MaxVersion(versions...)
	if !ok {
		return domain.Version{}, domain.NewAppError(domain.ErrEmptyUpdate, "Update contains no patches", 404, nil)
	}
	return latest, nil
}

// UpdatesAvailable reports whether any patch is newer than installed
func (u *Update) UpdatesAvailable(installed domain.Version) bool {
	for _, p := range u.patches {
		if p.Version().IsNewerThan(installed) {
			return true
		}
	}
	return false
}

// Pending returns the patches newer than installed, in ascending version order
func (u *Update) Pending(installed domain.Version) []Patch {
	var pending []Patch
	for _, p := range u.patches {
		if p.Version().IsNewerThan(installed) {
			pending = append(pending, p)
		}
	}
	slices.SortStableFunc(pending, func(a, b Patch) int {
		return a.Version().Compare(b.Version())
	})
	return pending
}

// Validate checks every patch and rejects duplicate versions
func (u *Update) Validate() error {
	var errs domain.AggregateError
	seen := make(map[domain.Version]bool, len(u.patches))
	for _, p := range u.patches {
		if seen[p.Version()] {
			errs = append(errs, domain.NewAppError(domain.ErrManifestInvalid, "Duplicate patch version", 422, map[string]any{
				"version": p.Version().String(),
			}))
		}
		seen[p.Version()] = true
		errs = errs.Append(p.Validate())
	}
	return errs.ErrorOrNil()
}
