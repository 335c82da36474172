package manifest

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/fsutil"
	"github.com/freewebtopdf/upnet/internal/update"
)

// ObjectsKeyPrefix prefixes content keys of content-addressed objects
const ObjectsKeyPrefix = "objects/"

// BuildOptions configures Build
type BuildOptions struct {
	// Dir is the directory holding the new release
	Dir string
	// Base is the previous manifest. Nil starts a new chain.
	Base *update.Update
	// Version of the new patch. The zero value selects the base's latest
	// version with the revision incremented, or 1.0.0.0 without a base.
	Version domain.Version
	Notes   string
	// ObjectsDir, when set, receives a copy of every added file named by its
	// hex SHA-256, and content keys become ObjectsKeyPrefix + hex. Otherwise
	// content keys are the slash-separated relative paths under Dir.
	ObjectsDir string
	// Exclude lists slash-separated paths under Dir to leave out
	Exclude []string
	Now     func() time.Time
	Fs      afero.Fs
}

// BuildResult is the outcome of Build
type BuildResult struct {
	Update       *update.Update
	Patch        update.Patch
	ObjectsBytes uint64
	Objects      int
}

type scannedFile struct {
	path string
	rel  string
}

// Build scans opts.Dir, diffs it against the state produced by opts.Base and
// returns the base patches followed by one new patch describing the difference.
func Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Dir == "" {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "Release directory is required", 400, nil)
	}

	version, err := nextVersion(opts.Base, opts.Version)
	if err != nil {
		return nil, err
	}

	current, err := scanRelease(ctx, fsys, opts)
	if err != nil {
		return nil, err
	}

	var previous map[string]string
	var basePatches []update.Patch
	if opts.Base != nil {
		basePatches = opts.Base.Patches()
		previous = replay(basePatches)
	}

	changes := diff(previous, current)
	if len(changes) == 0 {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "No changes detected against the base manifest", 400, map[string]any{
			"dir": opts.Dir,
		})
	}

	result := &BuildResult{}
	if opts.ObjectsDir != "" {
		for i, c := range changes {
			add, ok := c.(update.AddOrReplace)
			if !ok {
				continue
			}
			key, written, err := storeObject(ctx, fsys, opts, add)
			if err != nil {
				return nil, err
			}
			if written > 0 {
				result.Objects++
				result.ObjectsBytes += uint64(written)
			}
			changes[i] = update.NewAddOrReplace(key, add.Path(), add.SHA256())
		}
	}

	patch := update.NewPatch(changes, domain.NewUserMeta(now().UTC(), opts.Notes), version)
	result.Patch = patch
	result.Update = update.New(append(basePatches, patch))

	log.Info().
		Stringer("version", version).
		Int("changes", patch.Count()).
		Int("objects", result.Objects).
		Str("objects_size", humanize.Bytes(result.ObjectsBytes)).
		Msg("Built patch")
	return result, nil
}

func nextVersion(base *update.Update, requested domain.Version) (domain.Version, error) {
	if base == nil || base.Count() == 0 {
		if requested == (domain.Version{}) {
			return domain.NewVersion(1, 0, 0, 0), nil
		}
		return requested, nil
	}

	latest, err := base.LatestVersion()
	if err != nil {
		return domain.Version{}, err
	}
	if requested == (domain.Version{}) {
		return latest.NextRevision(), nil
	}
	if !requested.IsNewerThan(latest) {
		return domain.Version{}, domain.NewAppError(domain.ErrInvalidInput, "Version must be newer than the base manifest's latest version", 400, map[string]any{
			"version": requested.String(),
			"latest":  latest.String(),
		})
	}
	return requested, nil
}

// scanRelease walks the release directory and digests every file
func scanRelease(ctx context.Context, fsys afero.Fs, opts BuildOptions) (map[string]string, error) {
	excluded := make(map[string]bool, len(opts.Exclude))
	for _, e := range opts.Exclude {
		excluded[filepath.ToSlash(filepath.Clean(e))] = true
	}

	var objectsRel string
	if opts.ObjectsDir != "" {
		if rel, err := filepath.Rel(opts.Dir, opts.ObjectsDir); err == nil && filepath.IsLocal(rel) {
			objectsRel = filepath.ToSlash(rel)
		}
	}

	var files []scannedFile
	err := afero.Walk(fsys, opts.Dir, func(path string, info os.FileInfo, err error) error {
		if err := domain.CheckContext(ctx, "scan"); err != nil {
			return err
		}
		if err != nil {
			return domain.NewIOFailure("Failed to scan release directory", err, map[string]any{"path": path})
		}

		rel, err := filepath.Rel(opts.Dir, path)
		if err != nil {
			return domain.NewIOFailure("Failed to resolve relative path", err, map[string]any{"path": path})
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if objectsRel != "" && rel == objectsRel {
				return filepath.SkipDir
			}
			return nil
		}
		if excluded[rel] || strings.HasSuffix(rel, update.StagingSuffix) {
			return nil
		}

		files = append(files, scannedFile{path: path, rel: rel})
		return nil
	})
	if err != nil {
		return nil, err
	}

	state := make(map[string]string, len(files))
	for _, f := range files {
		digest, err := digestFile(ctx, fsys, f.path)
		if err != nil {
			return nil, err
		}
		state[f.rel] = digest
	}
	return state, nil
}

func digestFile(ctx context.Context, fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", domain.NewIOFailure("Failed to open release file", err, map[string]any{"path": path})
	}
	defer f.Close()
	return update.DigestOf(ctx, f)
}

// replay computes the path -> digest state left by applying patches in order
func replay(patches []update.Patch) map[string]string {
	ordered := slices.Clone(patches)
	slices.SortStableFunc(ordered, func(a, b update.Patch) int {
		return a.Version().Compare(b.Version())
	})

	state := make(map[string]string)
	for _, p := range ordered {
		changes := p.Changes()
		slices.SortStableFunc(changes, func(a, b update.Change) int {
			switch {
			case a.Priority() > b.Priority():
				return -1
			case a.Priority() < b.Priority():
				return 1
			default:
				return 0
			}
		})
		for _, c := range changes {
			switch c := c.(type) {
			case update.Delete:
				delete(state, c.Path())
			case update.Move:
				if digest, ok := state[c.Path()]; ok {
					state[c.DestinationPath()] = digest
					delete(state, c.Path())
				}
			case update.AddOrReplace:
				state[c.Path()] = c.SHA256()
			}
		}
	}
	return state
}

// diff emits the changes that turn previous into current. A vanished path whose
// digest matches a newly appearing path becomes a Move.
func diff(previous, current map[string]string) []update.Change {
	var vanished, appeared, changed []string
	for path := range previous {
		if _, ok := current[path]; !ok {
			vanished = append(vanished, path)
		}
	}
	for path, digest := range current {
		old, ok := previous[path]
		switch {
		case !ok:
			appeared = append(appeared, path)
		case old != digest:
			changed = append(changed, path)
		}
	}
	slices.Sort(vanished)
	slices.Sort(appeared)
	slices.Sort(changed)

	claimed := make(map[string]bool)
	var deletes, moves, adds []update.Change
	for _, path := range vanished {
		target := ""
		for _, candidate := range appeared {
			if !claimed[candidate] && current[candidate] == previous[path] {
				target = candidate
				break
			}
		}
		if target == "" {
			deletes = append(deletes, update.NewDelete(path))
			continue
		}
		claimed[target] = true
		moves = append(moves, update.NewMove(path, target))
	}
	for _, path := range appeared {
		if !claimed[path] {
			adds = append(adds, update.NewAddOrReplace(path, path, current[path]))
		}
	}
	for _, path := range changed {
		adds = append(adds, update.NewAddOrReplace(path, path, current[path]))
	}
	slices.SortFunc(adds, func(a, b update.Change) int {
		return strings.Compare(a.Path(), b.Path())
	})

	changes := make([]update.Change, 0, len(deletes)+len(moves)+len(adds))
	changes = append(changes, deletes...)
	changes = append(changes, moves...)
	return append(changes, adds...)
}

// storeObject copies an added file into the objects directory under its hex
// digest and returns the content key. Existing objects are not rewritten.
func storeObject(ctx context.Context, fsys afero.Fs, opts BuildOptions, add update.AddOrReplace) (string, int64, error) {
	raw, err := update.DecodeDigest(add.SHA256())
	if err != nil {
		return "", 0, err
	}
	name := hex.EncodeToString(raw)
	key := ObjectsKeyPrefix + name
	target := filepath.Join(opts.ObjectsDir, name)

	if ok, err := afero.Exists(fsys, target); err == nil && ok {
		return key, 0, nil
	}
	if err := domain.CheckContext(ctx, "store object"); err != nil {
		return "", 0, err
	}

	source := filepath.Join(opts.Dir, filepath.FromSlash(add.Path()))
	f, err := fsys.Open(source)
	if err != nil {
		return "", 0, domain.NewIOFailure("Failed to open release file", err, map[string]any{"path": add.Path()})
	}
	defer f.Close()

	written, err := fsutil.WriteReaderAtomic(fsys, target, f, 0o644)
	if err != nil {
		return "", 0, domain.NewIOFailure("Failed to store content object", err, map[string]any{"path": add.Path(), "object": name})
	}

	log.Debug().Str("path", add.Path()).Str("object", name).Msg("Stored content object")
	return key, written, nil
}
