// Package manifest converts updates to and from their JSON/YAML wire form,
// validates decoded manifests and builds new patches by diffing a directory
// against a base manifest.
package manifest

import (
	"fmt"
	"time"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/update"
)

// wireUpdate is the manifest document
type wireUpdate struct {
	Patches []wirePatch `json:"patches" yaml:"patches" validate:"dive"`
}

type wirePatch struct {
	Changes []wireChange `json:"changes" yaml:"changes" validate:"dive"`
	Meta    wireMeta     `json:"meta" yaml:"meta"`
	Version []int        `json:"version" yaml:"version,flow" validate:"len=4,dive,min=0"`
}

type wireMeta struct {
	ReleaseDate  time.Time `json:"releaseDate" yaml:"releaseDate"`
	ReleaseNotes string    `json:"releaseNotes" yaml:"releaseNotes"`
}

// wireChange is the tagged union of change variants. Which fields are required
// depends on Kind.
type wireChange struct {
	Kind            string `json:"kind" yaml:"kind" validate:"required,oneof=add delete move"`
	ContentKey      string `json:"contentKey,omitempty" yaml:"contentKey,omitempty" validate:"required_if=Kind add"`
	RelativePath    string `json:"relativePath" yaml:"relativePath" validate:"required"`
	SHA256          string `json:"sha256,omitempty" yaml:"sha256,omitempty" validate:"required_if=Kind add"`
	NewRelativePath string `json:"newRelativePath,omitempty" yaml:"newRelativePath,omitempty" validate:"required_if=Kind move"`
	Priority        *int   `json:"priority,omitempty" yaml:"priority,omitempty"`
}

// toChange converts a structurally valid wire change into its variant
func (w wireChange) toChange() (update.Change, error) {
	switch update.Kind(w.Kind) {
	case update.KindAddOrReplace:
		c := update.NewAddOrReplace(w.ContentKey, w.RelativePath, w.SHA256)
		if w.Priority != nil {
			c = c.WithPriority(*w.Priority)
		}
		return c, nil
	case update.KindDelete:
		if w.Priority != nil && *w.Priority != update.PriorityDelete {
			return nil, fmt.Errorf("delete changes have a fixed priority")
		}
		return update.NewDelete(w.RelativePath), nil
	case update.KindMove:
		c := update.NewMove(w.RelativePath, w.NewRelativePath)
		if w.Priority != nil {
			c = c.WithPriority(*w.Priority)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown change kind %q", w.Kind)
	}
}

func fromChange(c update.Change) wireChange {
	switch c := c.(type) {
	case update.AddOrReplace:
		w := wireChange{
			Kind:         string(update.KindAddOrReplace),
			ContentKey:   c.ContentKey(),
			RelativePath: c.Path(),
			SHA256:       c.SHA256(),
		}
		if c.Priority() != update.PriorityAddOrReplace {
			w.Priority = intPtr(c.Priority())
		}
		return w
	case update.Delete:
		return wireChange{Kind: string(update.KindDelete), RelativePath: c.Path()}
	case update.Move:
		w := wireChange{
			Kind:            string(update.KindMove),
			RelativePath:    c.Path(),
			NewRelativePath: c.DestinationPath(),
		}
		if c.Priority() != update.PriorityMove {
			w.Priority = intPtr(c.Priority())
		}
		return w
	default:
		panic(fmt.Sprintf("manifest: unhandled change type %T", c))
	}
}

func fromUpdate(u *update.Update) wireUpdate {
	patches := u.Patches()
	doc := wireUpdate{Patches: make([]wirePatch, 0, len(patches))}
	for _, p := range patches {
		wp := wirePatch{
			Changes: make([]wireChange, 0, p.Count()),
			Meta: wireMeta{
				ReleaseDate:  p.Meta().ReleaseDate.UTC(),
				ReleaseNotes: p.Meta().ReleaseNotes,
			},
			Version: p.Version().Slice(),
		}
		for _, c := range p.Changes() {
			wp.Changes = append(wp.Changes, fromChange(c))
		}
		doc.Patches = append(doc.Patches, wp)
	}
	return doc
}

// toUpdate converts a wire document, collecting every semantic problem
func (doc wireUpdate) toUpdate() (*update.Update, ValidationErrors) {
	var errs ValidationErrors
	patches := make([]update.Patch, 0, len(doc.Patches))
	seen := make(map[domain.Version]int, len(doc.Patches))

	for i, wp := range doc.Patches {
		version, err := domain.VersionFromSlice(wp.Version)
		if err != nil {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("patches[%d].version", i), Message: "must be four non-negative integers"})
			continue
		}
		if first, dup := seen[version]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("patches[%d].version", i),
				Message: fmt.Sprintf("duplicates patches[%d] (%s)", first, version),
			})
		}
		seen[version] = i

		changes := make([]update.Change, 0, len(wp.Changes))
		for j, wc := range wp.Changes {
			field := fmt.Sprintf("patches[%d].changes[%d]", i, j)
			change, err := wc.toChange()
			if err != nil {
				errs = append(errs, ValidationError{Field: field, Message: err.Error()})
				continue
			}
			if err := change.Validate(); err != nil {
				errs = append(errs, ValidationError{Field: field, Message: validationMessage(err)})
				continue
			}
			changes = append(changes, change)
		}

		meta := domain.NewUserMeta(wp.Meta.ReleaseDate, wp.Meta.ReleaseNotes)
		patches = append(patches, update.NewPatch(changes, meta, version))
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return update.New(patches), nil
}

func validationMessage(err error) string {
	if appErr, ok := err.(*domain.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}

func intPtr(v int) *int {
	return &v
}
