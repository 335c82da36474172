package manifest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/freewebtopdf/upnet/internal/domain"
	"github.com/freewebtopdf/upnet/internal/fsutil"
	"github.com/freewebtopdf/upnet/internal/update"
)

// DefaultFileName is the manifest name used when none is configured
const DefaultFileName = "update.json"

// Format is a manifest encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath infers the encoding from a file extension. Anything other
// than .yaml or .yml is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Decode parses and validates a manifest. The returned Update is unbound.
func Decode(data []byte, format Format) (*update.Update, error) {
	var doc wireUpdate

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, domain.NewAppErrorWithCause(domain.ErrManifestInvalid, "Failed to parse manifest YAML", 422, err, nil)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, domain.NewAppErrorWithCause(domain.ErrManifestInvalid, "Failed to parse manifest JSON", 422, err, nil)
		}
	}

	if errs := validateStructure(&doc); len(errs) > 0 {
		return nil, invalid(errs)
	}

	u, errs := doc.toUpdate()
	if len(errs) > 0 {
		return nil, invalid(errs)
	}
	return u, nil
}

// DecodeFile reads and decodes a manifest file from fsys
func DecodeFile(fsys afero.Fs, path string) (*update.Update, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NewAppErrorWithCause(domain.ErrNotFound, "Manifest file not found", 404, err, map[string]any{"path": path})
		}
		return nil, domain.NewIOFailure("Failed to read manifest file", err, map[string]any{"path": path})
	}
	return Decode(data, FormatFromPath(path))
}

// Encode renders u in the given format
func Encode(u *update.Update, format Format) ([]byte, error) {
	doc := fromUpdate(u)

	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, domain.NewAppErrorWithCause(domain.ErrIOFailure, "Failed to encode manifest YAML", 500, err, nil)
		}
		if err := enc.Close(); err != nil {
			return nil, domain.NewAppErrorWithCause(domain.ErrIOFailure, "Failed to encode manifest YAML", 500, err, nil)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, domain.NewAppErrorWithCause(domain.ErrIOFailure, "Failed to encode manifest JSON", 500, err, nil)
		}
		return append(data, '\n'), nil
	}
}

// EncodeFile writes u to path atomically, choosing the format from the extension
func EncodeFile(fsys afero.Fs, path string, u *update.Update) error {
	data, err := Encode(u, FormatFromPath(path))
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(fsys, path, data, 0o644); err != nil {
		return domain.NewIOFailure("Failed to write manifest file", err, map[string]any{"path": path})
	}
	return nil
}
