package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/woxQAQ/wsq-bridge/internal/bridge"
	"github.com/woxQAQ/wsq-bridge/internal/wasm"
)

// ManifestFile is the manifest name looked up in every plugin directory.
const ManifestFile = "manifest.yaml"

// Manifest represents the plugin manifest.yaml structure.
type Manifest struct {
	Name    string     `yaml:"name"`
	Version string     `yaml:"version"`
	Wasm    WasmConfig `yaml:"wasm"`

	// Comment limit the codec was built with. Must equal bridge.MaxCommentLen.
	MaxCommentLen int `yaml:"max_comment_len"`

	// Export name overrides; empty fields keep the NBIS names.
	Exports ExportsConfig `yaml:"exports"`

	Author  string `yaml:"author"`
	License string `yaml:"license"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig holds Wasm module configuration.
type WasmConfig struct {
	File string `yaml:"file"`
}

// ExportsConfig names the guest functions of a codec module.
type ExportsConfig struct {
	Malloc string `yaml:"malloc"`
	Free   string `yaml:"free"`
	Decode string `yaml:"decode"`
	Encode string `yaml:"encode"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "name",
			Message: "name is required",
		}
	}

	if m.Version == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "version",
			Message: "version is required",
		}
	}

	if m.Wasm.File == "" {
		return &ManifestValidationError{
			Path:    m.Path(),
			Field:   "wasm.file",
			Message: "wasm.file is required",
		}
	}

	// The guest's comment limit is fixed at build time.
	if m.MaxCommentLen != bridge.MaxCommentLen {
		return &ManifestValidationError{
			Path:  m.Path(),
			Field: "max_comment_len",
			Message: fmt.Sprintf("codec comment limit %d does not match %d",
				m.MaxCommentLen, bridge.MaxCommentLen),
		}
	}

	if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
		return &WasmNotFoundError{
			ManifestPath: m.Path(),
			WasmFile:     m.Wasm.File,
		}
	}

	return nil
}

// CodecExports returns the export names with overrides applied.
func (m *Manifest) CodecExports() wasm.Exports {
	exports := wasm.DefaultExports()
	if m.Exports.Malloc != "" {
		exports.Malloc = m.Exports.Malloc
	}
	if m.Exports.Free != "" {
		exports.Free = m.Exports.Free
	}
	if m.Exports.Decode != "" {
		exports.Decode = m.Exports.Decode
	}
	if m.Exports.Encode != "" {
		exports.Encode = m.Exports.Encode
	}
	return exports
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the Wasm file.
func (m *Manifest) WasmPath() string {
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
