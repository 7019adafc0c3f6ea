// Package stamp resolves the build metadata embedded into pages and ties
// fingerprint extraction, snippet generation and head injection together.
package stamp

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/verdrift/internal/errors"
)

const (
	// CompileTimeLayout formats window.version_date.
	CompileTimeLayout = "2006-01-02 15:04:05"
	// StampLayout is the short date stamp appended to build labels.
	StampLayout = "060102"

	packageManifest = "package.json"
)

// Metadata is the version information of one generation.
type Metadata struct {
	Version     string    `json:"version"`
	CompileTime string    `json:"compile_time"`
	Stamp       string    `json:"stamp"`
	BuiltAt     time.Time `json:"built_at"`
}

// Label returns "<version>.<stamp>", e.g. 1.4.2.261015.
func (m Metadata) Label() string {
	return m.Version + "." + m.Stamp
}

// VersionSource says where the version string comes from. An explicit
// Version wins; otherwise the "version" field of package.json in
// ProjectDir is used.
type VersionSource struct {
	Version    string
	ProjectDir string
}

// Resolve builds the Metadata for a generation happening at now. Missing or
// unreadable version information is a build error.
func Resolve(src VersionSource, now time.Time) (Metadata, error) {
	version, err := ResolveVersion(src)
	if err != nil {
		return Metadata{}, err
	}
	return NewMetadata(version, now), nil
}

// NewMetadata stamps version with now in local time.
func NewMetadata(version string, now time.Time) Metadata {
	now = now.Local()
	return Metadata{
		Version:     version,
		CompileTime: now.Format(CompileTimeLayout),
		Stamp:       now.Format(StampLayout),
		BuiltAt:     now,
	}
}

// ResolveVersion returns the version string described by src.
func ResolveVersion(src VersionSource) (string, error) {
	if v := strings.TrimSpace(src.Version); v != "" {
		return v, nil
	}

	dir := src.ProjectDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, packageManifest)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.ErrVersionUnavailable(path, err)
	}

	var manifest struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", errors.ErrVersionUnavailable(path, err)
	}

	v := strings.TrimSpace(manifest.Version)
	if v == "" {
		return "", errors.ErrVersionUnavailable(path, nil).
			WithContext("reason", "version field is missing or empty")
	}
	return v, nil
}
