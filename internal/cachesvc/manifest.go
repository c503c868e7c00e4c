package cachesvc

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultCachePrefix prefixes the versioned bucket name.
	DefaultCachePrefix = "budget-app-cache-"
	// SyncTag is the background-sync tag that triggers SYNC_REQUIRED.
	SyncTag = "sync-budget-data"
)

// Manifest describes one deployable version of the worker.
type Manifest struct {
	Version     string   `yaml:"version"`
	CachePrefix string   `yaml:"cache_prefix"`
	Precache    []string `yaml:"precache"`
	APIPattern  string   `yaml:"api_pattern"`
	OfflinePage string   `yaml:"offline_page"`
}

// CacheName is the bucket owned by this version.
func (m Manifest) CacheName() string {
	return m.CachePrefix + m.Version
}

// DefaultManifest returns the built-in v1 manifest.
func DefaultManifest() Manifest {
	return Manifest{
		Version:     "v1",
		CachePrefix: DefaultCachePrefix,
		Precache: []string{
			"/",
			"/manifest.json",
			"/icon-192x192.png",
			"/icon-512x512.png",
			"/favicon.ico",
			"/offline.html",
		},
		APIPattern:  "/api/",
		OfflinePage: "/offline.html",
	}
}

// Validate checks that the manifest can be installed.
func (m Manifest) Validate() error {
	var errs []error
	if strings.TrimSpace(m.Version) == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if m.APIPattern == "" {
		errs = append(errs, errors.New("api_pattern is required"))
	}
	for _, p := range m.Precache {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("precache path %q must start with /", p))
		}
	}
	if m.OfflinePage != "" && !strings.HasPrefix(m.OfflinePage, "/") {
		errs = append(errs, fmt.Errorf("offline_page %q must start with /", m.OfflinePage))
	}
	return errors.Join(errs...)
}

// LoadManifest reads a YAML manifest. Fields left out take the defaults.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var raw Manifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}

	m := DefaultManifest()
	if raw.Version != "" {
		m.Version = raw.Version
	}
	if raw.CachePrefix != "" {
		m.CachePrefix = raw.CachePrefix
	}
	if raw.Precache != nil {
		m.Precache = raw.Precache
	}
	if raw.APIPattern != "" {
		m.APIPattern = raw.APIPattern
	}
	if raw.OfflinePage != "" {
		m.OfflinePage = raw.OfflinePage
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest: %w", err)
	}
	return m, nil
}
