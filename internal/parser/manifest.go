package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
	"gopkg.in/yaml.v3"
)

// ManifestConstructor builds a Parser from a loaded Manifest. Concrete
// parsers register their constructor under their manifest name at init
// time; this is the compile-time-linked stand-in for the source's
// dynamically imported "external module" (§4.B, §9).
type ManifestConstructor func(Manifest) (Parser, error)

var constructors = map[string]ManifestConstructor{}

// RegisterConstructor makes name available to LoadManifests. Concrete
// parser packages call this from an init() function.
func RegisterConstructor(name string, ctor ManifestConstructor) {
	constructors[name] = ctor
}

// Manifest is the plugin descriptor shape named in §4.B: lowercase-kebab
// name, semantic version, 10-500 char description, supported extensions
// (auto-normalized), optional dependencies, homepage, license.
type Manifest struct {
	Name             string   `yaml:"name"`
	Version          string   `yaml:"version"`
	Description      string   `yaml:"description"`
	Entrypoint       string   `yaml:"entrypoint"`
	SupportedFormats []string `yaml:"supported_formats"`
	Priority         int      `yaml:"priority"`
	Dependencies     []string `yaml:"dependencies,omitempty"`
	Homepage         string   `yaml:"homepage,omitempty"`
	License          string   `yaml:"license,omitempty"`
}

func (m Manifest) validate() error {
	if m.Name == "" || strings.ToLower(m.Name) != m.Name {
		return apperr.New(apperr.InvalidArgument, "manifest name must be lowercase kebab-case: "+m.Name)
	}
	if l := len(m.Description); l < 10 || l > 500 {
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("manifest %s description must be 10-500 chars, got %d", m.Name, l))
	}
	return nil
}

func normalizeFormats(formats []string) []string {
	out := make([]string, len(formats))
	for i, f := range formats {
		f = strings.ToLower(f)
		if !strings.HasPrefix(f, ".") {
			f = "." + f
		}
		out[i] = f
	}
	return out
}

// LoadManifests reads every *.yaml file in dirs, validates it, resolves its
// entrypoint against the registered constructors, and registers the
// resulting parser into r. A manifest whose entrypoint has no registered
// constructor logs a warning via the given warn func and is skipped rather
// than aborting the whole load (§4.B: "load failures log a warning and do
// not abort").
func LoadManifests(r *Registry, dirs []string, warn func(msg string, args ...any)) error {
	seen := map[string]bool{}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return apperr.Wrap(apperr.Internal, "read manifest directory "+dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				warn("manifest read failed", "path", path, "error", err)
				continue
			}
			var m Manifest
			if err := yaml.Unmarshal(data, &m); err != nil {
				warn("manifest parse failed", "path", path, "error", err)
				continue
			}
			if err := m.validate(); err != nil {
				warn("manifest invalid", "path", path, "error", err)
				continue
			}
			m.SupportedFormats = normalizeFormats(m.SupportedFormats)

			// Entry-point plugins take precedence over directory-based
			// plugins with the same name (§4.B) — first registration wins.
			if seen[m.Name] {
				continue
			}

			ctor, ok := constructors[m.Entrypoint]
			if !ok {
				warn("manifest entrypoint not registered", "path", path, "entrypoint", m.Entrypoint)
				continue
			}
			p, err := ctor(m)
			if err != nil {
				warn("manifest constructor failed", "path", path, "error", err)
				continue
			}
			r.Register(p)
			seen[m.Name] = true
		}
	}
	return nil
}
