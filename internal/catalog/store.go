package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/osforge/osforge/internal/infrastructure/logging"
)

// Document is one parsed configuration layer: a tree of nested
// mappings, sequences and scalars. Documents are immutable once
// loaded; merge output never aliases them.
type Document map[string]any

// Store loads and caches layer documents from the data directory.
//
// Parsed documents are read-only after load and shared between
// concurrent resolution passes; the cache is the only shared state and
// is guarded by a read-write mutex.
type Store struct {
	dataDir string
	log     *logging.Logger

	mu    sync.RWMutex
	cache map[string]Document
}

// NewStore creates a Store rooted at dataDir.
func NewStore(dataDir string, log *logging.Logger) *Store {
	return &Store{
		dataDir: dataDir,
		log:     log,
		cache:   make(map[string]Document),
	}
}

// DataDir returns the store's root directory.
func (s *Store) DataDir() string {
	return s.dataDir
}

// read parses the document at path, consulting the cache first.
// The syntax is chosen by extension: .toml parses as TOML, anything
// else as JSON.
func (s *Store) read(layer, path string) (Document, error) {
	s.mu.RLock()
	doc, ok := s.cache[path]
	s.mu.RUnlock()
	if ok {
		return doc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ConfigurationError{Layer: layer, Path: path, Err: ErrNotFound}
		}
		return nil, &ConfigurationError{Layer: layer, Path: path, Err: err}
	}

	doc = Document{}
	if strings.HasSuffix(path, ".toml") {
		err = toml.Unmarshal(data, &doc)
	} else {
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, &ConfigurationError{Layer: layer, Path: path, Err: err}
	}

	s.mu.Lock()
	s.cache[path] = doc
	s.mu.Unlock()
	return doc, nil
}

// Defaults returns the base defaults layer (platforms/all.json), or a
// nil document when the installation has none.
func (s *Store) Defaults() (Document, error) {
	path := filepath.Join(s.dataDir, "platforms", "all.json")
	doc, err := s.read("defaults", path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return doc, nil
}

// Platform returns the named platform document.
func (s *Store) Platform(name string) (Document, error) {
	path := filepath.Join(s.dataDir, "platforms", name+".json")
	return s.read("platform "+name, path)
}

// Location returns the named location document. Locations may be
// authored in JSON or TOML; when both files exist the JSON document
// wins and the TOML file is ignored (logged at debug level).
func (s *Store) Location(name string) (Document, error) {
	layer := "location " + name
	jsonPath := filepath.Join(s.dataDir, "locations", name+".json")
	tomlPath := filepath.Join(s.dataDir, "locations", name+".toml")

	if _, err := os.Stat(jsonPath); err == nil {
		if _, terr := os.Stat(tomlPath); terr == nil {
			s.log.Debug("location has both syntaxes, JSON wins", "location", name, "shadowed", tomlPath)
		}
		return s.read(layer, jsonPath)
	}
	if _, err := os.Stat(tomlPath); err == nil {
		return s.read(layer, tomlPath)
	}
	return nil, &ConfigurationError{Layer: layer, Path: jsonPath, Err: ErrNotFound}
}

// SpecPath returns the on-disk path of a named spec document.
func (s *Store) SpecPath(name string) string {
	return filepath.Join(s.dataDir, "specs", name, "spec.json")
}

// ChainedSpec is one element of a resolved spec include chain.
type ChainedSpec struct {
	Name string
	Path string
	Doc  Document
}

// SpecChain resolves a spec and its include ancestry into an ordered
// list, parents first, so callers can merge each document in turn and
// let the child win ties. Includes form a DAG: a spec reachable twice
// through different parents loads once, while a spec that includes one
// of its own ancestors fails with ErrIncludeCycle.
func (s *Store) SpecChain(name string) ([]ChainedSpec, error) {
	var chain []ChainedSpec
	done := make(map[string]bool)
	inProgress := make(map[string]bool)

	var load func(n string) error
	load = func(n string) error {
		if done[n] {
			return nil
		}
		if inProgress[n] {
			return &ConfigurationError{Layer: "spec " + n, Path: s.SpecPath(n), Err: ErrIncludeCycle}
		}
		inProgress[n] = true
		defer delete(inProgress, n)

		doc, err := s.read("spec "+n, s.SpecPath(n))
		if err != nil {
			return err
		}

		for _, parent := range includeNames(doc) {
			if err := load(parent); err != nil {
				return err
			}
		}

		done[n] = true
		chain = append(chain, ChainedSpec{Name: n, Path: s.SpecPath(n), Doc: doc})
		return nil
	}

	if err := load(name); err != nil {
		return nil, err
	}
	return chain, nil
}

// includeNames extracts a spec document's include references, which
// may be a single name or a list of names.
func includeNames(doc Document) []string {
	switch inc := doc["include"].(type) {
	case string:
		return []string{inc}
	case []any:
		names := make([]string, 0, len(inc))
		for _, v := range inc {
			if name, ok := v.(string); ok {
				names = append(names, name)
			}
		}
		return names
	default:
		return nil
	}
}

// Entry is one named document in a catalog listing.
type Entry struct {
	Name string
	Doc  Document
}

// Platforms lists every platform document, sorted by name. The "all"
// defaults document is included; callers that list user-facing
// platforms filter it out.
func (s *Store) Platforms() ([]Entry, error) {
	paths, err := filepath.Glob(filepath.Join(s.dataDir, "platforms", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing platforms: %w", err)
	}
	var entries []Entry
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		doc, err := s.read("platform "+name, path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name, Doc: doc})
	}
	sortEntries(entries)
	return entries, nil
}

// Locations lists every location document, sorted by name, honouring
// the JSON-over-TOML priority for names present in both syntaxes.
func (s *Store) Locations() ([]Entry, error) {
	dir := filepath.Join(s.dataDir, "locations")
	names := make(map[string]bool)
	for _, pattern := range []string{"*.json", "*.toml"} {
		paths, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("listing locations: %w", err)
		}
		for _, path := range paths {
			base := filepath.Base(path)
			names[strings.TrimSuffix(base, filepath.Ext(base))] = true
		}
	}

	var entries []Entry
	for name := range names {
		doc, err := s.Location(name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name, Doc: doc})
	}
	sortEntries(entries)
	return entries, nil
}

// Specs lists every spec document (specs/*/spec.json), sorted by name.
func (s *Store) Specs() ([]Entry, error) {
	paths, err := filepath.Glob(filepath.Join(s.dataDir, "specs", "*", "spec.json"))
	if err != nil {
		return nil, fmt.Errorf("listing specs: %w", err)
	}
	var entries []Entry
	for _, path := range paths {
		name := filepath.Base(filepath.Dir(path))
		doc, err := s.read("spec "+name, path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name, Doc: doc})
	}
	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}
