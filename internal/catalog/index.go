package catalog

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Provides identifies one OS build a spec can produce.
type Provides struct {
	Dist    string `json:"dist"`
	Version string `json:"version"`
	Arch    string `json:"arch"`
}

// IndexEntry maps one dist-version-arch key to the spec that provides
// it. ISOLocal reports whether the install image is already present on
// this host (a file:// source or the build engine's cache).
type IndexEntry struct {
	Provides Provides `json:"provides"`
	Path     string   `json:"path"`
	ISOLocal bool     `json:"iso_local"`
}

// Index maps "dist-version-arch" keys to spec entries.
type Index map[string]IndexEntry

// IndexOptions control index construction.
type IndexOptions struct {
	// CacheDir is where the build engine caches downloaded images,
	// consulted for the ISOLocal flag.
	CacheDir string

	// Save persists the built index to specs/index.json.
	Save bool
}

// Keys returns the index keys in natural sort order, so rhel-9.10
// lists after rhel-9.9.
func (ix Index) Keys() []string {
	keys := make([]string, 0, len(ix))
	for k := range ix {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return naturalLess(keys[i], keys[j])
	})
	return keys
}

// Index returns the spec index, loading the persisted specs/index.json
// when present and building it from the spec documents otherwise.
func (s *Store) Index(opts IndexOptions) (Index, error) {
	indexPath := filepath.Join(s.dataDir, "specs", "index.json")
	if data, err := os.ReadFile(indexPath); err == nil {
		ix := Index{}
		if err := json.Unmarshal(data, &ix); err != nil {
			return nil, &ConfigurationError{Layer: "spec index", Path: indexPath, Err: err}
		}
		return ix, nil
	}
	return s.BuildIndex(opts)
}

// BuildIndex scans every spec document, expands its provides section,
// and keys the result by dist-version-arch. Entries whose architecture
// is not offered by any platform or location are dropped.
func (s *Store) BuildIndex(opts IndexOptions) (Index, error) {
	arches, err := s.knownArches()
	if err != nil {
		return nil, err
	}

	specs, err := s.Specs()
	if err != nil {
		return nil, err
	}

	ix := Index{}
	for _, spec := range specs {
		provides, err := specProvides(spec)
		if err != nil {
			return nil, err
		}
		for _, p := range provides {
			if !arches[p.Arch] {
				continue
			}
			key := p.Dist + "-" + p.Version + "-" + p.Arch
			isoURL := resolveISOURL(spec.Doc, p.Version, p.Arch)
			ix[key] = IndexEntry{
				Provides: p,
				Path:     s.SpecPath(spec.Name),
				ISOLocal: isoLocal(isoURL, opts.CacheDir),
			}
		}
	}

	if opts.Save {
		if err := s.saveIndex(ix); err != nil {
			s.log.Warn("unable to save spec index", "error", err)
		}
	}
	return ix, nil
}

func (s *Store) saveIndex(ix Index) error {
	data, err := json.MarshalIndent(ix, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, "specs", "index.json"), data, 0o644)
}

// knownArches collects the architectures offered across platforms and
// locations. x86_64 implies amd64, the two names are interchangeable
// across distributions.
func (s *Store) knownArches() (map[string]bool, error) {
	arches := make(map[string]bool)
	collect := func(entries []Entry) {
		for _, e := range entries {
			list, _ := e.Doc["arches"].([]any)
			for _, v := range list {
				arch, ok := v.(string)
				if !ok {
					continue
				}
				arches[arch] = true
				if arch == "x86_64" {
					arches["amd64"] = true
				}
			}
		}
	}

	platforms, err := s.Platforms()
	if err != nil {
		return nil, err
	}
	collect(platforms)

	locations, err := s.Locations()
	if err != nil {
		return nil, err
	}
	collect(locations)
	return arches, nil
}

// specProvides expands one spec's provides section into concrete
// dist/version/arch tuples. Versions support dynamic-range expansion;
// version_specific entries may override the arch list for matching
// versions.
func specProvides(spec Entry) ([]Provides, error) {
	provides, ok := spec.Doc["provides"].(map[string]any)
	if !ok {
		return nil, nil
	}
	dist, _ := provides["dist"].(string)
	if dist == "" {
		return nil, &ConfigurationError{
			Layer: "spec " + spec.Name,
			Err:   fmt.Errorf("provides section has no dist"),
		}
	}

	var versions []string
	switch v := provides["versions"].(type) {
	case string:
		versions = ExplodeRange(v)
	case []any:
		for _, elem := range v {
			if str, ok := elem.(string); ok {
				versions = append(versions, ExplodeRange(str)...)
			}
		}
	}
	if len(versions) == 0 {
		return nil, &ConfigurationError{
			Layer: "spec " + spec.Name,
			Err:   fmt.Errorf("provides section has no versions"),
		}
	}

	defaultArches := stringList(provides["arches"])
	versionSpecific, _ := spec.Doc["version_specific"].([]any)

	var out []Provides
	for _, version := range versions {
		arches := defaultArches
		for _, raw := range versionSpecific {
			rule, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			pattern, _ := rule["version"].(string)
			if pattern == "" || !fullMatch(pattern, version) {
				continue
			}
			if override := stringList(rule["arches"]); len(override) > 0 {
				arches = override
			}
		}
		for _, arch := range arches {
			out = append(out, Provides{Dist: dist, Version: version, Arch: arch})
		}
	}
	return out, nil
}

func stringList(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, elem := range list {
		if s, ok := elem.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func fullMatch(pattern, value string) bool {
	re, err := regexp.Compile(`(?i)\A(?:` + pattern + `)\z`)
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

var rangePattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// ExplodeRange expands bracketed range or alternation segments inside
// a version string:
//
//	"9.[0-3]"     -> 9.0, 9.1, 9.2, 9.3
//	"7.[08-10]"   -> 7.08, 7.09, 7.10 (zero-padded when written padded)
//	"8.[4,6,10]"  -> 8.4, 8.6, 8.10
//
// A string without brackets expands to itself. Multiple segments
// produce the cross product.
func ExplodeRange(input string) []string {
	matches := rangePattern.FindAllStringSubmatch(input, -1)
	if len(matches) == 0 {
		return []string{input}
	}

	var parts [][]string
	for _, m := range matches {
		text := m[1]
		if strings.Contains(text, "-") && !strings.Contains(text, ",") {
			bounds := strings.SplitN(text, "-", 2)
			start, err1 := strconv.Atoi(bounds[0])
			end, err2 := strconv.Atoi(bounds[1])
			if err1 != nil || err2 != nil || end < start {
				parts = append(parts, []string{text})
				continue
			}
			padded := (strings.HasPrefix(bounds[0], "0") && len(bounds[0]) > 1) ||
				(strings.HasPrefix(bounds[1], "0") && len(bounds[1]) > 1)
			width := max(len(bounds[0]), len(bounds[1]))
			values := make([]string, 0, end-start+1)
			for i := start; i <= end; i++ {
				if padded {
					values = append(values, fmt.Sprintf("%0*d", width, i))
				} else {
					values = append(values, strconv.Itoa(i))
				}
			}
			parts = append(parts, values)
		} else {
			items := strings.Split(text, ",")
			values := make([]string, 0, len(items))
			for _, item := range items {
				values = append(values, strings.TrimSpace(item))
			}
			parts = append(parts, values)
		}
	}

	template := rangePattern.ReplaceAllString(input, "\x00")
	var out []string
	var build func(prefix string, rest string, idx int)
	build = func(prefix, rest string, idx int) {
		i := strings.IndexByte(rest, '\x00')
		if i < 0 {
			out = append(out, prefix+rest)
			return
		}
		for _, value := range parts[idx] {
			build(prefix+rest[:i]+value, rest[i+1:], idx+1)
		}
	}
	build("", template, 0)
	return out
}

// resolveISOURL extracts a spec's iso_url def for a version/arch pair,
// honouring version_specific overrides, and fills the version markers
// the way the full template engine would. This is a best-effort probe
// used only for the index's local-image flag, so unknown markers are
// left in place rather than failing.
func resolveISOURL(doc Document, version, arch string) string {
	isoURL := ""
	if defs, ok := doc["defs"].(map[string]any); ok {
		isoURL, _ = defs["iso_url"].(string)
	}
	for _, raw := range listOf(doc["version_specific"]) {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		pattern, _ := rule["version"].(string)
		if pattern == "" || !fullMatch(pattern, version) {
			continue
		}
		if defs, ok := rule["defs"].(map[string]any); ok {
			if u, ok := defs["iso_url"].(string); ok && u != "" {
				isoURL = u
			}
		}
	}
	if isoURL == "" {
		return ""
	}

	parts := strings.Split(version, ".")
	major, minor := parts[0], ""
	if len(parts) > 1 {
		minor = parts[1]
	}
	replacer := strings.NewReplacer(
		">>version<<", version,
		">>major<<", major,
		">>minor<<", minor,
		">>arch<<", arch,
	)
	return replacer.Replace(isoURL)
}

func listOf(v any) []any {
	list, _ := v.([]any)
	return list
}

// isoLocal reports whether the image behind isoURL is already present:
// file:// sources are stat'ed directly, remote URLs are checked against
// the build engine's cache directory.
func isoLocal(isoURL, cacheDir string) bool {
	if isoURL == "" {
		return false
	}
	if strings.HasPrefix(isoURL, "file://") {
		_, err := os.Stat(strings.TrimPrefix(isoURL, "file://"))
		return err == nil
	}
	name := FilenameFromURL(isoURL)
	if name == "" || cacheDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(cacheDir, name))
	return err == nil
}

// FilenameFromURL extracts the final path element of a URL, decoded
// and with spaces replaced so it is usable as a cache file name.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return strings.ReplaceAll(name, " ", "-")
}

var digitRun = regexp.MustCompile(`\d+|\D+`)

// naturalLess orders strings with embedded numbers numerically.
func naturalLess(a, b string) bool {
	as := digitRun.FindAllString(strings.ToLower(a), -1)
	bs := digitRun.FindAllString(strings.ToLower(b), -1)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			return an < bn
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}
