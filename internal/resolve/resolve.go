package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/osforge/osforge/internal/catalog"
	"github.com/osforge/osforge/internal/defs"
	"github.com/osforge/osforge/internal/infrastructure/logging"
	"github.com/osforge/osforge/internal/infrastructure/settings"
	"github.com/osforge/osforge/internal/merge"
	"github.com/osforge/osforge/internal/netresolve"
	"github.com/osforge/osforge/internal/secret"
	"github.com/osforge/osforge/internal/template"
)

// Options carries the collaborators and per-invocation switches for
// one resolution pass.
type Options struct {
	Settings *settings.Settings
	Store    *catalog.Store
	Secrets  secret.Backend
	Log      *logging.Logger

	// Defines are explicit key=value overrides. They always win.
	Defines map[string]string

	// FQDN forces the fully qualified name instead of deriving it
	// from the instance name and domain.
	FQDN string

	// TempDir uses a caller-chosen working directory instead of a
	// fresh temporary one.
	TempDir string
}

// Result is one fully resolved build: the document handed to the
// build engine, the definition table and environment behind it, and
// the pass working directory.
type Result struct {
	// ID uniquely names this pass, for logs and working files.
	ID string

	Target   Target
	SpecName string // spec document name backing the index entry
	Venv     string // virtualenv the spec asked for, if any

	// Build is the engine document: variables, provisioners and one
	// builder entry.
	Build map[string]any

	Defs    defs.Defs
	Evars   map[string]string
	Files   []any
	TempDir string

	engine *template.Engine
}

// Run resolves one build target into a finished engine document.
//
// Layers merge in order: defaults, platform, location, the spec's
// include chain parents-first, then the spec itself; each layer's
// dimension-specific overrides apply right after its content. The
// definition table is assembled with explicit precedence, derived
// network and naming facts are computed, and finally every string in
// the document is run through template substitution.
func Run(ctx context.Context, target Target, opts Options) (*Result, error) {
	log := opts.Log
	st := opts.Settings

	ix, err := opts.Store.Index(catalog.IndexOptions{CacheDir: st.CacheDir, Save: st.SaveIndex})
	if err != nil {
		return nil, err
	}
	entry, ok := ix[target.Spec]
	if !ok {
		return nil, &catalog.ConfigurationError{
			Layer: "spec " + target.Spec,
			Err:   fmt.Errorf("not in the spec index"),
		}
	}
	specName := filepath.Base(filepath.Dir(entry.Path))

	// Dimension values gate the _specific override rules. Platform,
	// location and the index-provided dist/version/arch are fixed for
	// the pass; firmware becomes visible once a layer defines it.
	dims := map[string]string{
		"platform": target.Platform,
		"location": target.Location,
		"dist":     entry.Provides.Dist,
		"version":  entry.Provides.Version,
		"arch":     entry.Provides.Arch,
	}
	tree := map[string]any{}
	dimValue := func(dim string) string {
		if v := dims[dim]; v != "" {
			return v
		}
		if section, ok := tree["defs"].(map[string]any); ok {
			if v, ok := section[dim].(string); ok {
				return v
			}
		}
		return ""
	}

	applyLayer := func(layer string, doc catalog.Document) error {
		if doc == nil {
			return nil
		}
		next, err := merge.ApplyLayer(tree, doc, dimValue)
		if err != nil {
			return &catalog.ConfigurationError{Layer: layer, Err: err}
		}
		tree = next
		return nil
	}

	defaultsDoc, err := opts.Store.Defaults()
	if err != nil {
		return nil, err
	}
	if err := applyLayer("defaults", defaultsDoc); err != nil {
		return nil, err
	}

	platformDoc, err := opts.Store.Platform(target.Platform)
	if err != nil {
		return nil, err
	}
	if err := applyLayer("platform "+target.Platform, platformDoc); err != nil {
		return nil, err
	}

	locationDoc, err := opts.Store.Location(target.Location)
	if err != nil {
		return nil, err
	}
	if err := checkAllowed(locationDoc, "platforms", target.Platform, "location "+target.Location); err != nil {
		return nil, err
	}
	if err := applyLayer("location "+target.Location, locationDoc); err != nil {
		return nil, err
	}

	chain, err := opts.Store.SpecChain(specName)
	if err != nil {
		return nil, err
	}
	for _, spec := range chain {
		if err := checkAllowed(spec.Doc, "platforms", target.Platform, "spec "+spec.Name); err != nil {
			return nil, err
		}
		if err := checkAllowed(spec.Doc, "locations", target.Location, "spec "+spec.Name); err != nil {
			return nil, err
		}
		if err := applyLayer("spec "+spec.Name, spec.Doc); err != nil {
			return nil, err
		}
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir, err = os.MkdirTemp("", "osforge-")
		if err != nil {
			return nil, fmt.Errorf("creating pass directory: %w", err)
		}
	} else if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating pass directory: %w", err)
	}

	d := composeDefs(target, entry, specName, tree, st, tempDir, opts)

	resolver := resolverFromDefs(d)
	if target.IP == "" {
		d["ip"] = lookupIP(ctx, resolver, defs.Format(d["fqdn"]), log)
	}

	// Defines win over everything, computed values included.
	for k, v := range opts.Defines {
		d[k] = v
	}

	config := sectionMap(tree, "config")
	if _, ok := config["name"]; !ok {
		config["name"] = specName
	}

	engine := template.New(d, opts.Secrets, resolver, log)

	resolvedDefs, err := engine.Document(ctx, d)
	if err != nil {
		return nil, err
	}
	d = resolvedDefs
	engine.Defs = d

	// Toggles read the resolved table, so a templated switch has its
	// markers evaluated before the boolean is interpreted.
	applyToggles(d, config, log)

	deriveISO(d, st, log)

	evars := defaultEvars()
	for k, v := range sectionMap(tree, "evars") {
		evars[k] = v
	}
	venv, _ := tree["venv"].(string)
	if venv != "" {
		evars["PATH"] = st.VenvPath(venv, "bin") + ":" + os.Getenv("PATH")
	}
	if _, ok := d["dns1"]; ok {
		evars["RES_OPTIONS"] = "nameserver >>dns1<<"
	}

	variables := map[string]any{
		"platform-name": target.Platform,
		"location-name": target.Location,
		"spec-name":     specName,
		"spec-config":   d["spec_config"],
		"name":          d["name"],
		"fqdn":          d["fqdn"],
	}
	for k, v := range sectionMap(tree, "variables") {
		variables[k] = v
	}

	provisioners := assembleProvisioners(tree)

	body := map[string]any{
		"evars":        evars,
		"variables":    variables,
		"provisioners": provisioners,
		"files":        sectionList(tree, "files"),
		"config":       config,
	}
	resolved, err := engine.Document(ctx, body)
	if err != nil {
		return nil, err
	}

	config = resolved["config"].(map[string]any)
	pruneEmpty(config, log)

	res := &Result{
		ID:       uuid.NewString(),
		Target:   target,
		SpecName: specName,
		Venv:     venv,
		Build: map[string]any{
			"variables":    resolved["variables"],
			"provisioners": resolved["provisioners"],
			"builders":     []any{config},
		},
		Defs:    d,
		Evars:   stringMap(resolved["evars"]),
		Files:   resolved["files"].([]any),
		TempDir: tempDir,
		engine:  engine,
	}
	log.Debug("resolved build target",
		"id", res.ID, "target", target.String(), "spec", specName, "temp_dir", tempDir)
	return res, nil
}

// composeDefs assembles the definition table in precedence order:
// built-ins, settings-derived paths, the merged layer defs, computed
// facts. CLI defines are applied by the caller afterwards.
func composeDefs(target Target, entry catalog.IndexEntry, specName string, tree map[string]any, st *settings.Settings, tempDir string, opts Options) defs.Defs {
	d := defs.New()

	d.Update(map[string]any{
		"spec_config":        "tasks/spec.yml",
		"ansible_extra_args": []any{},
		"ansible_extra_vars": "",
	})

	d.Update(map[string]any{
		"base_path":        st.BaseDir,
		"data_path":        st.DataPath(),
		"install_path":     st.InstallPath(),
		"ansible_playbook": st.Playbook,
	})

	d.Update(sectionMap(tree, "defs"))

	major, minor := defs.SplitVersion(entry.Provides.Version)
	d.Update(map[string]any{
		"platform":      target.Platform,
		"platform_name": target.Platform,
		"location":      target.Location,
		"location_name": target.Location,
		"spec_name":     specName,
		"spec_dir":      filepath.Dir(entry.Path),
		"dist":          entry.Provides.Dist,
		"version":       entry.Provides.Version,
		"major":         major,
		"minor":         minor,
		"arch":          entry.Provides.Arch,
		"temp_dir":      tempDir,
		"tmpdir":        tempDir,
	})
	if pt, ok := sectionMap(tree, "config")["type"].(string); ok && pt != "" {
		d["platform_type"] = pt
	} else {
		d["platform_type"] = target.Platform
	}

	d.SplitName(target.Name)
	d["name"] = target.Name

	fqdn := opts.FQDN
	switch {
	case fqdn != "":
	case strings.Contains(target.Name, "."):
		fqdn = target.Name
	default:
		domain, _ := d.GetString("domain")
		fqdn = target.Name + "." + domain
	}
	d["fqdn"] = fqdn

	if dns, ok := d["dns"].(map[string]any); ok {
		d.ApplyDNS(stringSlice(dns["servers"]), stringSlice(dns["search"]))
	}
	if ntp, ok := d["ntp"].(map[string]any); ok {
		d.ApplyNTP(stringSlice(ntp["servers"]))
	}

	if cidr, ok := d.GetString("cidr"); ok && strings.Contains(cidr, "/") {
		if network, err := defs.DeriveNetwork(cidr); err == nil {
			d["subnet"] = network.Subnet
			d["prefix"] = network.Prefix
			if _, ok := d.GetString("netmask"); !ok {
				d["netmask"] = network.Netmask
			}
			if gw, ok := d.GetString("gateway"); ok && gw != "" {
				d["gw"] = gw
			} else {
				d["gateway"] = network.Gateway
				d["gw"] = network.Gateway
			}
		} else {
			opts.Log.Warn("unusable cidr definition", "cidr", cidr, "error", err)
		}
	}

	if target.IP != "" {
		d["ip"] = target.IP
	}
	return d
}

// resolverFromDefs builds the pass resolver from the dns definition,
// falling back to the host configuration when a location names no
// servers of its own.
func resolverFromDefs(d defs.Defs) *netresolve.Resolver {
	if dns, ok := d["dns"].(map[string]any); ok {
		if servers := stringSlice(dns["servers"]); len(servers) > 0 {
			return &netresolve.Resolver{Servers: servers, Search: stringSlice(dns["search"])}
		}
	}
	if r, err := netresolve.FromSystem(); err == nil {
		return r
	}
	return &netresolve.Resolver{}
}

// lookupIP resolves the build's address from its fqdn. Like every DNS
// lookup in the pipeline this is non-fatal: hosts being imaged for
// the first time often have no record yet.
func lookupIP(ctx context.Context, resolver *netresolve.Resolver, fqdn string, log *logging.Logger) string {
	if fqdn == "" {
		return ""
	}
	addr, err := resolver.LookupA(ctx, fqdn)
	if err != nil {
		log.Warn("no address for build target", "fqdn", fqdn, "error", err)
		return ""
	}
	return addr
}

// checkAllowed enforces a document's allow-list for one dimension:
// a location may restrict which platforms reach it, a spec may
// restrict both platforms and locations.
func checkAllowed(doc catalog.Document, key, value, layer string) error {
	list, ok := doc[key].([]any)
	if !ok {
		return nil
	}
	for _, raw := range list {
		if s, ok := raw.(string); ok && s == value {
			return nil
		}
	}
	return &catalog.ConfigurationError{
		Layer: layer,
		Err:   fmt.Errorf("%s %q is not in the supported %s list", strings.TrimSuffix(key, "s"), value, key),
	}
}

// applyToggles honours the boot and shutcmd switches: a spec that
// boots from attached media drops the boot command block, an
// appliance that powers itself off drops the shutdown command.
func applyToggles(d defs.Defs, config map[string]any, log *logging.Logger) {
	if !boolDef(d, "boot", true) {
		log.Debug("boot disabled, removing boot command keys")
		delete(config, "boot_command")
		delete(config, "boot_wait")
	}
	if !boolDef(d, "shutcmd", true) {
		log.Debug("shutdown command disabled")
		delete(config, "shutdown_command")
	}
}

func boolDef(d defs.Defs, name string, fallback bool) bool {
	v, ok := d[name]
	if !ok {
		return fallback
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false" && val != "0"
	case float64:
		return val != 0
	}
	return fallback
}

// deriveISO fills the image definitions. A urls list supplies
// candidate images; its first usable entry becomes iso_url and
// iso_checksum. Local mode points iso_file at the cached copy instead
// and drops the checksum, since the engine is not downloading.
func deriveISO(d defs.Defs, st *settings.Settings, log *logging.Logger) {
	if urls, ok := d["urls"].([]any); ok {
		applyURLEntry(d, urls, st.LocalOnly)
	}
	isoURL, _ := d.GetString("iso_url")
	if isoURL == "" {
		return
	}
	if _, ok := d.GetString("iso_name"); !ok {
		if strings.HasPrefix(isoURL, "/") {
			d["iso_name"] = filepath.Base(isoURL)
		} else if name := catalog.FilenameFromURL(isoURL); name != "" {
			d["iso_name"] = name
		}
	}
	if !st.LocalOnly {
		return
	}
	name, _ := d.GetString("iso_name")
	local := filepath.Join(st.CacheDir, name)
	if _, err := os.Stat(local); err == nil {
		d["iso_file"] = local
	} else if strings.HasPrefix(isoURL, "/") {
		d["iso_file"] = isoURL
	} else {
		log.Warn("local-only build but image is not cached", "iso", name, "cache_dir", st.CacheDir)
	}
}

// applyURLEntry takes the first urls entry carrying a url and turns it
// into the iso definitions. Local mode maps the image into the cache
// directory and marks the checksum "none".
func applyURLEntry(d defs.Defs, urls []any, localOnly bool) {
	for _, raw := range urls {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		u, _ := entry["url"].(string)
		if u == "" {
			continue
		}
		var name string
		if strings.HasPrefix(u, "/") {
			name = filepath.Base(u)
		} else {
			name = catalog.FilenameFromURL(u)
		}
		d["iso_url"] = u
		d["iso_name"] = name
		if localOnly {
			d["iso_checksum"] = "none"
		} else if sum, _ := entry["checksum"].(string); sum != "" {
			d["iso_checksum"] = sum
		}
		return
	}
}

// defaultEvars are the environment defaults exported around the build
// engine invocation.
func defaultEvars() map[string]any {
	return map[string]any{
		"ANSIBLE_RETRY_FILES_ENABLED":   "False",
		"ANSIBLE_WARNINGS":              "False",
		"ANSIBLE_NOCOWS":                "1",
		"ANSIBLE_DISPLAY_SKIPPED_HOSTS": "False",
		"ANSIBLE_STDOUT_CALLBACK":       "minimal",
	}
}

// defaultProvisioner is the stock configuration-management step used
// when no layer supplies its own provisioners.
func defaultProvisioner() []any {
	return []any{
		map[string]any{
			"type":          "ansible",
			"playbook_file": ">>ansible_playbook<<",
			"extra_arguments": []any{
				"[>ansible_extra_args<]",
				"--extra-vars",
				"platform={{user `platform-name`}} location_name={{user `location-name`}} " +
					"spec_name={{user `spec-name`}} spec_config={{user `spec-config`}} " +
					"install_dir=\">>install_path<<\" >>ansible_extra_vars<<",
			},
		},
	}
}

func assembleProvisioners(tree map[string]any) []any {
	main := sectionList(tree, "provisioners")
	if len(main) == 0 {
		main = defaultProvisioner()
	}
	out := make([]any, 0, len(main)+4)
	out = append(out, sectionList(tree, "pre_provisioners")...)
	out = append(out, main...)
	out = append(out, sectionList(tree, "post_provisioners")...)
	return out
}

// pruneEmpty drops empty string values from the builder configuration.
// Most engines reject empty fields outright, and an empty value is
// always the residue of an optional definition that never got set.
func pruneEmpty(config map[string]any, log *logging.Logger) {
	for key, v := range config {
		if s, ok := v.(string); ok && s == "" {
			log.Warn("removing empty builder value", "key", key)
			delete(config, key)
		}
	}
}

func sectionMap(tree map[string]any, key string) map[string]any {
	if m, ok := tree[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func sectionList(tree map[string]any, key string) []any {
	if l, ok := tree[key].([]any); ok {
		return l
	}
	return []any{}
}

func stringSlice(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, elem := range list {
		if s, ok := elem.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func stringMap(v any) map[string]string {
	m, _ := v.(map[string]any)
	out := make(map[string]string, len(m))
	for k, elem := range m {
		out[k] = defs.Format(elem)
	}
	return out
}
