package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Settings is the persisted tool configuration. It is loaded once at
// startup, optionally mutated by --set flags (which save immediately),
// and treated as immutable input for the rest of the process.
type Settings struct {
	// BaseDir is the installation root. Relative directory settings
	// resolve against it. Host-specific, never persisted.
	BaseDir string `toml:"-"`

	// DataDir holds the platforms/, locations/, specs/ and files/
	// trees. Relative to BaseDir unless absolute.
	DataDir string `toml:"data_dir"`

	// BuilderCmd is the external build engine executable.
	BuilderCmd string `toml:"builder_cmd"`

	// CacheDir is where the build engine caches downloaded images.
	CacheDir string `toml:"cache_dir"`

	// InstallDir holds OS installer payloads referenced by specs.
	InstallDir string `toml:"install_dir"`

	// VenvDir holds named virtualenvs activated per spec. Host-specific,
	// never persisted.
	VenvDir string `toml:"-"`

	// Playbook is the default configuration playbook name.
	Playbook string `toml:"playbook"`

	// CredentialSource selects the secret backend: "vault" or "file".
	CredentialSource string `toml:"credential_source"`

	// VaultAddr and VaultToken configure the remote secret store.
	VaultAddr  string `toml:"vault_addr"`
	VaultToken string `toml:"vault_token"`

	// SecretsFile is the local secrets file path, used when
	// CredentialSource is "file". Relative to the config directory
	// unless absolute.
	SecretsFile string `toml:"secrets_file"`

	// LocalOnly uses locally present images instead of downloading.
	LocalOnly bool `toml:"local_only"`

	// SaveIndex persists the computed spec index to specs/index.json.
	SaveIndex bool `toml:"save_index"`

	path string // file the settings were loaded from / save to
}

// persistedKeys are the keys --set accepts and Save writes. BaseDir and
// VenvDir are host-specific and stay out of the file, matching the
// loaded/saved asymmetry of the settings lifecycle.
var persistedKeys = map[string]bool{
	"data_dir":          true,
	"builder_cmd":       true,
	"cache_dir":         true,
	"install_dir":       true,
	"playbook":          true,
	"credential_source": true,
	"vault_addr":        true,
	"vault_token":       true,
	"secrets_file":      true,
	"local_only":        true,
	"save_index":        true,
}

// defaultSettings returns a Settings with sensible defaults.
func defaultSettings() *Settings {
	base, err := os.Getwd()
	if err != nil {
		base = "."
	}
	home, _ := os.UserHomeDir()
	return &Settings{
		BaseDir:          base,
		DataDir:          "data",
		BuilderCmd:       "packer",
		CacheDir:         "/tmp",
		InstallDir:       "install",
		VenvDir:          filepath.Join(home, ".venv"),
		Playbook:         "config.yml",
		CredentialSource: "vault",
		SecretsFile:      "secrets",
	}
}

// DefaultPath returns the default settings file location,
// ~/.config/osforge/settings.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "settings.toml"
	}
	return filepath.Join(home, ".config", "osforge", "settings.toml")
}

// Load reads settings from a TOML file and applies environment
// variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. TOML file values (override defaults; a missing file is not an
//     error, first runs have no settings yet)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern OSFORGE_KEY, for example
// OSFORGE_DATA_DIR or OSFORGE_VAULT_TOKEN.
func Load(path string) (*Settings, error) {
	s := defaultSettings()
	if path == "" {
		path = DefaultPath()
	}
	s.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parsing settings file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	applyEnvOverrides(s)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}
	return s, nil
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(s *Settings) {
	if v := os.Getenv("OSFORGE_BASE_DIR"); v != "" {
		s.BaseDir = v
	}
	if v := os.Getenv("OSFORGE_DATA_DIR"); v != "" {
		s.DataDir = v
	}
	if v := os.Getenv("OSFORGE_BUILDER_CMD"); v != "" {
		s.BuilderCmd = v
	}
	if v := os.Getenv("OSFORGE_VAULT_ADDR"); v != "" {
		s.VaultAddr = v
	}
	if v := os.Getenv("OSFORGE_VAULT_TOKEN"); v != "" {
		s.VaultToken = v
	}
	if v := os.Getenv("OSFORGE_SECRETS_FILE"); v != "" {
		s.SecretsFile = v
	}
}

// Validate checks the settings for errors.
func (s *Settings) Validate() error {
	var errs []string

	if s.DataDir == "" {
		errs = append(errs, "data_dir is required")
	}
	if s.BuilderCmd == "" {
		errs = append(errs, "builder_cmd is required")
	}
	switch s.CredentialSource {
	case "vault", "file":
	default:
		errs = append(errs, fmt.Sprintf("credential_source must be \"vault\" or \"file\", got %q", s.CredentialSource))
	}

	if len(errs) > 0 {
		return fmt.Errorf("settings errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Set applies a single key=value override from --set. It reports
// whether the value actually changed; unknown keys are an error.
func (s *Settings) Set(key, value string) (bool, error) {
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if !persistedKeys[key] {
		return false, fmt.Errorf("invalid setting key: %s", key)
	}

	set := func(field *string) bool {
		if *field == value {
			return false
		}
		*field = value
		return true
	}
	setBool := func(field *bool) (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("setting %s wants a boolean, got %q", key, value)
		}
		if *field == b {
			return false, nil
		}
		*field = b
		return true, nil
	}

	switch key {
	case "data_dir":
		return set(&s.DataDir), nil
	case "builder_cmd":
		return set(&s.BuilderCmd), nil
	case "cache_dir":
		return set(&s.CacheDir), nil
	case "install_dir":
		return set(&s.InstallDir), nil
	case "playbook":
		return set(&s.Playbook), nil
	case "credential_source":
		return set(&s.CredentialSource), nil
	case "vault_addr":
		return set(&s.VaultAddr), nil
	case "vault_token":
		return set(&s.VaultToken), nil
	case "secrets_file":
		return set(&s.SecretsFile), nil
	case "local_only":
		return setBool(&s.LocalOnly)
	case "save_index":
		return setBool(&s.SaveIndex)
	}
	return false, fmt.Errorf("invalid setting key: %s", key)
}

// Save writes the persisted settings back to the file they were loaded
// from, creating the parent directory if needed.
func (s *Settings) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing settings file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return nil
}

// Path returns the file the settings were loaded from.
func (s *Settings) Path() string {
	return s.path
}

// ConfigDir returns the directory holding the settings file. The local
// secrets file lives here by default.
func (s *Settings) ConfigDir() string {
	return filepath.Dir(s.path)
}

// resolve returns dir joined onto BaseDir unless dir is absolute.
func (s *Settings) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(s.BaseDir, dir)
}

// DataPath returns an absolute path under the data directory.
func (s *Settings) DataPath(elem ...string) string {
	return filepath.Join(append([]string{s.resolve(s.DataDir)}, elem...)...)
}

// InstallPath returns the absolute installer payload directory.
func (s *Settings) InstallPath() string {
	return s.resolve(s.InstallDir)
}

// VenvPath returns an absolute path under the virtualenv directory.
func (s *Settings) VenvPath(elem ...string) string {
	return filepath.Join(append([]string{s.resolve(s.VenvDir)}, elem...)...)
}

// SecretsPath returns the absolute local secrets file path, resolved
// against the config directory when relative.
func (s *Settings) SecretsPath() string {
	if filepath.IsAbs(s.SecretsFile) {
		return s.SecretsFile
	}
	return filepath.Join(s.ConfigDir(), s.SecretsFile)
}
