package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.BuilderCmd != "packer" {
		t.Errorf("BuilderCmd = %q, want %q", s.BuilderCmd, "packer")
	}
	if s.CredentialSource != "vault" {
		t.Errorf("CredentialSource = %q, want %q", s.CredentialSource, "vault")
	}
	if s.DataDir != "data" {
		t.Errorf("DataDir = %q, want %q", s.DataDir, "data")
	}
}

func TestLoad_File(t *testing.T) {
	content := `
data_dir = "/srv/osforge/data"
builder_cmd = "/usr/local/bin/packer"
credential_source = "file"
local_only = true
`
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing settings fixture: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.DataDir != "/srv/osforge/data" {
		t.Errorf("DataDir = %q, want /srv/osforge/data", s.DataDir)
	}
	if !s.LocalOnly {
		t.Error("LocalOnly = false, want true")
	}
	if s.CredentialSource != "file" {
		t.Errorf("CredentialSource = %q, want file", s.CredentialSource)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("OSFORGE_VAULT_ADDR", "http://vault.test:8200")
	path := filepath.Join(t.TempDir(), "settings.toml")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.VaultAddr != "http://vault.test:8200" {
		t.Errorf("VaultAddr = %q, want env value", s.VaultAddr)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte("data_dir = [unclosed"), 0o600); err != nil {
		t.Fatalf("writing settings fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}

func TestLoad_InvalidCredentialSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte(`credential_source = "keychain"`), 0o600); err != nil {
		t.Fatalf("writing settings fixture: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() expected validation error for bad credential_source, got nil")
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		name        string
		key, value  string
		wantChanged bool
		wantErr     bool
	}{
		{"string change", "builder_cmd", "packer-ng", true, false},
		{"string same", "builder_cmd", "packer", false, false},
		{"bool change", "local_only", "true", true, false},
		{"bool invalid", "local_only", "maybe", false, true},
		{"unknown key", "no_such_key", "x", false, true},
		{"host-specific key rejected", "base_dir", "/opt", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := defaultSettings()
			changed, err := s.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set(%q, %q) error = %v, wantErr %v", tt.key, tt.value, err, tt.wantErr)
			}
			if changed != tt.wantChanged {
				t.Errorf("Set(%q, %q) changed = %v, want %v", tt.key, tt.value, changed, tt.wantChanged)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := s.Set("vault_addr", "http://vault.test:8200"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := s.Set("save_index", "true"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if reloaded.VaultAddr != "http://vault.test:8200" {
		t.Errorf("VaultAddr = %q after reload", reloaded.VaultAddr)
	}
	if !reloaded.SaveIndex {
		t.Error("SaveIndex = false after reload, want true")
	}
}

func TestDataPath(t *testing.T) {
	s := defaultSettings()
	s.BaseDir = "/opt/osforge"
	s.DataDir = "data"

	if got := s.DataPath("specs", "rhel-9.4-x86_64"); got != "/opt/osforge/data/specs/rhel-9.4-x86_64" {
		t.Errorf("DataPath() = %q", got)
	}

	s.DataDir = "/srv/data"
	if got := s.DataPath(); got != "/srv/data" {
		t.Errorf("DataPath() with absolute DataDir = %q", got)
	}
}
