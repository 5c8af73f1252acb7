package secret

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// FileBackend serves credentials from a local plain-text file, for
// installations without a Vault deployment.
//
// The file holds one path per line: the path, then key=value pairs,
// whitespace separated. Blank lines and # comments are ignored.
//
//	# lab credentials
//	host/web01 root=changeme ansible=secret
//	ipmi/rack4 admin=ADMIN
type FileBackend struct {
	entries map[string]map[string]string
}

// LoadFile parses path into a FileBackend. The file must not be
// world-readable; a permission looser than 0600 is rejected so a
// misconfigured secrets file fails loudly instead of silently leaking.
func LoadFile(path string) (*FileBackend, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("secrets file: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("secrets file %s: mode %04o is too open, want 0600", path, info.Mode().Perm())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("secrets file: %w", err)
	}
	defer f.Close()

	b := &FileBackend{entries: make(map[string]map[string]string)}
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("secrets file %s:%d: want path followed by key=value pairs", path, lineNo)
		}
		entry := b.entries[fields[0]]
		if entry == nil {
			entry = make(map[string]string)
			b.entries[fields[0]] = entry
		}
		for _, pair := range fields[1:] {
			key, value, ok := strings.Cut(pair, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("secrets file %s:%d: malformed pair %q", path, lineNo, pair)
			}
			entry[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("secrets file: %w", err)
	}
	return b, nil
}

// Resolve implements Backend.
func (b *FileBackend) Resolve(_ context.Context, path, key string) (string, error) {
	entry, ok := b.entries[path]
	if !ok {
		return "", &CredentialError{Path: path, Key: key, Reason: "path not in secrets file", Err: ErrNotFound}
	}
	value, ok := entry[key]
	if !ok {
		return "", &CredentialError{Path: path, Key: key, Reason: "key not in secrets file", Err: ErrNotFound}
	}
	if value == "" {
		return "", &CredentialError{Path: path, Key: key, Reason: "value is blank"}
	}
	return value, nil
}
