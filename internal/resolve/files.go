package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/osforge/osforge/internal/defs"
	"github.com/osforge/osforge/internal/infrastructure/settings"
)

// GenerateFiles materializes the spec's generated-file entries into
// the pass working directory. Each entry concatenates its sources
// from the data directory's files tree, runs template substitution
// over the combined content, and writes the result to dest under the
// temp dir. Source paths are confined to the files tree; a path that
// escapes it fails the pass.
func (r *Result) GenerateFiles(ctx context.Context, st *settings.Settings) error {
	filesRoot := st.DataPath("files")
	for _, raw := range r.Files {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var content strings.Builder
		for _, src := range sectionListAny(entry["sources"]) {
			name := defs.Format(src)
			path, err := securePath(filesRoot, name)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading source file %s: %w", name, err)
			}
			content.Write(data)
		}

		substituted, err := r.engine.String(ctx, content.String(), "files")
		if err != nil {
			return err
		}
		text := defs.Format(substituted)
		if text == "" {
			continue
		}

		dest := defs.Format(entry["dest"])
		if dest == "" {
			continue
		}
		destPath := filepath.Join(r.TempDir, filepath.Clean("/"+dest))
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("creating destination directory: %w", err)
		}
		if err := os.WriteFile(destPath, []byte(text), 0o644); err != nil {
			return fmt.Errorf("writing generated file %s: %w", dest, err)
		}
	}
	return nil
}

// securePath joins a user-supplied relative path onto base and
// verifies the result stays inside base. Traversal components are
// rejected outright.
func securePath(base, user string) (string, error) {
	if strings.Contains(user, "..") {
		return "", fmt.Errorf("source path %q contains traversal components", user)
	}
	joined := filepath.Clean(filepath.Join(base, strings.TrimPrefix(user, "/")))
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", fmt.Errorf("source path %q escapes the files directory", user)
	}
	return joined, nil
}

func sectionListAny(v any) []any {
	list, _ := v.([]any)
	return list
}
