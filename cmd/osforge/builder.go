package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/osforge/osforge/internal/infrastructure/logging"
	"github.com/osforge/osforge/internal/infrastructure/settings"
	"github.com/osforge/osforge/internal/resolve"
)

// runBuilder hands a resolved build to the external build engine: the
// document is written to the pass directory, generated files are
// materialized next to it, the pass environment is exported, and the
// engine runs with its output streamed through. --dry stops after the
// document is on disk.
func runBuilder(c *cli.Context, st *settings.Settings, res *resolve.Result, log *logging.Logger) error {
	if err := res.GenerateFiles(c.Context, st); err != nil {
		return err
	}

	docPath := filepath.Join(res.TempDir, res.SpecName+".json")
	doc, err := json.MarshalIndent(res.Build, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding build document: %w", err)
	}
	if err := os.WriteFile(docPath, doc, 0o644); err != nil {
		return fmt.Errorf("writing build document: %w", err)
	}
	log.Info("build document written", "path", docPath, "id", res.ID)

	if c.Bool("dry") {
		fmt.Fprintln(c.App.Writer, docPath)
		return nil
	}

	args := []string{"build"}
	if onError := c.String("on-error"); onError != "" {
		args = append(args, "-on-error="+onError)
	} else if c.Bool("keep") {
		args = append(args, "-on-error=abort")
	}
	if c.Bool("force") {
		args = append(args, "-force")
	}
	if c.Bool("debug") {
		args = append(args, "-debug")
	}
	args = append(args, docPath)

	cmd := exec.CommandContext(c.Context, st.BuilderCmd, args...)
	cmd.Dir = st.DataPath()
	cmd.Env = buildEnv(st, res)
	cmd.Stdout = c.App.Writer
	cmd.Stderr = c.App.ErrWriter

	log.Info("running build engine", "cmd", st.BuilderCmd, "args", args)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	return nil
}

// buildEnv assembles the engine's environment: the current process
// environment, the pass evars on top, and the vault coordinates when
// the document references vault template functions at build time.
func buildEnv(st *settings.Settings, res *resolve.Result) []string {
	env := os.Environ()
	for key, value := range res.Evars {
		env = append(env, key+"="+value)
	}
	if st.VaultAddr != "" && st.VaultToken != "" {
		env = append(env, "VAULT_ADDR="+st.VaultAddr, "VAULT_TOKEN="+st.VaultToken)
	}
	return env
}

// dump writes a document as indented JSON or as YAML.
func dump(w io.Writer, format string, doc any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "    ")
		return enc.Encode(doc)
	}
	return fmt.Errorf("unknown dump format %q, want json or yaml", format)
}
