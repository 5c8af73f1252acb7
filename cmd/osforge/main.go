// osforge resolves platform/location/spec build targets into finished
// build-engine documents and optionally drives the engine itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/osforge/osforge/internal/catalog"
	"github.com/osforge/osforge/internal/infrastructure/logging"
	"github.com/osforge/osforge/internal/infrastructure/settings"
	"github.com/osforge/osforge/internal/resolve"
	"github.com/osforge/osforge/internal/secret"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "osforge",
		Usage:     "resolve and run OS image builds",
		Version:   version + " (" + commit + ")",
		ArgsUsage: "[platform/location/spec [name] [ip]]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "settings file path"},
			&cli.BoolFlag{Name: "list", Aliases: []string{"l"}, Usage: "list buildable specs"},
			&cli.BoolFlag{Name: "avail", Aliases: []string{"a"}, Usage: "list only specs with a local image"},
			&cli.BoolFlag{Name: "list-platforms", Usage: "list platforms and locations"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "debug logging"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "verbose logging"},
			&cli.StringSliceFlag{Name: "set", Usage: "set and persist a setting (key=value)"},
			&cli.StringFlag{Name: "define", Aliases: []string{"D"}, Usage: "definition overrides (key=value, comma separated)"},
			&cli.StringFlag{Name: "fqdn", Aliases: []string{"F"}, Usage: "force the fully qualified name"},
			&cli.BoolFlag{Name: "dump-defs", Aliases: []string{"x"}, Usage: "print the definition table and exit"},
			&cli.BoolFlag{Name: "dump-config", Aliases: []string{"u"}, Usage: "print the build document and exit"},
			&cli.StringFlag{Name: "format", Value: "json", Usage: "dump format: json or yaml"},
			&cli.StringFlag{Name: "temp", Aliases: []string{"m"}, Usage: "working directory for the pass"},
			&cli.BoolFlag{Name: "local-only", Usage: "use locally present images instead of downloading"},
			&cli.BoolFlag{Name: "dry", Aliases: []string{"n"}, Usage: "stop after writing the build document"},
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "pass -force to the build engine"},
			&cli.StringFlag{Name: "on-error", Aliases: []string{"e"}, Usage: "build engine on-error behaviour"},
			&cli.BoolFlag{Name: "keep", Aliases: []string{"k"}, Usage: "keep artifacts on error"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	log := logging.New(logging.Config{Level: logLevel(c)}, version)

	st, err := settings.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.Bool("local-only") {
		st.LocalOnly = true
	}
	if err := applySets(c, st, log); err != nil {
		return err
	}

	store := catalog.NewStore(st.DataPath(), log)

	switch {
	case c.Bool("list") || c.Bool("avail"):
		return listSpecs(c, st, store)
	case c.Bool("list-platforms"):
		return listPlatforms(c, store)
	}

	if c.Args().Len() == 0 {
		// --set with no target is a valid invocation on its own.
		if c.IsSet("set") {
			return nil
		}
		return cli.ShowAppHelp(c)
	}

	target, err := resolve.ParseTarget(c.Args().Get(0), c.Args().Get(1), c.Args().Get(2))
	if err != nil {
		return err
	}

	backend, err := selectBackend(st, log)
	if err != nil {
		return err
	}

	res, err := resolve.Run(c.Context, target, resolve.Options{
		Settings: st,
		Store:    store,
		Secrets:  backend,
		Log:      log,
		Defines:  parseDefines(c.String("define")),
		FQDN:     c.String("fqdn"),
		TempDir:  c.String("temp"),
	})
	if err != nil {
		return err
	}

	switch {
	case c.Bool("dump-defs"):
		return dump(c.App.Writer, c.String("format"), map[string]any(res.Defs))
	case c.Bool("dump-config"):
		return dump(c.App.Writer, c.String("format"), res.Build)
	}

	return runBuilder(c, st, res, log)
}

func logLevel(c *cli.Context) string {
	switch {
	case c.Bool("debug"):
		return "debug"
	case c.Bool("verbose"):
		return "info"
	default:
		return "warn"
	}
}

// applySets handles --set key=value flags. Changed values persist
// immediately so a lone "--set" invocation works as configuration.
func applySets(c *cli.Context, st *settings.Settings, log *logging.Logger) error {
	changed := false
	for _, pair := range c.StringSlice("set") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("--set %q: want key=value", pair)
		}
		did, err := st.Set(key, value)
		if err != nil {
			return err
		}
		changed = changed || did
	}
	if !changed {
		return nil
	}
	if err := st.Save(); err != nil {
		return err
	}
	log.Info("settings saved", "path", st.Path())
	return nil
}

// selectBackend picks the secret backend configured in settings. The
// choice is fixed for the whole process.
func selectBackend(st *settings.Settings, log *logging.Logger) (secret.Backend, error) {
	switch st.CredentialSource {
	case "vault":
		backend, err := secret.NewVault(st.VaultAddr, st.VaultToken)
		if err != nil {
			return nil, err
		}
		log.Debug("using vault secret backend", "addr", st.VaultAddr)
		return backend, nil
	case "file":
		backend, err := secret.LoadFile(st.SecretsPath())
		if err != nil {
			return nil, err
		}
		log.Debug("using file secret backend", "path", st.SecretsPath())
		return backend, nil
	}
	return nil, fmt.Errorf("unknown credential source %q", st.CredentialSource)
}

func parseDefines(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

func listSpecs(c *cli.Context, st *settings.Settings, store *catalog.Store) error {
	ix, err := store.Index(catalog.IndexOptions{CacheDir: st.CacheDir, Save: st.SaveIndex})
	if err != nil {
		return err
	}
	onlyLocal := c.Bool("avail")
	for _, key := range ix.Keys() {
		entry := ix[key]
		if onlyLocal && !entry.ISOLocal {
			continue
		}
		mark := " "
		if entry.ISOLocal {
			mark = "*"
		}
		fmt.Fprintf(c.App.Writer, "%s %s\n", mark, key)
	}
	return nil
}

func listPlatforms(c *cli.Context, store *catalog.Store) error {
	platforms, err := store.Platforms()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "platforms:")
	for _, p := range platforms {
		if p.Name == "all" {
			continue
		}
		fmt.Fprintf(c.App.Writer, "  %s\n", p.Name)
	}

	locations, err := store.Locations()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "locations:")
	for _, l := range locations {
		fmt.Fprintf(c.App.Writer, "  %s\n", l.Name)
	}
	return nil
}
