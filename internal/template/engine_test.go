package template

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/GehirnInc/crypt"
	"github.com/google/go-cmp/cmp"

	"github.com/osforge/osforge/internal/defs"
	"github.com/osforge/osforge/internal/infrastructure/logging"
	"github.com/osforge/osforge/internal/netresolve"
	"github.com/osforge/osforge/internal/secret"
)

type fakeSecrets struct {
	data  map[string]map[string]string
	calls int
	fail  bool
}

func (f *fakeSecrets) Resolve(_ context.Context, path, key string) (string, error) {
	f.calls++
	if f.fail {
		return "", &secret.CredentialError{Path: path, Key: key, Reason: "backend unreachable"}
	}
	entry, ok := f.data[path]
	if !ok {
		return "", &secret.CredentialError{Path: path, Key: key, Reason: "not found", Err: secret.ErrNotFound}
	}
	value, ok := entry[key]
	if !ok {
		return "", &secret.CredentialError{Path: path, Key: key, Reason: "not found", Err: secret.ErrNotFound}
	}
	return value, nil
}

type fakeResolver struct {
	addrs map[string]string
	calls int
	fail  bool
}

func (f *fakeResolver) LookupA(_ context.Context, name string) (string, error) {
	f.calls++
	if f.fail {
		return "", &netresolve.LookupError{Name: name, Err: errors.New("connection refused")}
	}
	addr, ok := f.addrs[name]
	if !ok {
		return "", &netresolve.LookupError{Name: name, Err: errors.New("NXDOMAIN")}
	}
	return addr, nil
}

func testEngine(d defs.Defs) *Engine {
	e := New(d, &fakeSecrets{}, nil, logging.Default())
	e.Env = func(string) string { return "" }
	return e
}

func TestString_BasicMarkers(t *testing.T) {
	d := defs.Defs{
		"name":    "web01",
		"domain":  "lab.example.net",
		"iso":     "/data/iso/rocky-9.4.iso",
		"cpus":    2.0,
		"cores":   4.0,
		"release": "9.4",
	}
	e := testEngine(d)
	e.Env = func(name string) string {
		if name == "HOME" {
			return "/home/build"
		}
		return ""
	}
	ctx := context.Background()

	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"no markers", "plain text", "plain text"},
		{"inline substitution", "host >>name<< ready", "host web01 ready"},
		{"inline twice", ">>name<<.>>domain<<", "web01.lab.example.net"},
		{"whole inline keeps type", ">>cpus<<", 2.0},
		{"whole-value replace keeps type", "%>cpus<%", 2.0},
		{"basename", "+>iso<+", "rocky-9.4.iso"},
		{"basename inline", "iso=+>iso<+ done", "iso=rocky-9.4.iso done"},
		{"numeric literal expression", "#>2*3+1<#", 7.0},
		{"numeric def expression", "total=#>cpus*cores<#", "total=8"},
		{"conditional expression", "E>release >= 9 ? 'new' : 'old'<E", "new"},
		{"environment variable", "$>HOME<$/cache", "/home/build/cache"},
		{"unset environment variable", "[$>NOPE<$]", "[]"},
		{"marker-ish text passes through", "a > b < c", "a > b < c"},
		{"unterminated marker passes through", "50%>done", "50%>done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.String(ctx, tt.input, "test")
			if err != nil {
				t.Fatalf("String(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("String(%q) = %v (%T), want %v (%T)", tt.input, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestString_WholeValueReplaceWinsMidString(t *testing.T) {
	d := defs.Defs{"disks": []any{"sda", "sdb"}}
	e := testEngine(d)

	got, err := e.String(context.Background(), "ignored %>disks<% ignored", "test")
	if err != nil {
		t.Fatalf("String() error = %v", err)
	}
	if diff := cmp.Diff([]any{"sda", "sdb"}, got); diff != "" {
		t.Errorf("whole-value replace mismatch (-want +got):\n%s", diff)
	}
}

func TestString_MissingDefIsFatal(t *testing.T) {
	e := testEngine(defs.Defs{})
	for _, input := range []string{">>nope<<", "%>nope<%", "+>nope<+", "#>nope+1<#", "[>nope<]"} {
		_, err := e.String(context.Background(), input, "config.field")
		if err == nil {
			t.Errorf("String(%q) expected error, got nil", input)
			continue
		}
		var resErr *ResolutionError
		if !errors.As(err, &resErr) {
			t.Errorf("String(%q) error = %T, want *ResolutionError", input, err)
			continue
		}
		if resErr.Field != "config.field" {
			t.Errorf("String(%q) field = %q, want config.field", input, resErr.Field)
		}
	}
}

func TestString_DNSDegradesToEmpty(t *testing.T) {
	d := defs.Defs{"fqdn": "web01.lab.example.net"}
	resolver := &fakeResolver{fail: true}
	e := New(d, &fakeSecrets{}, resolver, logging.Default())

	got, err := e.String(context.Background(), "ip=*>fqdn<*;", "test")
	if err != nil {
		t.Fatalf("String() error = %v, DNS failure must not be fatal", err)
	}
	if got != "ip=;" {
		t.Errorf("String() = %q, want empty substitution", got)
	}
}

func TestString_DNSMemoizedPerPass(t *testing.T) {
	d := defs.Defs{"fqdn": "web01.lab.example.net"}
	resolver := &fakeResolver{addrs: map[string]string{"web01.lab.example.net": "10.0.0.20"}}
	e := New(d, &fakeSecrets{}, resolver, logging.Default())
	ctx := context.Background()

	first, err := e.String(ctx, "*>fqdn<*", "a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.String(ctx, "*>fqdn<*", "b")
	if err != nil {
		t.Fatal(err)
	}
	if first != second || first != "10.0.0.20" {
		t.Errorf("lookups differ: %v vs %v", first, second)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1 (memoized)", resolver.calls)
	}
}

func TestString_SecretFailureIsFatal(t *testing.T) {
	e := New(defs.Defs{}, &fakeSecrets{fail: true}, nil, logging.Default())

	_, err := e.String(context.Background(), "|>images/linux:password<|", "test")
	if err == nil {
		t.Fatal("unreachable secret backend must be fatal")
	}
	var credErr *secret.CredentialError
	if !errors.As(err, &credErr) {
		t.Errorf("error chain = %v, want *CredentialError reachable", err)
	}
}

func TestString_SecretLookup(t *testing.T) {
	backend := &fakeSecrets{data: map[string]map[string]string{
		"images/linux": {"username": "builder", "password": "s3cret"},
	}}
	e := New(defs.Defs{"name": "linux"}, backend, nil, logging.Default())
	ctx := context.Background()

	got, err := e.String(ctx, "|>images/linux:username<|", "test")
	if err != nil {
		t.Fatal(err)
	}
	if got != "builder" {
		t.Errorf("secret = %v, want builder", got)
	}

	// Inner inline markers resolve before the outer lookup.
	got, err = e.String(ctx, "|>images/>>name<<:password<|", "test")
	if err != nil {
		t.Fatal(err)
	}
	if got != "s3cret" {
		t.Errorf("nested secret = %v, want s3cret", got)
	}

	if _, err := e.String(ctx, "|>images/linux:username<|", "again"); err != nil {
		t.Fatal(err)
	}
	if backend.calls != 2 {
		t.Errorf("backend called %d times, want 2 (memoized per ref)", backend.calls)
	}
}

func TestString_PasswordHashes(t *testing.T) {
	backend := &fakeSecrets{data: map[string]map[string]string{
		"host/web01": {"root": "changeme"},
	}}
	e := New(defs.Defs{}, backend, nil, logging.Default())
	ctx := context.Background()

	tests := []struct {
		input  string
		prefix string
		scheme crypt.Crypt
	}{
		{"1>host/web01:root<1", "$1$", crypt.MD5},
		{"5>host/web01:root<5", "$5$", crypt.SHA256},
		{"6>host/web01:root<6", "$6$", crypt.SHA512},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, err := e.String(ctx, tt.input, "test")
			if err != nil {
				t.Fatal(err)
			}
			hash, ok := got.(string)
			if !ok || !strings.HasPrefix(hash, tt.prefix) {
				t.Fatalf("hash = %v, want %s prefix", got, tt.prefix)
			}
			if err := tt.scheme.New().Verify(hash, []byte("changeme")); err != nil {
				t.Errorf("hash does not verify against password: %v", err)
			}
		})
	}
}

func TestString_HashStableWithinPass(t *testing.T) {
	backend := &fakeSecrets{data: map[string]map[string]string{
		"host/web01": {"root": "changeme"},
	}}
	e := New(defs.Defs{}, backend, nil, logging.Default())
	ctx := context.Background()

	first, err := e.String(ctx, "6>host/web01:root<6", "a")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.String(ctx, "6>host/web01:root<6", "b")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("same hash marker produced two different salts in one pass")
	}
}

func TestDocument_WalkAndSplice(t *testing.T) {
	d := defs.Defs{
		"name":     "web01",
		"packages": []any{"vim", "curl"},
		"extras":   "htop tmux",
		"key_name": "ssh_username",
		"user":     "builder",
	}
	e := testEngine(d)

	doc := map[string]any{
		">>key_name<<": ">>user<<",
		"motd":         "welcome to >>name<<",
		"count":        3.0,
		"install": []any{
			"base",
			"[>packages<]",
			"[>extras<]",
			"pkgs: [>packages<]",
		},
	}

	got, err := e.Document(context.Background(), doc)
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}

	want := map[string]any{
		"ssh_username": "builder",
		"motd":         "welcome to web01",
		"count":        3.0,
		"install": []any{
			"base",
			"vim", "curl",
			"htop", "tmux",
			"pkgs: vim curl",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Document() mismatch (-want +got):\n%s", diff)
	}
}

func TestDocument_SpliceOfUnsetDefDropsElement(t *testing.T) {
	e := testEngine(defs.Defs{"known": []any{"a", "b"}})

	doc := map[string]any{
		"args": []any{"[>known<]", "[>missing<]", "tail"},
	}
	got, err := e.Document(context.Background(), doc)
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	want := map[string]any{
		"args": []any{"a", "b", "tail"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Document() mismatch (-want +got):\n%s", diff)
	}

	// Embedded in surrounding text the same unknown reference stays a
	// hard failure.
	_, err = e.Document(context.Background(), map[string]any{
		"args": []any{"pkgs: [>missing<]"},
	})
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("Document() error = %T, want *ResolutionError for in-string reference", err)
	}
}

func TestDocument_ErrorNamesFieldPath(t *testing.T) {
	e := testEngine(defs.Defs{})
	doc := map[string]any{
		"config": map[string]any{
			"boot_command": []any{"ok", ">>missing<<"},
		},
	}
	_, err := e.Document(context.Background(), doc)
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("Document() error = %T, want *ResolutionError", err)
	}
	if resErr.Field != "config.boot_command[1]" {
		t.Errorf("field path = %q, want config.boot_command[1]", resErr.Field)
	}
	if !errors.Is(err, ErrMissingDef) {
		t.Errorf("error = %v, want ErrMissingDef in chain", err)
	}
}
