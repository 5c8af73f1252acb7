package template

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/GehirnInc/crypt"

	"github.com/osforge/osforge/internal/defs"
	"github.com/osforge/osforge/internal/expr"
	"github.com/osforge/osforge/internal/infrastructure/logging"
	"github.com/osforge/osforge/internal/netresolve"
	"github.com/osforge/osforge/internal/secret"
)

// Engine resolves template markers against a definition table, a
// secret backend and a DNS resolver.
//
// An Engine serves exactly one resolution pass. DNS and secret
// results are memoized per engine so a marker resolved twice in one
// pass yields the identical value even when the underlying lookup is
// non-deterministic; two concurrent passes use two engines and never
// share that state.
// HostResolver answers forward DNS lookups. *netresolve.Resolver is
// the production implementation.
type HostResolver interface {
	LookupA(ctx context.Context, name string) (string, error)
}

type Engine struct {
	Defs     defs.Defs
	Secrets  secret.Backend
	Resolver HostResolver

	// Env reads one process environment variable. Defaults to
	// os.Getenv; injectable for tests.
	Env func(string) string

	Log *logging.Logger

	dnsCache    map[string]string
	secretCache map[string]string
	hashCache   map[string]string
}

// New returns an engine for one resolution pass.
func New(d defs.Defs, secrets secret.Backend, resolver HostResolver, log *logging.Logger) *Engine {
	return &Engine{
		Defs:        d,
		Secrets:     secrets,
		Resolver:    resolver,
		Env:         os.Getenv,
		Log:         log,
		dnsCache:    make(map[string]string),
		secretCache: make(map[string]string),
		hashCache:   make(map[string]string),
	}
}

// Document walks an entire document tree and substitutes every string
// leaf, including mapping keys. Non-string leaves pass through
// unchanged. A list-expansion marker standing alone as a sequence
// element splices its items into the surrounding sequence; one naming
// an unset definition drops out of the sequence entirely.
func (e *Engine) Document(ctx context.Context, doc map[string]any) (map[string]any, error) {
	out, err := e.value(ctx, doc, "")
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func (e *Engine) value(ctx context.Context, v any, field string) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			childField := k
			if field != "" {
				childField = field + "." + k
			}
			key, err := e.String(ctx, k, childField)
			if err != nil {
				return nil, err
			}
			resolved, err := e.value(ctx, elem, childField)
			if err != nil {
				return nil, err
			}
			out[defs.Format(key)] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(val))
		for i, elem := range val {
			childField := fmt.Sprintf("%s[%d]", field, i)
			if s, ok := elem.(string); ok && isWholeListMarker(s) {
				t := strings.TrimSpace(s)
				name := stripQuotes(t[2 : len(t)-2])
				if validToken(name) {
					if _, exists := e.Defs[name]; !exists {
						// An expansion element naming an absent list
						// contributes nothing; the slot vanishes.
						e.Log.Debug("dropping list expansion of unset definition", "def", name, "field", childField)
						continue
					}
				}
				resolved, err := e.String(ctx, s, childField)
				if err != nil {
					return nil, err
				}
				if items, ok := resolved.([]any); ok {
					out = append(out, items...)
					continue
				}
				out = append(out, resolved)
				continue
			}
			resolved, err := e.value(ctx, elem, childField)
			if err != nil {
				return nil, err
			}
			out = append(out, resolved)
		}
		return out, nil
	case string:
		return e.String(ctx, val, field)
	default:
		return v, nil
	}
}

func isWholeListMarker(s string) bool {
	t := strings.TrimSpace(s)
	return strings.HasPrefix(t, "[>") && strings.HasSuffix(t, "<]") &&
		strings.Index(t, "<]") == len(t)-2
}

// String resolves every marker in one string, scanning left to right.
// A string consisting of exactly one marker returns that marker's
// native-typed value (a number, boolean or sequence survives as
// itself); markers embedded in surrounding text substitute their
// formatted representation in place.
func (e *Engine) String(ctx context.Context, s, field string) (any, error) {
	trimmed := strings.TrimSpace(s)
	if m, ok := markerAt(trimmed, 0); ok {
		if end := strings.Index(trimmed[2:], m.suffix); end >= 0 && 2+end+2 == len(trimmed) {
			body := trimmed[2 : 2+end]
			v, handled, err := e.resolve(ctx, m, body, field)
			if err != nil {
				return nil, err
			}
			if handled {
				return v, nil
			}
		}
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		m, ok := markerAt(s, i)
		if !ok {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := strings.Index(s[i+2:], m.suffix)
		if end < 0 {
			b.WriteByte(s[i])
			i++
			continue
		}
		body := s[i+2 : i+2+end]
		v, handled, err := e.resolve(ctx, m, body, field)
		if err != nil {
			return nil, err
		}
		if !handled {
			b.WriteByte(s[i])
			i++
			continue
		}
		if m.kind == kindReplace {
			// A whole-value marker replaces the entire field, not
			// just its own span.
			return v, nil
		}
		b.WriteString(defs.Format(v))
		i += 2 + end + 2
	}
	return b.String(), nil
}

// resolve dispatches one marker body. handled=false means the body is
// not a plausible reference and the marker text should pass through
// untouched.
func (e *Engine) resolve(ctx context.Context, m marker, body, field string) (v any, handled bool, err error) {
	switch m.kind {
	case kindReplace, kindInline:
		name := stripQuotes(body)
		if !validToken(name) {
			return nil, false, nil
		}
		val, ok := e.Defs[name]
		if !ok {
			return nil, false, e.missing(m, name, field)
		}
		return val, true, nil

	case kindBase:
		name := stripQuotes(body)
		if !validToken(name) {
			return nil, false, nil
		}
		val, ok := e.Defs.GetString(name)
		if !ok {
			return nil, false, e.missing(m, name, field)
		}
		return path.Base(val), true, nil

	case kindDNS:
		return e.resolveDNS(ctx, m, body, field)

	case kindSecret:
		value, handled, err := e.resolveSecret(ctx, m, body, field)
		return value, handled, err

	case kindArith, kindExpr:
		inlined, err := e.inlineBody(m, body, field)
		if err != nil {
			return nil, false, err
		}
		result, err := expr.Eval(inlined, e.exprEnv())
		if err != nil {
			return nil, false, &ResolutionError{Field: field, Marker: m.prefix + body + m.suffix, Err: err}
		}
		return result, true, nil

	case kindEnv:
		name := stripQuotes(body)
		if !validToken(name) {
			return nil, false, nil
		}
		// Unset variables substitute as empty, matching shell
		// semantics.
		return e.Env(name), true, nil

	case kindMD5:
		return e.resolveHash(ctx, m, body, field, crypt.MD5)
	case kindSHA256:
		return e.resolveHash(ctx, m, body, field, crypt.SHA256)
	case kindSHA512:
		return e.resolveHash(ctx, m, body, field, crypt.SHA512)

	case kindList:
		name := stripQuotes(body)
		if !validToken(name) {
			return nil, false, nil
		}
		val, ok := e.Defs[name]
		if !ok {
			return nil, false, e.missing(m, name, field)
		}
		return expandList(val), true, nil
	}
	return nil, false, nil
}

func (e *Engine) missing(m marker, name, field string) error {
	return &ResolutionError{
		Field:  field,
		Marker: m.prefix + name + m.suffix,
		Err:    fmt.Errorf("%w: %s", ErrMissingDef, name),
	}
}

// resolveDNS looks up a definition naming a host and resolves it to an
// address. Resolution failure is the one degradable condition in the
// engine: the marker becomes an empty string and a warning is logged,
// because a build target may legitimately have no forward record yet.
func (e *Engine) resolveDNS(ctx context.Context, m marker, body, field string) (any, bool, error) {
	inlined, err := e.inlineBody(m, body, field)
	if err != nil {
		return nil, false, err
	}
	name := stripQuotes(inlined)
	if !validToken(name) {
		return nil, false, nil
	}

	host, ok := e.Defs.GetString(name)
	if !ok || host == "" {
		e.Log.Warn("hostname definition missing, substituting empty address", "def", name, "field", field)
		return "", true, nil
	}
	if addr, ok := e.dnsCache[host]; ok {
		return addr, true, nil
	}
	if e.Resolver == nil {
		e.Log.Warn("no DNS resolver configured, substituting empty address", "host", host, "field", field)
		return "", true, nil
	}

	addr, err := e.Resolver.LookupA(ctx, host)
	if err != nil {
		var lookupErr *netresolve.LookupError
		if errors.As(err, &lookupErr) {
			e.Log.Warn("DNS lookup failed, substituting empty address", "host", host, "field", field, "error", err)
			e.dnsCache[host] = ""
			return "", true, nil
		}
		return nil, false, err
	}
	e.dnsCache[host] = addr
	return addr, true, nil
}

func (e *Engine) resolveSecret(ctx context.Context, m marker, body, field string) (any, bool, error) {
	inlined, err := e.inlineBody(m, body, field)
	if err != nil {
		return nil, false, err
	}
	ref := stripQuotes(inlined)
	if !validToken(ref) {
		return nil, false, nil
	}
	value, err := e.fetchSecret(ctx, ref)
	if err != nil {
		return nil, false, &ResolutionError{Field: field, Marker: m.prefix + body + m.suffix, Err: err}
	}
	return value, true, nil
}

func (e *Engine) fetchSecret(ctx context.Context, ref string) (string, error) {
	if value, ok := e.secretCache[ref]; ok {
		return value, nil
	}
	path, key, err := secret.ParseRef(ref)
	if err != nil {
		return "", err
	}
	if e.Secrets == nil {
		return "", &secret.CredentialError{Path: path, Key: key, Reason: "no secret backend configured"}
	}
	value, err := e.Secrets.Resolve(ctx, path, key)
	if err != nil {
		return "", err
	}
	e.secretCache[ref] = value
	return value, nil
}

// resolveHash fetches a secret and computes its shadow-style crypt
// hash. The hash is memoized per scheme and reference: crypt salts
// are random, and an answer file referencing the same password twice
// must see one consistent hash.
func (e *Engine) resolveHash(ctx context.Context, m marker, body, field string, scheme crypt.Crypt) (any, bool, error) {
	inlined, err := e.inlineBody(m, body, field)
	if err != nil {
		return nil, false, err
	}
	ref := stripQuotes(inlined)
	if !validToken(ref) {
		return nil, false, nil
	}

	cacheKey := fmt.Sprintf("%d:%s", scheme, ref)
	if hash, ok := e.hashCache[cacheKey]; ok {
		return hash, true, nil
	}

	password, err := e.fetchSecret(ctx, ref)
	if err != nil {
		return nil, false, &ResolutionError{Field: field, Marker: m.prefix + body + m.suffix, Err: err}
	}
	hash, err := hashPassword(password, scheme)
	if err != nil {
		return nil, false, &ResolutionError{Field: field, Marker: m.prefix + body + m.suffix, Err: err}
	}
	e.hashCache[cacheKey] = hash
	return hash, true, nil
}

// inlineBody resolves inline substitution markers nested inside
// another marker's body, so a reference like |>host/>>name<<:root<|
// sees its inner definition filled before the outer lookup runs.
func (e *Engine) inlineBody(m marker, body, field string) (string, error) {
	for {
		start := strings.Index(body, ">>")
		if start < 0 {
			return body, nil
		}
		end := strings.Index(body[start+2:], "<<")
		if end < 0 {
			return body, nil
		}
		name := body[start+2 : start+2+end]
		val, ok := e.Defs[name]
		if !ok {
			return "", &ResolutionError{
				Field:  field,
				Marker: m.prefix + body + m.suffix,
				Err:    fmt.Errorf("%w: %s", ErrMissingDef, name),
			}
		}
		body = body[:start] + defs.Format(val) + body[start+2+end+2:]
	}
}

// exprEnv exposes the definition table to expression evaluation.
// Expressions see definitions and nothing else.
func (e *Engine) exprEnv() expr.Env {
	return func(name string) (any, bool) {
		v, ok := e.Defs[name]
		return v, ok
	}
}

// expandList normalizes a definition into sequence items. Strings
// split on commas and whitespace, scalars become single-item lists.
func expandList(v any) []any {
	switch val := v.(type) {
	case []any:
		return val
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	case string:
		fields := strings.Fields(strings.ReplaceAll(val, ",", " "))
		out := make([]any, len(fields))
		for i, f := range fields {
			out[i] = f
		}
		return out
	default:
		return []any{v}
	}
}
