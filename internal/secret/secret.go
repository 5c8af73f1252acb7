package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend resolves a credential by path and key. Implementations must
// be safe for concurrent use.
type Backend interface {
	// Resolve returns the value stored under key at path. A missing
	// path or key is an error: credentials are never optional.
	Resolve(ctx context.Context, path, key string) (string, error)
}

// ErrNotFound is wrapped into CredentialError when the path or key
// does not exist in the backend.
var ErrNotFound = errors.New("secret: not found")

// CredentialError reports a failed credential lookup. Unlike DNS
// lookups these are always fatal: a build must never proceed with a
// missing or blank secret.
type CredentialError struct {
	Path   string
	Key    string
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	msg := fmt.Sprintf("credential %s:%s: %s", e.Path, e.Key, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ParseRef splits a "path:key" credential reference. The key is the
// part after the last colon, so Vault-style paths containing colons
// still parse.
func ParseRef(ref string) (path, key string, err error) {
	i := strings.LastIndex(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("credential reference %q: want path:key", ref)
	}
	return ref[:i], ref[i+1:], nil
}
