package secret

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
)

// VaultBackend serves credentials from HashiCorp Vault's KV version 2
// engine. Secret paths name the mount first: "kv/host/web01" reads
// secret host/web01 from the kv mount.
type VaultBackend struct {
	client *api.Client
}

// NewVault connects to Vault at addr using token. Both may be empty,
// in which case the client falls back to the VAULT_ADDR and
// VAULT_TOKEN environment variables.
func NewVault(addr, token string) (*VaultBackend, error) {
	cfg := api.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("vault client: no token configured")
	}
	return &VaultBackend{client: client}, nil
}

// Resolve implements Backend.
func (b *VaultBackend) Resolve(ctx context.Context, path, key string) (string, error) {
	mount, inner, ok := strings.Cut(path, "/")
	if !ok || inner == "" {
		return "", &CredentialError{Path: path, Key: key, Reason: "want mount/path"}
	}

	kv, err := b.client.KVv2(mount).Get(ctx, inner)
	if err != nil {
		if errors.Is(err, api.ErrSecretNotFound) {
			return "", &CredentialError{Path: path, Key: key, Reason: "not in vault", Err: ErrNotFound}
		}
		return "", &CredentialError{Path: path, Key: key, Reason: "vault request failed", Err: err}
	}

	raw, ok := kv.Data[key]
	if !ok {
		return "", &CredentialError{Path: path, Key: key, Reason: "key not in secret", Err: ErrNotFound}
	}
	value, ok := raw.(string)
	if !ok {
		return "", &CredentialError{Path: path, Key: key, Reason: fmt.Sprintf("value is %T, want string", raw)}
	}
	if value == "" {
		return "", &CredentialError{Path: path, Key: key, Reason: "value is blank"}
	}
	return value, nil
}
