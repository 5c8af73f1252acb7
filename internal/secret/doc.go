// Package secret resolves the credential references templates embed
// through the secret marker. Two backends exist: a HashiCorp Vault
// KV v2 client for production installations and a local plain-text
// file for standalone hosts. Both treat a missing or blank credential
// as a hard error; a build never proceeds with a degraded secret.
package secret
