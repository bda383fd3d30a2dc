package secrets

import (
	"context"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig carries the connection settings for the remote store.
type VaultConfig struct {
	Addr    string
	Token   string
	Mount   string // KV v2 mount, e.g. "secret"
	Timeout time.Duration
}

// Vault reads secret bundles from a HashiCorp Vault KV v2 mount.
type Vault struct {
	kv      *vault.KVv2
	timeout time.Duration
}

// NewVault builds the client. It does not contact the server; the first
// Read does, so an unreachable Vault degrades to the environment tier
// instead of blocking startup.
func NewVault(cfg VaultConfig) (*Vault, error) {
	conf := vault.DefaultConfig()
	conf.Address = cfg.Addr
	if cfg.Timeout > 0 {
		conf.Timeout = cfg.Timeout
	}

	client, err := vault.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}

	return &Vault{kv: client.KVv2(mount), timeout: conf.Timeout}, nil
}

// Read fetches the secret at path and flattens it to string values.
func (v *Vault) Read(ctx context.Context, path string) (map[string]string, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	secret, err := v.kv.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vault read %s: %w", path, err)
	}

	out := make(map[string]string, len(secret.Data))
	for k, val := range secret.Data {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}
