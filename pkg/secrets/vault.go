package secrets

import (
	"context"
	"os"
	"strings"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

type VaultOptions struct {
	Address    string
	Token      string
	TokenFile  string
	SecretPath string
}

// Vault reads KV v2 secrets; the secret value lives under the "value" field.
type Vault struct {
	client     *vault.Client
	secretPath string
}

func NewVault(ctx context.Context, o VaultOptions) (*Vault, error) {
	vc := vault.DefaultConfig()
	vc.Address = o.Address
	vc.Timeout = 5 * time.Second
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, errors.Wrap(err, "create vault client")
	}
	switch {
	case o.TokenFile != "":
		b, err := os.ReadFile(o.TokenFile)
		if err != nil {
			return nil, errors.Wrap(err, "read VAULT_TOKEN_FILE")
		}
		client.SetToken(strings.TrimSpace(string(b)))
	case o.Token != "":
		client.SetToken(o.Token)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, errors.Wrap(err, "vault health check")
	}
	path := strings.TrimSuffix(o.SecretPath, "/")
	if path == "" {
		path = "secret/data"
	}
	return &Vault{client: client, secretPath: path}, nil
}

func (v *Vault) Name() string { return "vault" }

func (v *Vault) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.secretPath+"/"+key)
	if err != nil {
		return "", errors.Wrap(err, "vault read")
	}
	if secret == nil || secret.Data == nil {
		return "", ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}
