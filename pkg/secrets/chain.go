// Package secrets resolves named secrets from Vault, AWS Secrets Manager or
// the process environment, in that order.
package secrets

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNotFound    = errors.New("secret not found")
	ErrUnavailable = errors.New("no secret provider available")
)

const lookupTimeout = 10 * time.Second

type Provider interface {
	Name() string
	GetSecret(ctx context.Context, key string) (string, error)
}

// Chain asks each provider in turn. A provider reporting ErrNotFound passes
// the lookup on; any other failure ends it unless the chain is fail-open.
type Chain struct {
	providers []Provider
	failOpen  bool
}

func NewChain(failOpen bool, providers ...Provider) *Chain {
	return &Chain{providers: providers, failOpen: failOpen}
}

// FromEnv builds the chain the process environment describes:
// VAULT_ADDR enables Vault, AWS_REGION enables Secrets Manager and the
// environment itself is appended unless SECRETS_REQUIRE_PRIMARY=true.
func FromEnv(ctx context.Context) (*Chain, error) {
	var providers []Provider
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		vp, err := NewVault(ctx, VaultOptions{
			Address:    addr,
			Token:      os.Getenv("VAULT_TOKEN"),
			TokenFile:  os.Getenv("VAULT_TOKEN_FILE"),
			SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data"),
		})
		if err != nil {
			return nil, errors.Wrap(err, "init vault provider")
		}
		providers = append(providers, vp)
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		ap, err := NewAWS(ctx, region)
		if err != nil {
			return nil, errors.Wrap(err, "init aws provider")
		}
		providers = append(providers, ap)
	}
	requirePrimary := strings.EqualFold(os.Getenv("SECRETS_REQUIRE_PRIMARY"), "true")
	if !requirePrimary {
		providers = append(providers, Env{})
	}
	if len(providers) == 0 {
		return nil, errors.Wrap(ErrUnavailable, "SECRETS_REQUIRE_PRIMARY=true but neither VAULT_ADDR nor AWS_REGION is set")
	}
	return NewChain(os.Getenv("SECRETS_FAIL_OPEN") == "true", providers...), nil
}

func (c *Chain) Providers() []string {
	names := make([]string, 0, len(c.providers))
	for _, p := range c.providers {
		names = append(names, p.Name())
	}
	return names
}

func (c *Chain) GetSecret(ctx context.Context, key string) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var last error
	for _, p := range c.providers {
		val, err := p.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
		if err == nil {
			err = ErrNotFound
		}
		last = errors.Wrapf(err, "%s: %s", p.Name(), key)
		if !errors.Is(err, ErrNotFound) && !c.failOpen {
			return "", last
		}
	}
	return "", last
}

// Env reads secrets from environment variables. "pasties/pepper" is looked
// up as PASTIES_PEPPER.
type Env struct{}

func (Env) Name() string { return "env" }

func (Env) GetSecret(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	val, ok := os.LookupEnv(EnvName(key))
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func EnvName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
