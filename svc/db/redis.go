package db

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"pasties/cfg"
	"pasties/pkg/domain"
)

// A tombstone must outlast any storage read that started before the write
// it guards.
const tombstoneTTL = time.Minute

// cacheViewScript sets a view unless its url was invalidated recently.
var cacheViewScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// Redis is the shared view cache. It never holds password hashes.
// Delete leaves a tombstone so that a read on another instance which raced
// the write cannot put the old view back.
type Redis struct {
	client    *redis.Client
	timeout   time.Duration
	tombstone time.Duration
}

func NewRedis(ctx context.Context, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisTLS {
		host, _, _ := strings.Cut(opt.Addr, ":")
		tlsConfig, err := redisTLSConfig(host, c.RedisCACert)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build Redis TLS config")
		}
		opt.TLSConfig = tlsConfig
	}
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return newRedisFromClient(client, c.RedisTimeout), nil
}

func newRedisFromClient(client *redis.Client, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Redis{client: client, timeout: timeout, tombstone: tombstoneTTL}
}

func redisTLSConfig(host, caPath string) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	if caPath == "" {
		return tc, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read redis CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}
	tc.RootCAs = pool
	return tc, nil
}

func viewKey(url string) string {
	return "paste:" + url
}

// Urls never contain ':', so tombstones cannot collide with view keys.
func tombKey(url string) string {
	return "paste:tomb:" + url
}

func (r *Redis) CacheView(ctx context.Context, v *domain.PasteView, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal view")
	}
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	err = cacheViewScript.Run(ctx, r.client, []string{viewKey(v.URL), tombKey(v.URL)}, data, ms).Err()
	return errors.Wrap(err, "set view")
}

// GetView returns nil, nil on a cache miss.
func (r *Redis) GetView(ctx context.Context, url string) (*domain.PasteView, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	data, err := r.client.Get(ctx, viewKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get view")
	}
	var v domain.PasteView
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "unmarshal view")
	}
	return &v, nil
}

func (r *Redis) Delete(ctx context.Context, urls ...string) error {
	if len(urls) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	keys := make([]string, len(urls))
	for i, u := range urls {
		keys[i] = viewKey(u)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, u := range urls {
			pipe.Set(ctx, tombKey(u), 1, r.tombstone)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "delete view")
	}
	return nil
}
func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
