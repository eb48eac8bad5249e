package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"pasties/cfg"
	"pasties/pkg/secrets"
	"pasties/svc/api"
	"pasties/svc/auth"
	"pasties/svc/cache"
	"pasties/svc/db"
	"pasties/svc/svc"
	"pasties/svc/util"
)

func main() {
	if err := cfg.LoadDotEnv(".env"); err != nil {
		util.Fatal().Err(err).Msg("failed to load .env")
	}
	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
	}
	defer c.Wipe()

	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(healthcheck(c))
	}

	util.InitLog(c.LogLevel, !c.IsProduction())
	util.Info().
		Str("environment", c.Environment).
		Str("database", util.RedactDSN(c.DatabaseURL)).
		Strs("allowed_origins", c.AllowedOrigins).
		Msg("starting pasties")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pepper, err := loadPepper(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load pepper")
	}
	hasher, err := auth.NewHasher(c.HashAlgorithm, pepper)
	util.Wipe(pepper)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize hasher")
	}
	defer hasher.Stop()
	util.Info().Str("algorithm", hasher.Algorithm()).Bool("peppered", len(pepper) > 0).Msg("hasher initialized")

	store, err := db.Open(ctx, c)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer store.Close()
	util.Info().Msg("database initialized")

	quitWAL := make(chan struct{})
	walDone := make(chan struct{})
	if s, ok := store.(*db.SQLite); ok {
		go func() {
			defer close(walDone)
			db.StartWALMaintenance(s.DB(), c.WALCheckpointInterval, quitWAL)
		}()
		util.Info().Dur("interval", c.WALCheckpointInterval).Msg("WAL maintenance worker started")
	} else {
		close(walDone)
	}

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(ctx, c)
		if err != nil {
			if c.IsProduction() {
				util.Fatal().Err(err).Msg("redis required in production")
			}
			util.Warn().Err(err).Msg("redis unavailable, continuing without shared cache")
			rdb = nil
		} else {
			util.Info().Msg("redis connected")
			defer rdb.Close()
		}
	}

	opts := []svc.Option{svc.WithRedis(rdb), svc.WithCacheTTL(c.CacheTTL)}
	switch {
	case c.LRUCacheSize > 0 && rdb != nil:
		util.Warn().Msg("LRU_CACHE_SIZE ignored: the shared redis cache is in use")
	case c.LRUCacheSize > 0:
		lruCache, err := cache.NewLRU(c.LRUCacheSize)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to create LRU cache")
		}
		opts = append(opts, svc.WithLRU(lruCache))
		util.Info().Int("size", c.LRUCacheSize).Msg("LRU cache initialized")
	}
	pastes := svc.NewPaste(store, hasher, opts...)

	server, err := api.NewServer(c, pastes, store, rdb)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to build server")
	}
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	close(quitWAL)
	select {
	case <-walDone:
		util.Info().Msg("WAL maintenance stopped")
	case <-time.After(6 * time.Second):
		util.Warn().Msg("WAL maintenance did not stop gracefully")
	}
	util.Info().Msg("shutdown complete")
}

// loadPepper returns nil when no pepper is configured.
func loadPepper(ctx context.Context, c *cfg.Cfg) ([]byte, error) {
	if !c.PepperFromSecrets {
		if p := c.Pepper.Value(); p != "" {
			return []byte(p), nil
		}
		return nil, nil
	}
	chain, err := secrets.FromEnv(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "init secret providers")
	}
	util.Info().Strs("providers", chain.Providers()).Msg("secret providers initialized")
	val, err := chain.GetSecret(ctx, c.PepperSecretName)
	if err != nil {
		return nil, errors.Wrapf(err, "get secret %s", c.PepperSecretName)
	}
	return []byte(val), nil
}

func healthcheck(c *cfg.Cfg) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	store, err := db.Open(ctx, c)
	if err != nil {
		return 1
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return 1
	}
	return 0
}
