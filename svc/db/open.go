package db

import (
	"context"
	"fmt"

	"pasties/cfg"
)

// Open connects the backend named by the DATABASE_URL scheme and creates its schema.
func Open(ctx context.Context, c *cfg.Cfg) (Store, error) {
	scheme, target, err := cfg.SplitDatabaseURL(c.DatabaseURL)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "sqlite":
		s, err := NewSQLiteWithConfig(target, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres", "postgresql":
		p, err := NewPostgres(ctx, target, c.DBMaxOpenConns, c.DBQueryTimeout)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "bolt":
		b, err := NewBolt(target)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}
