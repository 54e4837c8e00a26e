package store

import (
	"context"
	"fmt"

	"fairdatastation/internal/config"
)

// Open returns the repository selected by cfg.StoreDriver. Postgres is
// migrated before it is returned. The close func is never nil.
func Open(ctx context.Context, cfg config.Config) (Repository, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return NewMemory(), func() {}, nil
	case "postgres", "":
		pg, err := NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, func() {}, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, func() {}, fmt.Errorf("migrations: %w", err)
		}
		return pg, pg.Close, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
