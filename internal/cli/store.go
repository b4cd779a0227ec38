package cli

import (
	"context"

	"github.com/docmap/docmap/adapter/localstorage"
	"github.com/docmap/docmap/adapter/memory"
	"github.com/docmap/docmap/adapter/postgresql"
	"github.com/docmap/docmap/adapter/sqlite"
	"github.com/docmap/docmap/internal/config"
	"github.com/docmap/docmap/port/docstore"
)

// OpenStore connects to the configured document store.
// The returned close function releases the store's resources.
func OpenStore(ctx context.Context, c config.Store) (docstore.Store, func() error, error) {
	noop := func() error { return nil }
	switch c.Driver {
	case config.DriverMemory:
		return memory.NewMemory(), noop, nil
	case config.DriverBolt:
		s, err := localstorage.NewLocal(c.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, c.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		conn, err := postgresql.Connect(ctx, c.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgresql.Migrate(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return postgresql.Store{Connection: conn}, conn.Close, nil
	default:
		return nil, nil, config.ErrInvalidConfig.F("invalid store driver: %q", c.Driver)
	}
}
