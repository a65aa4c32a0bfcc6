package sqlstore

import (
	"context"
	"time"

	"github.com/kilianp07/routesync/core/factory"
	"github.com/kilianp07/routesync/core/store"
)

func init() {
	for _, name := range []string{SQLite, Postgres} {
		name := name // per-iteration copy; go directive is below 1.22
		store.Backends.MustRegister(name, func(conf map[string]any) (store.Store, error) {
			cfg := Config{Migrate: true}
			if err := factory.Decode(conf, &cfg); err != nil {
				return nil, err
			}
			cfg.Dialect = name
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return Open(ctx, cfg)
		})
	}
}
