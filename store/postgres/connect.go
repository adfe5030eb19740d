// Package postgres is a VersionStore implementation backed by
// PostgreSQL, for deployments that want a real database instead of
// the flat-file backend.
//
// Grounded on claircore's datastore/postgres (connect.go's pgxpool
// setup and pool-stats registration, persistmanifest.go's
// transaction-and-exec style), adapted from pgx/v4 to pgx/v5 and from
// the indexer/matcher schema to a single artifact/version schema.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Connect opens a pgxpool.Pool against connString and registers its
// connection-pool metrics under appName.
func Connect(ctx context.Context, connString, appName string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	const appnameKey = `application_name`
	params := cfg.ConnConfig.RuntimeParams
	if _, ok := params[appnameKey]; !ok {
		params[appnameKey] = appName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := prometheus.Register(poolMetrics(pool, appName)); err != nil {
		zerolog.Ctx(ctx).Info().Msg("pool metrics already registered")
	}

	return pool, nil
}
