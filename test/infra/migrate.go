package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/db"
)

const (
	// AppName tags the actors' connections; chaos only terminates those.
	AppName    = "disputeflow-stress"
	oracleName = "disputeflow-oracle"
)

type Pools struct {
	// App is used by the engines and is subject to chaos.
	App *pgxpool.Pool
	// Oracle runs invariant queries on connections chaos leaves alone.
	Oracle *pgxpool.Pool
}

func (p Pools) Close() {
	p.App.Close()
	p.Oracle.Close()
}

// ApplyMigrations applies the embedded schema and opens the app and oracle
// pools. With isolate set the schema lives in a per-run namespace that the
// returned teardown drops.
func ApplyMigrations(ctx context.Context, dsn string, isolate bool) (Pools, func(context.Context) error, error) {
	cleanup := func(context.Context) error { return nil }
	schema := ""

	if isolate {
		schema = fmt.Sprintf("stress_run_%d", time.Now().UnixNano())
		ident := pgx.Identifier{schema}.Sanitize()

		conn, err := pgx.Connect(ctx, dsn)
		if err != nil {
			return Pools{}, nil, fmt.Errorf("connect for schema: %w", err)
		}
		if _, err := conn.Exec(ctx, "CREATE SCHEMA "+ident); err != nil {
			conn.Close(ctx)
			return Pools{}, nil, fmt.Errorf("create schema %s: %w", schema, err)
		}
		conn.Close(ctx)

		cleanup = func(ctx context.Context) error {
			dropConn, err := pgx.Connect(ctx, dsn)
			if err != nil {
				return err
			}
			defer dropConn.Close(ctx)
			_, err = dropConn.Exec(ctx, "DROP SCHEMA IF EXISTS "+ident+" CASCADE")
			return err
		}
	}

	app, err := openPool(ctx, dsn, schema, AppName, 32)
	if err != nil {
		return Pools{}, nil, err
	}
	oracle, err := openPool(ctx, dsn, schema, oracleName, 2)
	if err != nil {
		app.Close()
		return Pools{}, nil, err
	}
	if err := db.Migrate(ctx, app); err != nil {
		app.Close()
		oracle.Close()
		return Pools{}, nil, err
	}
	return Pools{App: app, Oracle: oracle}, cleanup, nil
}

func openPool(ctx context.Context, dsn, schema, appName string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	cfg.MaxConns = maxConns
	cfg.ConnConfig.RuntimeParams["application_name"] = appName
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect pool %s: %w", appName, err)
	}
	return pool, nil
}
