package commands

import (
	"database/sql"
	"fmt"
	"strings"

	auth "github.com/goliatone/go-portal-auth"
	"github.com/goliatone/go-portal-auth/adapters/logging"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

type Globals struct {
	Config     string
	DSN        string
	SigningKey string
	LogBackend string
	LogLevel   string
	Debug      bool
	Version    string
}

// Options loads the config file and applies flag overrides
func (g *Globals) Options() (auth.Options, error) {
	opts, err := auth.LoadOptions(g.Config)
	if err != nil {
		return opts, err
	}
	if g.SigningKey != "" {
		opts.SigningKey = g.SigningKey
	}
	return opts, nil
}

func (g *Globals) Logger() (auth.Logger, error) {
	level := g.LogLevel
	if g.Debug {
		level = "debug"
	}
	return logging.New(g.LogBackend, level, g.Debug)
}

// OpenDB picks the dialect from the DSN: postgres URLs go through pgx,
// anything else is treated as a sqlite DSN.
func (g *Globals) OpenDB() (*bun.DB, error) {
	if g.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	if isPostgres(g.DSN) {
		sqldb, err := sql.Open("pgx", g.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, g.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
