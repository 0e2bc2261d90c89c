package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-portal-auth/cmd/portal-auth/internal/commands"
	"github.com/joho/godotenv"
)

var (
	version = "dev"
	cli     struct {
		Config     string `help:"path to a yaml config file" env:"PORTAL_CONFIG"`
		DSN        string `help:"database connection string, postgres:// or a sqlite file" default:"file:portal.db?cache=shared" env:"PORTAL_DSN"`
		SigningKey string `help:"session signing key, overrides the config file" env:"PORTAL_SIGNING_KEY"`
		LogBackend string `help:"log backend" default:"zerolog" enum:"zerolog,zap" env:"PORTAL_LOG_BACKEND"`
		LogLevel   string `help:"log level" default:"info" env:"PORTAL_LOG_LEVEL"`
		Debug      bool   `help:"Enable debug mode."`
		Version    kong.VersionFlag

		Serve   commands.ServeCmd   `cmd:"" help:"Start the portal auth server"`
		Migrate commands.MigrateCmd `cmd:"" help:"Create the database schema"`
		User    commands.UserCmd    `cmd:"" help:"Manage users"`
		Role    commands.RoleCmd    `cmd:"" help:"Manage roles"`
		Purge   commands.PurgeCmd   `cmd:"" help:"Delete expired sessions and verifications"`
		Audit   commands.AuditCmd   `cmd:"" help:"Inspect the audit log"`
	}
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Config:     cli.Config,
		DSN:        cli.DSN,
		SigningKey: cli.SigningKey,
		LogBackend: cli.LogBackend,
		LogLevel:   cli.LogLevel,
		Debug:      cli.Debug,
		Version:    version,
	})
	cmd.FatalIfErrorf(err)
}
