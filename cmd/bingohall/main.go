package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/lox/bingohall/internal/server"
)

// version is set by ldflags during build
var version = "dev"

// Globals are shared by every subcommand.
type Globals struct {
	Config   string `short:"c" default:"bingohall.hcl" help:"Path to HCL configuration file"`
	LogLevel string `short:"l" name:"log-level" help:"Log level (overrides config)"`
	EnvFile  string `name:"env-file" default:".env" help:"Environment file loaded before the config"`
}

// loadConfig reads the env file and configuration and applies overrides.
func (g *Globals) loadConfig() (*server.Config, error) {
	if err := godotenv.Load(g.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading %s: %w", g.EnvFile, err)
	}
	cfg, err := server.LoadConfig(g.Config)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if g.LogLevel != "" {
		cfg.Server.LogLevel = g.LogLevel
	}
	return cfg, nil
}

type CLI struct {
	Globals

	Version kong.VersionFlag `short:"v" help:"Show version"`
	Server  ServerCmd        `cmd:"" help:"Run the bingo hall server"`
	Migrate MigrateCmd       `cmd:"" help:"Apply the database schema"`
	Ledger  LedgerCmd        `cmd:"" help:"Inspect and fund participant balances"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bingohall"),
		kong.Description("Real-money multiplayer bingo rooms"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
		kong.Bind(&cli.Globals),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
