package server

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/lox/bingohall/internal/card"
	"github.com/lox/bingohall/internal/cardpool"
	"github.com/lox/bingohall/internal/room"
)

// Config is the complete process configuration.
type Config struct {
	Server    *ServerSettings   `hcl:"server,block"`
	Database  *DatabaseSettings `hcl:"database,block"`
	House     *HouseSettings    `hcl:"house,block"`
	Summaries *SummarySettings  `hcl:"summaries,block"`
	Cards     *CardSettings     `hcl:"cards,block"`
	Rooms     []RoomSettings    `hcl:"room,block"`
}

// ServerSettings contains listener and logging settings.
type ServerSettings struct {
	Address        string   `hcl:"address,optional"`
	Port           int      `hcl:"port,optional"`
	LogLevel       string   `hcl:"log_level,optional"`
	AllowedOrigins []string `hcl:"allowed_origins,optional"`
}

// DatabaseSettings points at the PostgreSQL ledger.
type DatabaseSettings struct {
	DSN      string `hcl:"dsn,optional"`
	MaxConns int    `hcl:"max_conns,optional"`
}

// HouseSettings names the ledger account that collects house cuts.
type HouseSettings struct {
	Participant string `hcl:"participant,optional"`
}

// SummarySettings selects where finished rounds are recorded.
type SummarySettings struct {
	Driver string `hcl:"driver,optional"`
	Dir    string `hcl:"dir,optional"`
}

// CardSettings selects the card catalog. A catalog file wins over
// generation.
type CardSettings struct {
	Count   int    `hcl:"count,optional"`
	Seed    int64  `hcl:"seed,optional"`
	Catalog string `hcl:"catalog,optional"`
}

// RoomSettings defines one stake tier. Pointer fields distinguish an
// explicit zero from an omitted attribute.
type RoomSettings struct {
	Name                string `hcl:"name,label"`
	Stake               int64  `hcl:"stake"`
	HouseCutBps         *int64 `hcl:"house_cut_bps,optional"`
	RegistrationSeconds int    `hcl:"registration_seconds,optional"`
	DrawIntervalMs      int    `hcl:"draw_interval_ms,optional"`
	ClaimWindowMs       *int   `hcl:"claim_window_ms,optional"`
	AnnounceSeconds     int    `hcl:"announce_seconds,optional"`
	MinParticipants     int    `hcl:"min_participants,optional"`
	AutoRestart         *bool  `hcl:"auto_restart,optional"`
	CardPolicy          string `hcl:"card_policy,optional"`
}

const (
	SummaryDriverPostgres = "postgres"
	SummaryDriverDir      = "dir"
	SummaryDriverNone     = "none"
)

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	c := &Config{
		Rooms: []RoomSettings{
			{Name: "stake-10", Stake: 10},
			{Name: "stake-50", Stake: 50},
		},
	}
	c.applyDefaults()
	return c
}

// LoadConfig reads an HCL configuration file. A missing file yields the
// defaults.
func LoadConfig(filename string) (*Config, error) {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config Config
	diags = gohcl.DecodeBody(file.Body, nil, &config)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server == nil {
		c.Server = &ServerSettings{}
	}
	if c.Server.Address == "" {
		c.Server.Address = "localhost"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}

	if c.Database == nil {
		c.Database = &DatabaseSettings{}
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}

	if c.House == nil {
		c.House = &HouseSettings{}
	}
	if c.House.Participant == "" {
		c.House.Participant = "house"
	}

	if c.Summaries == nil {
		c.Summaries = &SummarySettings{}
	}
	if c.Summaries.Driver == "" {
		c.Summaries.Driver = SummaryDriverPostgres
	}
	if c.Summaries.Driver == SummaryDriverDir && c.Summaries.Dir == "" {
		c.Summaries.Dir = "rounds"
	}

	if c.Cards == nil {
		c.Cards = &CardSettings{}
	}
	if c.Cards.Count == 0 {
		c.Cards.Count = 100
	}
	if c.Cards.Seed == 0 {
		c.Cards.Seed = 1
	}
}

// ApplyEnv overrides file settings from the environment.
func (c *Config) ApplyEnv() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
}

// Validate checks the configuration, including every room.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Server.Port))
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, fmt.Errorf("database max_conns must be positive, got %d", c.Database.MaxConns))
	}
	switch c.Summaries.Driver {
	case SummaryDriverPostgres, SummaryDriverDir, SummaryDriverNone:
	default:
		errs = append(errs, fmt.Errorf("unknown summaries driver %q", c.Summaries.Driver))
	}
	if c.Cards.Catalog == "" && c.Cards.Count < 1 {
		errs = append(errs, fmt.Errorf("cards count must be positive, got %d", c.Cards.Count))
	}
	if len(c.Rooms) == 0 {
		errs = append(errs, errors.New("at least one room must be configured"))
	}

	rooms, err := c.RoomConfigs()
	if err != nil {
		errs = append(errs, err)
	}
	for _, rc := range rooms {
		if err := rc.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// RoomConfigs converts the room blocks to room configurations.
func (c *Config) RoomConfigs() ([]room.Config, error) {
	out := make([]room.Config, 0, len(c.Rooms))
	for _, rs := range c.Rooms {
		rc, err := rs.RoomConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

// RoomConfig fills the room defaults in for anything the block omits.
func (rs RoomSettings) RoomConfig() (room.Config, error) {
	rc := room.DefaultConfig(rs.Stake)
	rc.Name = rs.Name
	if rs.HouseCutBps != nil {
		rc.HouseCutBps = *rs.HouseCutBps
	}
	if rs.RegistrationSeconds != 0 {
		rc.RegistrationWindow = time.Duration(rs.RegistrationSeconds) * time.Second
	}
	if rs.DrawIntervalMs != 0 {
		rc.DrawInterval = time.Duration(rs.DrawIntervalMs) * time.Millisecond
	}
	if rs.ClaimWindowMs != nil {
		rc.ClaimWindow = time.Duration(*rs.ClaimWindowMs) * time.Millisecond
	}
	if rs.AnnounceSeconds != 0 {
		rc.AnnounceCooldown = time.Duration(rs.AnnounceSeconds) * time.Second
	}
	if rs.MinParticipants != 0 {
		rc.MinParticipants = rs.MinParticipants
	}
	if rs.AutoRestart != nil {
		rc.AutoRestart = *rs.AutoRestart
	}

	switch strings.ToLower(rs.CardPolicy) {
	case "", "replace":
		rc.CardPolicy = cardpool.ReplacePrior
	case "reject":
		rc.CardPolicy = cardpool.RejectSecond
	default:
		return rc, fmt.Errorf("room %q: unknown card_policy %q", rs.Name, rs.CardPolicy)
	}
	return rc, nil
}

// Catalog loads or generates the card catalog.
func (c *Config) Catalog() (*card.Catalog, error) {
	if c.Cards.Catalog != "" {
		return card.LoadCatalog(c.Cards.Catalog)
	}
	return card.Generate(c.Cards.Seed, c.Cards.Count), nil
}
