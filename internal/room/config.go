package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/lox/bingohall/internal/cardpool"
	"github.com/lox/bingohall/internal/settlement"
)

// Config describes one stake tier.
type Config struct {
	Name               string
	Stake              int64
	HouseCutBps        int64
	RegistrationWindow time.Duration
	DrawInterval       time.Duration
	// ClaimWindow is how long claims are still accepted after the first
	// valid one. Zero ends the round on the first claim.
	ClaimWindow      time.Duration
	AnnounceCooldown time.Duration
	// MinParticipants paid registrations are needed to start a round.
	MinParticipants int
	// AutoRestart reopens registration after a round instead of idling.
	AutoRestart bool
	CardPolicy  cardpool.Policy
}

// DefaultConfig returns the settings used for a tier that only names its
// stake.
func DefaultConfig(stake int64) Config {
	return Config{
		Name:               fmt.Sprintf("stake-%d", stake),
		Stake:              stake,
		HouseCutBps:        2000,
		RegistrationWindow: 30 * time.Second,
		DrawInterval:       3 * time.Second,
		ClaimWindow:        time.Second,
		AnnounceCooldown:   10 * time.Second,
		MinParticipants:    1,
		AutoRestart:        true,
		CardPolicy:         cardpool.ReplacePrior,
	}
}

// Validate checks the config for values the room cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Stake <= 0 {
		errs = append(errs, fmt.Errorf("stake must be positive, got %d", c.Stake))
	}
	if c.HouseCutBps < 0 || c.HouseCutBps > settlement.BasisPoints {
		errs = append(errs, fmt.Errorf("house_cut_bps must be within 0..%d, got %d", settlement.BasisPoints, c.HouseCutBps))
	}
	if c.RegistrationWindow <= 0 {
		errs = append(errs, errors.New("registration window must be positive"))
	}
	if c.DrawInterval <= 0 {
		errs = append(errs, errors.New("draw interval must be positive"))
	}
	if c.ClaimWindow < 0 {
		errs = append(errs, errors.New("claim window cannot be negative"))
	}
	if c.AnnounceCooldown <= 0 {
		errs = append(errs, errors.New("announce cooldown must be positive"))
	}
	if c.MinParticipants < 1 {
		errs = append(errs, fmt.Errorf("min_participants must be at least 1, got %d", c.MinParticipants))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("room %q: %w", c.Name, err)
	}
	return nil
}
