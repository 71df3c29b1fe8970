package room

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Registry holds the process's rooms, one per stake tier. It is built once
// at startup and handed to whatever needs to find a room.
type Registry struct {
	rooms   map[int64]*Room
	ordered []*Room
}

// NewRegistry builds a room for each config. Stakes and names must be
// unique.
func NewRegistry(cfgs []Config, opts Options) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no rooms configured")
	}
	reg := &Registry{rooms: make(map[int64]*Room, len(cfgs))}
	names := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if _, dup := reg.rooms[cfg.Stake]; dup {
			return nil, fmt.Errorf("duplicate room for stake %d", cfg.Stake)
		}
		if names[cfg.Name] {
			return nil, fmt.Errorf("duplicate room name %q", cfg.Name)
		}
		r, err := New(cfg, opts)
		if err != nil {
			return nil, err
		}
		names[cfg.Name] = true
		reg.rooms[cfg.Stake] = r
		reg.ordered = append(reg.ordered, r)
	}
	sort.Slice(reg.ordered, func(i, j int) bool { return reg.ordered[i].Stake() < reg.ordered[j].Stake() })
	return reg, nil
}

// Room returns the room for stake.
func (g *Registry) Room(stake int64) (*Room, error) {
	r, ok := g.rooms[stake]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownStake, stake)
	}
	return r, nil
}

// Rooms returns every room ordered by stake.
func (g *Registry) Rooms() []*Room {
	return append([]*Room(nil), g.ordered...)
}

// Stakes lists the configured tiers in ascending order.
func (g *Registry) Stakes() []int64 {
	out := make([]int64, len(g.ordered))
	for i, r := range g.ordered {
		out[i] = r.Stake()
	}
	return out
}

// Run runs every room until ctx is cancelled or one of them fails.
func (g *Registry) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, r := range g.ordered {
		eg.Go(func() error { return r.Run(ctx) })
	}
	return eg.Wait()
}

// Snapshots returns the public state of every room.
func (g *Registry) Snapshots(ctx context.Context) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(g.ordered))
	for _, r := range g.ordered {
		s, err := r.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", r.Name(), err)
		}
		out = append(out, s)
	}
	return out, nil
}
