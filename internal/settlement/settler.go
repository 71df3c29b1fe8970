package settlement

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lox/bingohall/internal/ledger"
)

// Round is what a room hands over once a round is decided.
type Round struct {
	ID          string
	Stake       int64
	Pot         int64
	HouseCutBps int64
	Winners     []string
}

// Payout is one credit owed by a settlement.
type Payout struct {
	Participant string      `json:"participant"`
	Kind        ledger.Kind `json:"kind"`
	Amount      int64       `json:"amount"`
}

// Result describes a completed settlement.
type Result struct {
	RoundID string   `json:"roundId"`
	Split   Split    `json:"split"`
	Winners []string `json:"winners"`
	Payouts []Payout `json:"payouts"`
}

type progress struct {
	mu     sync.Mutex
	result Result
	paid   []bool
	done   bool
}

// Settler pays out rounds exactly once.
//
// A Settle call that fails part way keeps track of the credits that went
// through; the next call for the same round only attempts the rest. The
// ledger's once-per-round payout rule backs this up across restarts.
type Settler struct {
	ledger ledger.Ledger
	house  string
	logger *log.Logger

	mu     sync.Mutex
	rounds map[string]*progress
}

// NewSettler returns a settler crediting house takes to house.
func NewSettler(l ledger.Ledger, house string, logger *log.Logger) (*Settler, error) {
	if house == "" {
		return nil, errors.New("settlement: house participant is required")
	}
	return &Settler{
		ledger: l,
		house:  house,
		logger: logger.WithPrefix("settlement"),
		rounds: make(map[string]*progress),
	}, nil
}

// House returns the participant receiving house takes.
func (s *Settler) House() string {
	return s.house
}

// Settle credits winners and the house for round. It is safe to call any
// number of times; later calls with the same round ID return the first
// computed result and never credit twice.
func (s *Settler) Settle(ctx context.Context, round Round) (Result, error) {
	if round.ID == "" {
		return Result{}, fmt.Errorf("%w: round has no id", ErrInvalidSplit)
	}

	p, err := s.plan(round)
	if err != nil {
		return Result{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.result, nil
	}

	for i, payout := range p.result.Payouts {
		if p.paid[i] {
			continue
		}
		_, err := s.ledger.Credit(ctx, payout.Participant, payout.Amount, ledger.Reason{
			Kind:    payout.Kind,
			RoundID: round.ID,
		})
		switch {
		case err == nil:
		case errors.Is(err, ledger.ErrDuplicate):
			s.logger.Warn("Payout already recorded", "round", round.ID, "participant", payout.Participant, "kind", payout.Kind)
		default:
			return Result{}, fmt.Errorf("settle round %s: credit %s %d to %s: %w",
				round.ID, payout.Kind, payout.Amount, payout.Participant, err)
		}
		p.paid[i] = true
	}

	p.done = true
	s.logger.Info("Round settled",
		"round", round.ID,
		"pot", p.result.Split.Pot,
		"winners", len(p.result.Winners),
		"prize", p.result.Split.PrizePerWinner,
		"house", p.result.Split.HouseTake)
	return p.result, nil
}

// Forget drops bookkeeping for a settled round.
func (s *Settler) Forget(roundID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rounds, roundID)
}

func (s *Settler) plan(round Round) (*progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.rounds[round.ID]; ok {
		return p, nil
	}

	winners := slices.Clone(round.Winners)
	slices.Sort(winners)
	if len(slices.Compact(slices.Clone(winners))) != len(winners) {
		return nil, fmt.Errorf("%w: duplicate winner in round %s", ErrInvalidSplit, round.ID)
	}

	split, err := Compute(round.Pot, round.HouseCutBps, len(winners))
	if err != nil {
		return nil, err
	}

	var payouts []Payout
	if split.PrizePerWinner > 0 {
		for _, w := range winners {
			payouts = append(payouts, Payout{Participant: w, Kind: ledger.KindPrizeCredit, Amount: split.PrizePerWinner})
		}
	}
	if split.HouseTake > 0 {
		payouts = append(payouts, Payout{Participant: s.house, Kind: ledger.KindHouseCut, Amount: split.HouseTake})
	}

	p := &progress{
		result: Result{RoundID: round.ID, Split: split, Winners: winners, Payouts: payouts},
		paid:   make([]bool, len(payouts)),
	}
	s.rounds[round.ID] = p
	return p, nil
}
