package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	tableRounds = "rounds"

	colRoundID        = "round_id"
	colRoom           = "room"
	colStake          = "stake"
	colCalledNumbers  = "called_numbers"
	colWinners        = "winners"
	colPot            = "pot"
	colPrizePerWinner = "prize_per_winner"
	colHouseTake      = "house_take"
	colStartedAt      = "started_at"
	colFinishedAt     = "finished_at"
)

// ErrNotFound is returned by LoadRound for an unknown round.
var ErrNotFound = errors.New("round not found")

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PGStore keeps summaries in the rounds table.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ SummaryStore = (*PGStore)(nil)

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) SaveRound(ctx context.Context, sum Summary) error {
	called, err := json.Marshal(nonNil(sum.CalledNumbers))
	if err != nil {
		return err
	}
	winners, err := json.Marshal(nonNil(sum.Winners))
	if err != nil {
		return err
	}

	query, args, err := psql.Insert(tableRounds).
		Columns(colRoundID, colRoom, colStake, colCalledNumbers, colWinners,
			colPot, colPrizePerWinner, colHouseTake, colStartedAt, colFinishedAt).
		Values(sum.RoundID, sum.Room, sum.Stake, string(called), string(winners),
			sum.Pot, sum.PrizePerWinner, sum.HouseTake, sum.StartedAt, sum.FinishedAt).
		Suffix(`ON CONFLICT (round_id) DO UPDATE SET
			called_numbers = EXCLUDED.called_numbers,
			winners = EXCLUDED.winners,
			prize_per_winner = EXCLUDED.prize_per_winner,
			house_take = EXCLUDED.house_take,
			finished_at = EXCLUDED.finished_at,
			saved_at = now()`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save round %s: %w", sum.RoundID, err)
	}
	return nil
}

// LoadRound reads a summary back.
func (s *PGStore) LoadRound(ctx context.Context, roundID string) (Summary, error) {
	query, args, err := psql.Select(colRoundID, colRoom, colStake, colCalledNumbers, colWinners,
		colPot, colPrizePerWinner, colHouseTake, colStartedAt, colFinishedAt).
		From(tableRounds).
		Where(sq.Eq{colRoundID: roundID}).
		ToSql()
	if err != nil {
		return Summary{}, err
	}

	var (
		sum             Summary
		called, winners []byte
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(&sum.RoundID, &sum.Room, &sum.Stake, &called, &winners,
		&sum.Pot, &sum.PrizePerWinner, &sum.HouseTake, &sum.StartedAt, &sum.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Summary{}, fmt.Errorf("%w: %s", ErrNotFound, roundID)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("load round %s: %w", roundID, err)
	}
	if err := json.Unmarshal(called, &sum.CalledNumbers); err != nil {
		return Summary{}, fmt.Errorf("decode called numbers: %w", err)
	}
	if err := json.Unmarshal(winners, &sum.Winners); err != nil {
		return Summary{}, fmt.Errorf("decode winners: %w", err)
	}
	return sum, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
