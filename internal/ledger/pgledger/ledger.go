// Package pgledger is the PostgreSQL-backed ledger.Ledger.
//
// Each Debit or Credit runs in its own database transaction: the balance row
// is created if missing, locked with SELECT ... FOR UPDATE, checked, updated
// and a transaction row is appended. Row locks serialise calls for the same
// participant; different participants never contend.
package pgledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lox/bingohall/internal/ledger"
)

const (
	tableBalances     = "balances"
	tableTransactions = "transactions"

	colParticipant   = "participant"
	colAccount       = "account"
	colAmount        = "amount"
	colUpdatedAt     = "updated_at"
	colID            = "id"
	colSeq           = "seq"
	colKind          = "kind"
	colRoundID       = "round_id"
	colNote          = "note"
	colBalanceBefore = "balance_before"
	colBalanceAfter  = "balance_after"
	colCreatedAt     = "created_at"

	uniqueViolation = "23505"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Ledger implements ledger.Ledger on a pgx pool.
type Ledger struct {
	pool   *pgxpool.Pool
	tm     trm.Manager
	getter *trmpgx.CtxGetter
	clock  quartz.Clock
}

var _ ledger.Ledger = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock stamps transactions using clock instead of the wall clock.
func WithClock(clock quartz.Clock) Option {
	return func(l *Ledger) { l.clock = clock }
}

// New builds a ledger over pool. The schema must already be migrated.
func New(pool *pgxpool.Pool, opts ...Option) (*Ledger, error) {
	m, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		return nil, fmt.Errorf("create transaction manager: %w", err)
	}
	l := &Ledger{
		pool:   pool,
		tm:     m,
		getter: trmpgx.DefaultCtxGetter,
		clock:  quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Ledger) Debit(ctx context.Context, participant string, amount int64, reason ledger.Reason) (int64, error) {
	return l.apply(ctx, participant, amount, reason, true)
}

func (l *Ledger) Credit(ctx context.Context, participant string, amount int64, reason ledger.Reason) (int64, error) {
	return l.apply(ctx, participant, amount, reason, false)
}

func (l *Ledger) apply(ctx context.Context, participant string, amount int64, reason ledger.Reason, debit bool) (int64, error) {
	if err := ledger.CheckRequest(participant, amount, reason, debit); err != nil {
		return 0, err
	}
	acct := reason.Kind.Account()

	var after int64
	err := l.tm.Do(ctx, func(txCtx context.Context) error {
		conn := l.getter.DefaultTrOrDB(txCtx, l.pool)

		if err := ensureRow(txCtx, conn, participant, acct); err != nil {
			return err
		}
		before, err := lockBalance(txCtx, conn, participant, acct)
		if err != nil {
			return err
		}

		after = before + amount
		if debit {
			if before < amount {
				return fmt.Errorf("%w: %s has %d in %s, needs %d", ledger.ErrInsufficientFunds, participant, before, acct, amount)
			}
			after = before - amount
		}

		now := l.clock.Now()
		if err := setBalance(txCtx, conn, participant, acct, after, now); err != nil {
			return err
		}
		return appendTransaction(txCtx, conn, ledger.Transaction{
			ID:            uuid.NewString(),
			Participant:   participant,
			Kind:          reason.Kind,
			Account:       acct,
			Amount:        amount,
			RoundID:       reason.RoundID,
			Note:          reason.Note,
			BalanceBefore: before,
			BalanceAfter:  after,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return 0, classify(err)
	}
	return after, nil
}

func (l *Ledger) GetBalance(ctx context.Context, participant string) (ledger.Balances, error) {
	query, args, err := psql.Select(colAccount, colAmount).
		From(tableBalances).
		Where(sq.Eq{colParticipant: participant}).
		ToSql()
	if err != nil {
		return ledger.Balances{}, err
	}

	rows, err := l.getter.DefaultTrOrDB(ctx, l.pool).Query(ctx, query, args...)
	if err != nil {
		return ledger.Balances{}, classify(err)
	}
	defer rows.Close()

	var b ledger.Balances
	for rows.Next() {
		var (
			acct   string
			amount int64
		)
		if err := rows.Scan(&acct, &amount); err != nil {
			return ledger.Balances{}, classify(err)
		}
		switch ledger.Account(acct) {
		case ledger.AccountPlay:
			b.Play = amount
		case ledger.AccountMain:
			b.Main = amount
		case ledger.AccountBonus:
			b.Bonus = amount
		}
	}
	if err := rows.Err(); err != nil {
		return ledger.Balances{}, classify(err)
	}
	return b, nil
}

func (l *Ledger) History(ctx context.Context, participant string) ([]ledger.Transaction, error) {
	query, args, err := psql.Select(
		colID, colParticipant, colKind, colAccount, colAmount, colRoundID,
		colNote, colBalanceBefore, colBalanceAfter, colCreatedAt,
	).
		From(tableTransactions).
		Where(sq.Eq{colParticipant: participant}).
		OrderBy(colSeq).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := l.getter.DefaultTrOrDB(ctx, l.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tx         ledger.Transaction
			kind, acct string
		)
		if err := rows.Scan(&tx.ID, &tx.Participant, &kind, &acct, &tx.Amount, &tx.RoundID,
			&tx.Note, &tx.BalanceBefore, &tx.BalanceAfter, &tx.CreatedAt); err != nil {
			return nil, classify(err)
		}
		tx.Kind = ledger.Kind(kind)
		tx.Account = ledger.Account(acct)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func ensureRow(ctx context.Context, conn trmpgx.Tr, participant string, acct ledger.Account) error {
	query, args, err := psql.Insert(tableBalances).
		Columns(colParticipant, colAccount, colAmount).
		Values(participant, string(acct), 0).
		Suffix("ON CONFLICT (" + colParticipant + ", " + colAccount + ") DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, query, args...)
	return err
}

func lockBalance(ctx context.Context, conn trmpgx.Tr, participant string, acct ledger.Account) (int64, error) {
	query, args, err := psql.Select(colAmount).
		From(tableBalances).
		Where(sq.Eq{colParticipant: participant, colAccount: string(acct)}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return 0, err
	}
	var amount int64
	if err := conn.QueryRow(ctx, query, args...).Scan(&amount); err != nil {
		return 0, err
	}
	return amount, nil
}

func setBalance(ctx context.Context, conn trmpgx.Tr, participant string, acct ledger.Account, amount int64, now time.Time) error {
	query, args, err := psql.Update(tableBalances).
		Set(colAmount, amount).
		Set(colUpdatedAt, now).
		Where(sq.Eq{colParticipant: participant, colAccount: string(acct)}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, query, args...)
	return err
}

func appendTransaction(ctx context.Context, conn trmpgx.Tr, tx ledger.Transaction) error {
	query, args, err := psql.Insert(tableTransactions).
		Columns(colID, colParticipant, colKind, colAccount, colAmount, colRoundID,
			colNote, colBalanceBefore, colBalanceAfter, colCreatedAt).
		Values(tx.ID, tx.Participant, string(tx.Kind), string(tx.Account), tx.Amount, tx.RoundID,
			tx.Note, tx.BalanceBefore, tx.BalanceAfter, tx.CreatedAt).
		ToSql()
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, query, args...)
	return err
}

// classify maps driver failures onto the ledger error taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrDuplicate):
		return err
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%w: balance row vanished: %w", ledger.ErrStorageUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ledger.ErrDuplicate, pgErr.Detail)
	}
	return fmt.Errorf("%w: %w", ledger.ErrStorageUnavailable, err)
}
