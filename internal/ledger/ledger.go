// Package ledger defines the balance ledger consumed by the bingo rooms.
//
// Every monetary event is one call on a Ledger and produces exactly one
// immutable Transaction. Implementations must serialise calls for the same
// participant so that two debits can never both spend the same funds; calls
// for different participants may run in parallel.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInsufficientFunds is returned by Debit when the sub-balance is
	// smaller than the amount. Nothing is written.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrStorageUnavailable wraps failures of the backing store. Money may
	// not be assumed to have moved when it is returned.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidReason is returned when a kind is used in the wrong
	// direction, for example crediting with KindStakeDebit.
	ErrInvalidReason = errors.New("invalid reason")
	// ErrDuplicate is returned when a once-per-round entry already exists
	// for the same participant, round and kind. Nothing is written.
	ErrDuplicate = errors.New("duplicate round entry")
)

// Account names one of a participant's sub-balances.
type Account string

const (
	// AccountPlay is spendable on stakes.
	AccountPlay Account = "play"
	// AccountMain is withdrawable; prizes land here.
	AccountMain Account = "main"
	// AccountBonus holds promotional coins.
	AccountBonus Account = "bonus"
)

// Kind classifies a transaction.
type Kind string

const (
	KindStakeDebit  Kind = "stake-debit"
	KindStakeRefund Kind = "stake-refund"
	KindPrizeCredit Kind = "prize-credit"
	KindHouseCut    Kind = "house-cut"
	KindDeposit     Kind = "deposit"
	KindBonusGrant  Kind = "bonus-grant"
)

// Account returns the sub-balance a kind moves.
func (k Kind) Account() Account {
	switch k {
	case KindPrizeCredit, KindHouseCut:
		return AccountMain
	case KindBonusGrant:
		return AccountBonus
	default:
		return AccountPlay
	}
}

// IsDebit reports whether the kind takes money out of the account.
func (k Kind) IsDebit() bool {
	return k == KindStakeDebit
}

// OncePerRound reports whether at most one entry of this kind may exist per
// participant and round. Payouts are; stakes are not because a participant
// may leave and rejoin during registration.
func (k Kind) OncePerRound() bool {
	return k == KindPrizeCredit || k == KindHouseCut
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindStakeDebit, KindStakeRefund, KindPrizeCredit, KindHouseCut, KindDeposit, KindBonusGrant:
		return true
	}
	return false
}

// Reason describes why money moves.
type Reason struct {
	Kind    Kind
	RoundID string
	Note    string
}

// Transaction is one immutable ledger entry. Amount is always positive; the
// direction comes from the kind.
type Transaction struct {
	ID            string    `json:"id"`
	Participant   string    `json:"participant"`
	Kind          Kind      `json:"kind"`
	Account       Account   `json:"account"`
	Amount        int64     `json:"amount"`
	RoundID       string    `json:"roundId,omitempty"`
	Note          string    `json:"note,omitempty"`
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Signed returns the amount with the sign applied to the balance.
func (t Transaction) Signed() int64 {
	if t.Kind.IsDebit() {
		return -t.Amount
	}
	return t.Amount
}

// Balances are a participant's sub-balances.
type Balances struct {
	Play  int64 `json:"play"`
	Main  int64 `json:"main"`
	Bonus int64 `json:"bonus"`
}

// Of returns the balance of one account.
func (b Balances) Of(a Account) int64 {
	switch a {
	case AccountMain:
		return b.Main
	case AccountBonus:
		return b.Bonus
	default:
		return b.Play
	}
}

// Total sums all sub-balances.
func (b Balances) Total() int64 {
	return b.Play + b.Main + b.Bonus
}

// Ledger is the balance store.
type Ledger interface {
	// Debit removes amount from the account selected by reason.Kind and
	// returns the new balance of that account. The balance is zero whenever
	// err is non-nil.
	Debit(ctx context.Context, participant string, amount int64, reason Reason) (int64, error)
	// Credit adds amount and returns the new balance of that account.
	Credit(ctx context.Context, participant string, amount int64, reason Reason) (int64, error)
	// GetBalance returns every sub-balance of participant.
	GetBalance(ctx context.Context, participant string) (Balances, error)
	// History returns participant's transactions, oldest first.
	History(ctx context.Context, participant string) ([]Transaction, error)
}

// CheckRequest validates the arguments shared by Debit and Credit.
func CheckRequest(participant string, amount int64, reason Reason, debit bool) error {
	if participant == "" {
		return fmt.Errorf("%w: empty participant", ErrInvalidReason)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if !reason.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidReason, reason.Kind)
	}
	if reason.Kind.OncePerRound() && reason.RoundID == "" {
		return fmt.Errorf("%w: %s requires a round", ErrInvalidReason, reason.Kind)
	}
	if reason.Kind.IsDebit() != debit {
		return fmt.Errorf("%w: %s cannot be used to %s", ErrInvalidReason, reason.Kind, direction(debit))
	}
	return nil
}

func direction(debit bool) string {
	if debit {
		return "debit"
	}
	return "credit"
}

// VerifyHistory checks that every entry moves its balance by its signed
// amount, that entries chain per account and that the newest entry of each
// account matches current.
func VerifyHistory(history []Transaction, current Balances) error {
	last := make(map[Account]int64)
	for i, tx := range history {
		if tx.BalanceAfter != tx.BalanceBefore+tx.Signed() {
			return fmt.Errorf("entry %d (%s): %d + %d != %d", i, tx.ID, tx.BalanceBefore, tx.Signed(), tx.BalanceAfter)
		}
		if prev, ok := last[tx.Account]; ok && prev != tx.BalanceBefore {
			return fmt.Errorf("entry %d (%s): starts at %d but %s was %d", i, tx.ID, tx.BalanceBefore, tx.Account, prev)
		}
		last[tx.Account] = tx.BalanceAfter
	}
	for acct, bal := range last {
		if got := current.Of(acct); got != bal {
			return fmt.Errorf("%s balance is %d but history ends at %d", acct, got, bal)
		}
	}
	return nil
}
