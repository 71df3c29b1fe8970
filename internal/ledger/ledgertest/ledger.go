// Package ledgertest provides an in-process ledger.Ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coder/quartz"

	"github.com/lox/bingohall/internal/ledger"
)

type onceKey struct {
	participant string
	round       string
	kind        ledger.Kind
}

// Ledger keeps balances and history in memory behind one mutex, which makes
// every call linearizable.
type Ledger struct {
	mu       sync.Mutex
	clock    quartz.Clock
	balances map[string]*ledger.Balances
	history  map[string][]ledger.Transaction
	once     map[onceKey]bool
	failures []error
	seq      int
	calls    int
}

var _ ledger.Ledger = (*Ledger)(nil)

// New returns an empty ledger stamped with clock, or the wall clock if nil.
func New(clock quartz.Clock) *Ledger {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Ledger{
		clock:    clock,
		balances: make(map[string]*ledger.Balances),
		history:  make(map[string][]ledger.Transaction),
		once:     make(map[onceKey]bool),
	}
}

// Fund deposits amount into participant's play balance.
func (l *Ledger) Fund(participant string, amount int64) {
	if _, err := l.Credit(context.Background(), participant, amount, ledger.Reason{Kind: ledger.KindDeposit}); err != nil {
		panic(fmt.Sprintf("ledgertest: fund %s: %v", participant, err))
	}
}

// FailNext makes the next Debit or Credit fail with err without touching
// any balance. Calls queue up.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, err)
}

// Calls returns how many Debit and Credit calls were attempted.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Total sums every sub-balance of every participant.
func (l *Ledger) Total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, b := range l.balances {
		total += b.Total()
	}
	return total
}

// Deposited sums all deposits and bonus grants, the only kinds that bring
// money into the system.
func (l *Ledger) Deposited() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total int64
	for _, txs := range l.history {
		for _, tx := range txs {
			if tx.Kind == ledger.KindDeposit || tx.Kind == ledger.KindBonusGrant {
				total += tx.Amount
			}
		}
	}
	return total
}

// Participants lists everyone with a balance row, sorted.
func (l *Ledger) Participants() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.balances))
	for p := range l.balances {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) Debit(ctx context.Context, participant string, amount int64, reason ledger.Reason) (int64, error) {
	return l.apply(ctx, participant, amount, reason, true)
}

func (l *Ledger) Credit(ctx context.Context, participant string, amount int64, reason ledger.Reason) (int64, error) {
	return l.apply(ctx, participant, amount, reason, false)
}

func (l *Ledger) GetBalance(ctx context.Context, participant string) (ledger.Balances, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Balances{}, fmt.Errorf("%w: %w", ledger.ErrStorageUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[participant]; ok {
		return *b, nil
	}
	return ledger.Balances{}, nil
}

func (l *Ledger) History(ctx context.Context, participant string) ([]ledger.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrStorageUnavailable, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Transaction(nil), l.history[participant]...), nil
}

func (l *Ledger) apply(ctx context.Context, participant string, amount int64, reason ledger.Reason, debit bool) (int64, error) {
	if err := ledger.CheckRequest(participant, amount, reason, debit); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ledger.ErrStorageUnavailable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++

	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		return 0, err
	}

	key := onceKey{participant, reason.RoundID, reason.Kind}
	if reason.Kind.OncePerRound() && l.once[key] {
		return 0, fmt.Errorf("%w: %s %s for round %s", ledger.ErrDuplicate, participant, reason.Kind, reason.RoundID)
	}

	b, ok := l.balances[participant]
	if !ok {
		b = &ledger.Balances{}
		l.balances[participant] = b
	}
	acct := reason.Kind.Account()
	slot := account(b, acct)
	before := *slot

	after := before + amount
	if debit {
		if before < amount {
			return 0, fmt.Errorf("%w: %s has %d in %s, needs %d", ledger.ErrInsufficientFunds, participant, before, acct, amount)
		}
		after = before - amount
	}
	*slot = after

	l.seq++
	l.history[participant] = append(l.history[participant], ledger.Transaction{
		ID:            fmt.Sprintf("tx-%06d", l.seq),
		Participant:   participant,
		Kind:          reason.Kind,
		Account:       acct,
		Amount:        amount,
		RoundID:       reason.RoundID,
		Note:          reason.Note,
		BalanceBefore: before,
		BalanceAfter:  after,
		CreatedAt:     l.clock.Now(),
	})
	if reason.Kind.OncePerRound() {
		l.once[key] = true
	}
	return after, nil
}

func account(b *ledger.Balances, a ledger.Account) *int64 {
	switch a {
	case ledger.AccountMain:
		return &b.Main
	case ledger.AccountBonus:
		return &b.Bonus
	default:
		return &b.Play
	}
}
