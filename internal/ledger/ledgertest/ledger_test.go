package ledgertest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/bingohall/internal/ledger"
)

var stake = ledger.Reason{Kind: ledger.KindStakeDebit, RoundID: "r1"}

func TestDebitOverBalanceLeavesNoTrace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(nil)
	l.Fund("alice", 5)

	after, err := l.Debit(ctx, "alice", 10, stake)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Zero(t, after)

	bal, err := l.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), bal.Play)

	hist, err := l.History(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, hist, 1, "only the deposit")
}

func TestDebitCreditAccounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(nil)
	l.Fund("alice", 50)

	after, err := l.Debit(ctx, "alice", 10, stake)
	require.NoError(t, err)
	assert.Equal(t, int64(40), after)

	after, err = l.Credit(ctx, "alice", 24, ledger.Reason{Kind: ledger.KindPrizeCredit, RoundID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, int64(24), after)

	bal, err := l.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ledger.Balances{Play: 40, Main: 24}, bal)

	hist, err := l.History(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, int64(-10), hist[1].Signed())
	assert.NoError(t, ledger.VerifyHistory(hist, bal))
}

func TestPrizeCreditOncePerRound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(nil)
	prize := ledger.Reason{Kind: ledger.KindPrizeCredit, RoundID: "r1"}

	_, err := l.Credit(ctx, "alice", 12, prize)
	require.NoError(t, err)
	_, err = l.Credit(ctx, "alice", 12, prize)
	require.ErrorIs(t, err, ledger.ErrDuplicate)

	bal, _ := l.GetBalance(ctx, "alice")
	assert.Equal(t, int64(12), bal.Main)
}

func TestFailNext(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(nil)
	l.Fund("alice", 10)
	l.FailNext(ledger.ErrStorageUnavailable)

	_, err := l.Debit(ctx, "alice", 5, stake)
	require.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	bal, _ := l.GetBalance(ctx, "alice")
	assert.Equal(t, int64(10), bal.Play)

	_, err = l.Debit(ctx, "alice", 5, stake)
	require.NoError(t, err)
}

func TestConcurrentDebitsNeverOverspend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(nil)
	l.Fund("alice", 100)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Debit(ctx, "alice", 10, stake); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	bal, _ := l.GetBalance(ctx, "alice")
	assert.Equal(t, int64(0), bal.Play)
	hist, _ := l.History(ctx, "alice")
	assert.NoError(t, ledger.VerifyHistory(hist, bal))
}
