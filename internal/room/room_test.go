package room

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/bingohall/internal/card"
	"github.com/lox/bingohall/internal/cardpool"
	"github.com/lox/bingohall/internal/ledger"
	"github.com/lox/bingohall/internal/ledger/ledgertest"
	"github.com/lox/bingohall/internal/settlement"
	"github.com/lox/bingohall/internal/store"
)

const house = "house"

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Deliver(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) all(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last(typ EventType) (Event, bool) {
	all := r.all(typ)
	if len(all) == 0 {
		return Event{}, false
	}
	return all[len(all)-1], true
}

type memSummaries struct {
	mu     sync.Mutex
	saved  []store.Summary
	failOn int
}

func (m *memSummaries) SaveRound(_ context.Context, s store.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn > 0 {
		m.failOn--
		return fmt.Errorf("disk full: %w", ledger.ErrStorageUnavailable)
	}
	m.saved = append(m.saved, s)
	return nil
}

func (m *memSummaries) list() []store.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Summary(nil), m.saved...)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     *quartz.Mock
	ledger    *ledgertest.Ledger
	summaries *memSummaries
	room      *Room
	stop      func()
	subs      map[string]*recorder
	grids     map[string]card.Grid
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

func testConfig() Config {
	cfg := DefaultConfig(10)
	cfg.Name = "ten"
	cfg.ClaimWindow = 0
	return cfg
}

func newHarness(t *testing.T, cfg Config, catalog *card.Catalog) *harness {
	t.Helper()
	clock := quartz.NewMock(t)
	l := ledgertest.New(clock)
	logger := testLogger()
	settler, err := settlement.NewSettler(l, house, logger)
	require.NoError(t, err)
	if catalog == nil {
		catalog = card.Generate(7, 100)
	}
	summaries := &memSummaries{}
	seed := int64(42)

	r, err := New(cfg, Options{
		Ledger:    l,
		Settler:   settler,
		Summaries: summaries,
		Catalog:   catalog,
		Clock:     clock,
		Logger:    logger,
		Seed:      &seed,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	stop := func() {
		cancel()
		<-r.Done()
	}
	t.Cleanup(stop)

	return &harness{
		t:         t,
		ctx:       ctx,
		clock:     clock,
		ledger:    l,
		summaries: summaries,
		room:      r,
		stop:      stop,
		subs:      make(map[string]*recorder),
		grids:     make(map[string]card.Grid),
	}
}

func (h *harness) join(who string) Snapshot {
	h.t.Helper()
	rec := &recorder{}
	snap, err := h.room.Join(h.ctx, who, rec)
	require.NoError(h.t, err)
	h.subs[who] = rec
	return snap
}

// player joins, is funded and picks a card.
func (h *harness) player(who string, funds int64, number int) Selection {
	h.t.Helper()
	h.join(who)
	if funds > 0 {
		h.ledger.Fund(who, funds)
	}
	sel, err := h.room.SelectCard(h.ctx, who, number)
	require.NoError(h.t, err)
	h.grids[who] = sel.Grid
	return sel
}

// advance fires the next timer and waits until the room has handled it.
func (h *harness) advance() Snapshot {
	h.t.Helper()
	_, w := h.clock.AdvanceNext()
	w.MustWait(h.ctx)
	return h.snapshot()
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	s, err := h.room.Snapshot(h.ctx)
	require.NoError(h.t, err)
	return s
}

func (h *harness) balance(who string) ledger.Balances {
	h.t.Helper()
	b, err := h.ledger.GetBalance(h.ctx, who)
	require.NoError(h.t, err)
	return b
}

// drawUntilWinner advances draws until one of the players' cards has a line.
func (h *harness) drawUntilWinner(players ...string) ([]string, Snapshot) {
	h.t.Helper()
	for range card.MaxNumber {
		snap := h.advance()
		require.Equal(h.t, PhaseRunning, snap.Phase)
		called := card.SetOf(snap.CalledNumbers...)
		var winners []string
		for _, p := range players {
			if card.IsWinner(h.grids[p], called) {
				winners = append(winners, p)
			}
		}
		if len(winners) > 0 {
			return winners, snap
		}
	}
	h.t.Fatal("no winner after every number was drawn")
	return nil, Snapshot{}
}

func TestSelectCardOpensRegistration(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)

	snap := h.join("alice")
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Empty(t, snap.RoundID)

	sel := h.player("alice", 50, 7)
	assert.Equal(t, 7, sel.Card)
	assert.Equal(t, int64(10), sel.Charged)
	assert.Equal(t, int64(10), sel.Pot)

	snap = h.snapshot()
	assert.Equal(t, PhaseRegistration, snap.Phase)
	assert.Empty(t, snap.RoundID, "round id is published when the round starts")
	assert.Equal(t, []int{7}, snap.TakenCards)
	assert.Equal(t, int64(40), h.balance("alice").Play)
	assert.Equal(t, []EventType{EventRegistrationOpened, EventCardTaken}, h.subs["alice"].types())
}

func TestSelectCardOutOfRangeKeepsRoomIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.join("alice")
	h.ledger.Fund("alice", 50)

	_, err := h.room.SelectCard(h.ctx, "alice", 101)
	require.ErrorIs(t, err, cardpool.ErrOutOfRange)
	assert.Equal(t, PhaseIdle, h.snapshot().Phase)
	assert.Equal(t, int64(50), h.balance("alice").Play)
}

func TestSelectCardRequiresJoin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	_, err := h.room.SelectCard(h.ctx, "ghost", 1)
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestSelectCardInsufficientFunds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 1)
	h.join("bob")
	h.ledger.Fund("bob", 5)

	_, err := h.room.SelectCard(h.ctx, "bob", 2)
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	snap := h.snapshot()
	assert.Equal(t, []int{1}, snap.TakenCards, "card 2 released again")
	assert.Equal(t, int64(10), snap.Pot)
	assert.Equal(t, int64(5), h.balance("bob").Play)
	hist, err := h.ledger.History(h.ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, hist, 1, "only the deposit")
}

func TestSelectCardStorageFailureReleasesCard(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.join("alice")
	h.ledger.Fund("alice", 50)
	h.ledger.FailNext(ledger.ErrStorageUnavailable)

	_, err := h.room.SelectCard(h.ctx, "alice", 3)
	require.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.Empty(t, h.snapshot().TakenCards)
	assert.Equal(t, int64(50), h.balance("alice").Play)
}

func TestCardTakenByAnother(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 9)
	h.join("bob")
	h.ledger.Fund("bob", 50)

	_, err := h.room.SelectCard(h.ctx, "bob", 9)
	require.ErrorIs(t, err, cardpool.ErrCardUnavailable)
	assert.Equal(t, int64(50), h.balance("bob").Play, "no charge for a refused card")
}

func TestSwitchingCardDoesNotChargeAgain(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 4)

	sel, err := h.room.SelectCard(h.ctx, "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, 4, sel.Released)
	assert.Zero(t, sel.Charged)
	assert.Equal(t, int64(10), sel.Pot)

	sel, err = h.room.SelectCard(h.ctx, "alice", 5)
	require.NoError(t, err, "reselecting the held card is a no-op")
	assert.Zero(t, sel.Charged)

	assert.Equal(t, int64(40), h.balance("alice").Play)
	assert.Equal(t, []int{5}, h.snapshot().TakenCards)
	assert.Equal(t,
		[]EventType{EventRegistrationOpened, EventCardTaken, EventCardReleased, EventCardTaken},
		h.subs["alice"].types())
}

func TestLeavingDuringRegistrationRefunds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 4)
	h.player("bob", 50, 8)

	require.NoError(t, h.room.Leave(h.ctx, "alice", h.subs["alice"]))

	snap := h.snapshot()
	assert.Equal(t, []int{8}, snap.TakenCards)
	assert.Equal(t, int64(10), snap.Pot)
	assert.Equal(t, 1, snap.Participants)
	assert.Equal(t, int64(50), h.balance("alice").Play)

	hist, err := h.ledger.History(h.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, ledger.KindStakeRefund, hist[2].Kind)
	assert.Equal(t, hist[1].RoundID, hist[2].RoundID)

	released, ok := h.subs["bob"].last(EventCardReleased)
	require.True(t, ok)
	assert.Equal(t, CardReleased{Card: 4}, released.Data)
}

func TestRefundFailureKeepsRegistration(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 4)
	h.ledger.FailNext(ledger.ErrStorageUnavailable)

	err := h.room.Leave(h.ctx, "alice", nil)
	require.ErrorIs(t, err, ledger.ErrStorageUnavailable)

	snap := h.snapshot()
	assert.Equal(t, []int{4}, snap.TakenCards, "card kept until refunded")
	assert.Equal(t, int64(40), h.balance("alice").Play)
}

func TestStaleDisconnectIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 4)
	old := h.subs["alice"]
	h.join("alice")

	require.NoError(t, h.room.Leave(h.ctx, "alice", old))
	assert.Equal(t, []int{4}, h.snapshot().TakenCards)
	assert.Equal(t, 1, h.snapshot().Members)
}

func TestRegistrationTimeoutWithoutEnoughPlayersRefundsAndIdles(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.MinParticipants = 2
	h := newHarness(t, cfg, nil)
	h.player("alice", 50, 4)

	snap := h.advance()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Empty(t, snap.TakenCards)
	assert.Zero(t, snap.Pot)
	assert.Equal(t, int64(50), h.balance("alice").Play)

	idle, ok := h.subs["alice"].last(EventRoomIdle)
	require.True(t, ok)
	assert.Equal(t, RoomIdle{Reason: idleNotEnoughPlayers}, idle.Data)

	// The next selection opens a fresh registration.
	_, err := h.room.SelectCard(h.ctx, "alice", 6)
	require.NoError(t, err)
	assert.Equal(t, PhaseRegistration, h.snapshot().Phase)
}

func TestLateSelectionAfterRegistrationCloses(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 4)
	h.join("bob")
	h.ledger.Fund("bob", 50)

	// The registration timer fires before the selection is handled.
	_, w := h.clock.AdvanceNext()
	w.MustWait(h.ctx)
	_, err := h.room.SelectCard(h.ctx, "bob", 5)
	require.ErrorIs(t, err, ErrInvalidPhaseAction)
	assert.Equal(t, int64(50), h.balance("bob").Play)
	assert.Equal(t, PhaseRunning, h.snapshot().Phase)
}

func TestFullRoundSingleWinner(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	players := []string{"alice", "bob", "carol"}
	for i, p := range players {
		h.player(p, 100, i+1)
	}
	h.join("spectator")

	snap := h.advance()
	require.Equal(t, PhaseRunning, snap.Phase)
	assert.Equal(t, int64(30), snap.Pot)
	assert.Equal(t, 3, snap.Participants)
	assert.NotEmpty(t, snap.RoundID)
	roundID := snap.RoundID

	started, ok := h.subs["bob"].last(EventRoundStarted)
	require.True(t, ok)
	msg := started.Data.(RoundStarted)
	assert.Equal(t, roundID, msg.RoundID)
	assert.Equal(t, 2, msg.Card)
	require.NotNil(t, msg.Grid)
	assert.Equal(t, h.grids["bob"], *msg.Grid)

	spect, ok := h.subs["spectator"].last(EventRoundStarted)
	require.True(t, ok)
	assert.Zero(t, spect.Data.(RoundStarted).Card)

	winners, snap := h.drawUntilWinner(players...)
	for _, p := range players {
		if p == winners[0] {
			continue
		}
		if !card.IsWinner(h.grids[p], card.SetOf(snap.CalledNumbers...)) {
			_, err := h.room.ClaimWin(h.ctx, p)
			require.ErrorIs(t, err, ErrInvalidClaim)
			break
		}
	}

	claim, err := h.room.ClaimWin(h.ctx, winners[0])
	require.NoError(t, err)
	assert.Equal(t, roundID, claim.RoundID)
	assert.NotEmpty(t, claim.Winner.Line)

	snap = h.snapshot()
	require.Equal(t, PhaseAnnounce, snap.Phase)
	require.Len(t, snap.Winners, 1)

	assert.Equal(t, int64(24), snap.PrizePerWinner)
	assert.Equal(t, int64(6), snap.HouseTake)
	assert.Equal(t, int64(24), h.balance(winners[0]).Main)
	assert.Equal(t, int64(6), h.balance(house).Main)
	assert.Equal(t, h.ledger.Deposited(), h.ledger.Total(), "no money created or destroyed")

	ended, ok := h.subs["spectator"].last(EventRoundEnded)
	require.True(t, ok)
	result := ended.Data.(RoundEnded)
	assert.Equal(t, roundID, result.RoundID)
	assert.Equal(t, result.Pot, result.HouseTake+result.PrizePerWinner*int64(len(result.Winners)))
	assert.Equal(t, PhaseRegistration, result.NextPhase)

	saved := h.summaries.list()
	require.Len(t, saved, 1)
	assert.Equal(t, roundID, saved[0].RoundID)
	assert.Equal(t, snap.CalledNumbers, saved[0].CalledNumbers)

	_, err = h.room.ClaimWin(h.ctx, winners[0])
	require.ErrorIs(t, err, ErrInvalidPhaseAction, "round is over")

	snap = h.advance()
	assert.Equal(t, PhaseRegistration, snap.Phase)
	assert.Empty(t, snap.TakenCards)
	assert.Zero(t, snap.Pot)
	assert.Empty(t, snap.CalledNumbers)

	_, err = h.room.SelectCard(h.ctx, "alice", 1)
	require.NoError(t, err)
	hist, err := h.ledger.History(h.ctx, "alice")
	require.NoError(t, err)
	last := hist[len(hist)-1]
	assert.Equal(t, ledger.KindStakeDebit, last.Kind)
	assert.NotEqual(t, roundID, last.RoundID, "new round, new id")
}

// twinCatalog has two identical cards so both holders always win together.
const twinCatalog = `
- card_id: 1
  B: [1, 2, 3, 4, 5]
  I: [16, 17, 18, 19, 20]
  N: [31, 32, 33, 34]
  G: [46, 47, 48, 49, 50]
  O: [61, 62, 63, 64, 65]
- card_id: 2
  B: [1, 2, 3, 4, 5]
  I: [16, 17, 18, 19, 20]
  N: [31, 32, 33, 34]
  G: [46, 47, 48, 49, 50]
  O: [61, 62, 63, 64, 65]
- card_id: 3
  B: [6, 7, 8, 9, 10]
  I: [21, 22, 23, 24, 25]
  N: [36, 37, 38, 39]
  G: [51, 52, 53, 54, 55]
  O: [66, 67, 68, 69, 70]
`

func TestClaimWindowHonoursSimultaneousWinners(t *testing.T) {
	t.Parallel()
	catalog, err := card.ParseCatalog([]byte(twinCatalog))
	require.NoError(t, err)
	cfg := testConfig()
	cfg.ClaimWindow = 2 * time.Second
	h := newHarness(t, cfg, catalog)

	h.player("alice", 100, 1)
	h.player("bob", 100, 2)
	h.player("carol", 100, 3)
	h.advance()

	winners, _ := h.drawUntilWinner("alice", "bob")
	require.Equal(t, []string{"alice", "bob"}, winners)

	_, err = h.room.ClaimWin(h.ctx, "alice")
	require.NoError(t, err)
	snap := h.snapshot()
	require.Equal(t, PhaseRunning, snap.Phase, "claim window open")
	drawn := len(snap.CalledNumbers)

	_, err = h.room.ClaimWin(h.ctx, "bob")
	require.NoError(t, err)
	_, err = h.room.ClaimWin(h.ctx, "alice")
	require.NoError(t, err, "repeat claim is accepted once")

	snap = h.advance()
	require.Equal(t, PhaseAnnounce, snap.Phase)
	assert.Len(t, snap.CalledNumbers, drawn, "no draws during the claim window")
	assert.Len(t, snap.Winners, 2)
	assert.Equal(t, int64(12), snap.PrizePerWinner)
	assert.Equal(t, int64(6), snap.HouseTake)
	assert.Equal(t, int64(12), h.balance("alice").Main)
	assert.Equal(t, int64(12), h.balance("bob").Main)
	assert.Equal(t, int64(6), h.balance(house).Main)
	assert.Equal(t, h.ledger.Deposited(), h.ledger.Total())
}

func TestExhaustedCallerPaysHouse(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 100, 1)
	h.advance()

	var snap Snapshot
	for range card.MaxNumber + 1 {
		snap = h.advance()
		if snap.Phase != PhaseRunning {
			break
		}
	}
	require.Equal(t, PhaseAnnounce, snap.Phase)
	assert.Len(t, snap.CalledNumbers, card.MaxNumber)
	seen := make(map[int]bool)
	for _, n := range snap.CalledNumbers {
		require.False(t, seen[n], "duplicate %d", n)
		seen[n] = true
	}
	assert.Empty(t, snap.Winners)
	assert.Equal(t, int64(10), snap.HouseTake)
	assert.Equal(t, int64(10), h.balance(house).Main)
	assert.Zero(t, h.balance("alice").Main)
}

func TestSettlementRetriedAfterStorageFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 100, 1)
	h.player("bob", 100, 2)
	h.advance()

	winners, _ := h.drawUntilWinner("alice", "bob")
	h.ledger.FailNext(ledger.ErrStorageUnavailable)
	_, err := h.room.ClaimWin(h.ctx, winners[0])
	require.NoError(t, err)

	snap := h.snapshot()
	require.Equal(t, PhaseAnnounce, snap.Phase)
	_, ended := h.subs["alice"].last(EventRoundEnded)
	assert.False(t, ended, "no result before the money moved")
	assert.Zero(t, h.balance(winners[0]).Main)

	snap = h.advance()
	require.Equal(t, PhaseAnnounce, snap.Phase)
	_, ended = h.subs["alice"].last(EventRoundEnded)
	assert.True(t, ended)
	assert.Equal(t, h.ledger.Deposited(), h.ledger.Total())
	assert.Equal(t, snap.PrizePerWinner, h.balance(winners[0]).Main)
}

func TestShutdownDuringRegistrationRefunds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 1)
	h.player("bob", 50, 2)
	require.Equal(t, PhaseRegistration, h.snapshot().Phase)

	h.stop()

	ctx := context.Background()
	for _, p := range []string{"alice", "bob"} {
		b, err := h.ledger.GetBalance(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(50), b.Play, p)
	}
	assert.Equal(t, h.ledger.Deposited(), h.ledger.Total())

	idle, ok := h.subs["alice"].last(EventRoomIdle)
	require.True(t, ok)
	assert.Equal(t, idleShutdown, idle.Data.(RoomIdle).Reason)
}

func TestShutdownDuringRunningRefunds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 50, 1)
	h.player("bob", 50, 2)
	snap := h.advance()
	require.Equal(t, PhaseRunning, snap.Phase)
	assert.Equal(t, int64(20), snap.Pot, "pot is one stake per paid participant")
	h.advance()

	h.stop()

	ctx := context.Background()
	for _, p := range []string{"alice", "bob"} {
		b, err := h.ledger.GetBalance(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(50), b.Play, p)

		hist, err := h.ledger.History(ctx, p)
		require.NoError(t, err)
		require.NotEmpty(t, hist)
		assert.Equal(t, ledger.KindStakeRefund, hist[len(hist)-1].Kind)
	}
	assert.Equal(t, h.ledger.Deposited(), h.ledger.Total())
}

func TestShutdownSettlesAcceptedClaim(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.ClaimWindow = time.Second
	h := newHarness(t, cfg, nil)
	players := []string{"alice", "bob", "carol"}
	for i, p := range players {
		h.player(p, 100, i+1)
	}
	h.advance()

	winners, _ := h.drawUntilWinner(players...)
	_, err := h.room.ClaimWin(h.ctx, winners[0])
	require.NoError(t, err)
	require.Equal(t, PhaseRunning, h.snapshot().Phase, "claim window still open")

	h.stop()

	ctx := context.Background()
	b, err := h.ledger.GetBalance(ctx, winners[0])
	require.NoError(t, err)
	assert.Equal(t, int64(24), b.Main)
	hb, err := h.ledger.GetBalance(ctx, house)
	require.NoError(t, err)
	assert.Equal(t, int64(6), hb.Main)
	assert.Equal(t, h.ledger.Deposited(), h.ledger.Total())
	_, ended := h.subs[winners[0]].last(EventRoundEnded)
	assert.True(t, ended)
}

func TestShutdownFinishesPendingSettlement(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 100, 1)
	h.player("bob", 100, 2)
	h.advance()

	winners, _ := h.drawUntilWinner("alice", "bob")
	h.ledger.FailNext(ledger.ErrStorageUnavailable)
	_, err := h.room.ClaimWin(h.ctx, winners[0])
	require.NoError(t, err)
	require.Equal(t, PhaseAnnounce, h.snapshot().Phase)
	require.Zero(t, h.balance(winners[0]).Main)

	h.stop()

	b, err := h.ledger.GetBalance(context.Background(), winners[0])
	require.NoError(t, err)
	assert.Equal(t, int64(16), b.Main)
	assert.Equal(t, h.ledger.Deposited(), h.ledger.Total())
}

func TestSummaryFailureDoesNotBlockRound(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.summaries.failOn = 1
	h.player("alice", 100, 1)
	h.advance()

	winners, _ := h.drawUntilWinner("alice")
	_, err := h.room.ClaimWin(h.ctx, winners[0])
	require.NoError(t, err)

	assert.Equal(t, PhaseAnnounce, h.snapshot().Phase)
	_, ended := h.subs["alice"].last(EventRoundEnded)
	assert.True(t, ended)
	assert.Empty(t, h.summaries.list())
}

func TestDisconnectDuringRunningKeepsCard(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 100, 1)
	h.player("bob", 100, 2)
	h.advance()

	require.NoError(t, h.room.Leave(h.ctx, "alice", h.subs["alice"]))
	snap := h.snapshot()
	assert.Equal(t, 2, snap.Participants)
	assert.Equal(t, int64(20), snap.Pot)
	assert.Equal(t, []int{1, 2}, snap.TakenCards)

	h.advance()
	back := h.join("alice")
	assert.Equal(t, PhaseRunning, back.Phase)
	assert.Equal(t, 1, back.Card)
	require.NotNil(t, back.Grid)
	assert.Equal(t, h.grids["alice"], *back.Grid)
	assert.Len(t, back.CalledNumbers, 1)
}

func TestNoAutoRestartGoesIdle(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.AutoRestart = false
	h := newHarness(t, cfg, nil)
	h.player("alice", 100, 1)
	h.advance()

	winners, _ := h.drawUntilWinner("alice")
	_, err := h.room.ClaimWin(h.ctx, winners[0])
	require.NoError(t, err)

	snap := h.advance()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Empty(t, snap.RoundID)
}

func TestClaimOutsideRunning(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	h.player("alice", 100, 1)
	_, err := h.room.ClaimWin(h.ctx, "alice")
	require.ErrorIs(t, err, ErrInvalidPhaseAction)

	h.advance()
	h.join("bob")
	_, err = h.room.ClaimWin(h.ctx, "bob")
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestConcurrentSelectionsOfOneCard(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig(), nil)
	const n = 20
	for i := range n {
		who := fmt.Sprintf("p%02d", i)
		h.join(who)
		h.ledger.Fund(who, 10)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := range n {
		wg.Add(1)
		go func(who string) {
			defer wg.Done()
			_, err := h.room.SelectCard(h.ctx, who, 42)
			if err != nil {
				assert.ErrorIs(t, err, cardpool.ErrCardUnavailable)
				return
			}
			mu.Lock()
			winners = append(winners, who)
			mu.Unlock()
		}(fmt.Sprintf("p%02d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1)
	snap := h.snapshot()
	assert.Equal(t, []int{42}, snap.TakenCards)
	assert.Equal(t, int64(10), snap.Pot)
	assert.Equal(t, int64(n*10-10), h.ledger.Total(), "one stake taken")
}

func TestCommandsAfterStopFail(t *testing.T) {
	t.Parallel()
	clock := quartz.NewMock(t)
	l := ledgertest.New(clock)
	settler, err := settlement.NewSettler(l, house, testLogger())
	require.NoError(t, err)
	r, err := New(testConfig(), Options{Ledger: l, Settler: settler, Catalog: card.Generate(1, 10), Clock: clock, Logger: testLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	cancel()
	<-r.Done()

	_, err = r.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, DefaultConfig(10).Validate())

	bad := DefaultConfig(0)
	bad.HouseCutBps = 20_000
	bad.MinParticipants = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stake must be positive")
	assert.Contains(t, err.Error(), "house_cut_bps")
	assert.Contains(t, err.Error(), "min_participants")
}
