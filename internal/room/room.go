// Package room runs the round lifecycle for one stake tier.
//
// All state of a Room is owned by the goroutine running Room.Run. Public
// methods post a command to that goroutine and wait for the reply; timers
// post wakeups into the same queue. Nothing else touches round state, so a
// reservation that arrives just after the registration timer fired is seen
// after the phase change and rejected.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/bingohall/internal/caller"
	"github.com/lox/bingohall/internal/card"
	"github.com/lox/bingohall/internal/cardpool"
	"github.com/lox/bingohall/internal/ledger"
	"github.com/lox/bingohall/internal/randutil"
	"github.com/lox/bingohall/internal/roundid"
	"github.com/lox/bingohall/internal/settlement"
	"github.com/lox/bingohall/internal/store"
)

var (
	// ErrInvalidPhaseAction is returned for actions the current phase does
	// not allow, such as picking a card while numbers are being drawn.
	ErrInvalidPhaseAction = errors.New("action not allowed in current phase")
	// ErrInvalidClaim is returned when the claimed card has no completed
	// line.
	ErrInvalidClaim = errors.New("card is not a winner")
	// ErrNotParticipant is returned when the caller has not joined the room
	// or holds no card in the current round.
	ErrNotParticipant = errors.New("not a participant")
	// ErrUnknownStake is returned by the registry for unconfigured tiers.
	ErrUnknownStake = errors.New("no room for stake")
	// ErrStopped is returned once the room loop has exited.
	ErrStopped = errors.New("room stopped")
)

// Settler pays out finished rounds. *settlement.Settler implements it.
type Settler interface {
	Settle(ctx context.Context, round settlement.Round) (settlement.Result, error)
	Forget(roundID string)
}

// Options carries a room's collaborators.
type Options struct {
	Ledger    ledger.Ledger
	Settler   Settler
	Summaries store.SummaryStore
	Catalog   *card.Catalog
	Clock     quartz.Clock
	Logger    *log.Logger
	// Seed fixes the draw order so rounds replay exactly. When nil each
	// room draws from a fresh seed taken from the operating system.
	Seed *int64
}

type wakeKind int

const (
	wakeRegistrationClosed wakeKind = iota
	wakeDraw
	wakeClaimWindowClosed
	wakeSettleRetry
	wakeAnnounceDone
)

func (k wakeKind) String() string {
	switch k {
	case wakeRegistrationClosed:
		return "registration-closed"
	case wakeDraw:
		return "draw"
	case wakeClaimWindowClosed:
		return "claim-window-closed"
	case wakeSettleRetry:
		return "settle-retry"
	case wakeAnnounceDone:
		return "announce-done"
	}
	return "unknown"
}

type wakeup struct {
	epoch uint64
	kind  wakeKind
}

type command func(ctx context.Context)

// Room is one stake tier's authoritative state.
type Room struct {
	cfg       Config
	ledger    ledger.Ledger
	settler   Settler
	summaries store.SummaryStore
	catalog   *card.Catalog
	clock     quartz.Clock
	logger    *log.Logger
	ids       *roundid.Generator
	seed      int64

	commands chan command
	wakeups  chan wakeup
	done     chan struct{}

	// Owned by the loop goroutine.
	phase     Phase
	endsAt    time.Time
	epoch     uint64
	timer     *quartz.Timer
	members   map[string]Subscriber
	pool      *cardpool.Pool
	paid      map[string]bool
	round     round
	roundSeq  uint64
	lastSplit *settlement.Split
}

// round holds everything reset when registration opens.
type round struct {
	id         string
	pot        int64
	caller     *caller.Caller
	called     card.Set
	winners    []store.Winner
	claimOpen  bool
	startedAt  time.Time
	finishedAt time.Time
	settled    bool
}

// New builds a room. Call Run to start it.
func New(cfg Config, opts Options) (*Room, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case opts.Ledger == nil:
		return nil, errors.New("room: ledger is required")
	case opts.Settler == nil:
		return nil, errors.New("room: settler is required")
	case opts.Catalog == nil || opts.Catalog.Len() == 0:
		return nil, errors.New("room: card catalog is empty")
	}
	if opts.Summaries == nil {
		opts.Summaries = store.Discard{}
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	seed := randutil.Seed()
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	return &Room{
		cfg:       cfg,
		ledger:    opts.Ledger,
		settler:   opts.Settler,
		summaries: opts.Summaries,
		catalog:   opts.Catalog,
		clock:     opts.Clock,
		logger:    opts.Logger.WithPrefix("room").With("room", cfg.Name, "stake", cfg.Stake),
		ids:       roundid.New(opts.Clock, nil),
		seed:      seed,
		commands:  make(chan command),
		wakeups:   make(chan wakeup, 1),
		done:      make(chan struct{}),
		phase:     PhaseIdle,
		members:   make(map[string]Subscriber),
		pool:      cardpool.New(opts.Catalog.Len(), cfg.CardPolicy),
		paid:      make(map[string]bool),
	}, nil
}

// Name returns the configured room name.
func (r *Room) Name() string { return r.cfg.Name }

// Stake returns the tier's stake.
func (r *Room) Stake() int64 { return r.cfg.Stake }

// Config returns the room's configuration.
func (r *Room) Config() Config { return r.cfg }

// Done is closed once Run has returned.
func (r *Room) Done() <-chan struct{} { return r.done }

// Run processes commands and wakeups until ctx is cancelled.
func (r *Room) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.stopTimer()

	r.logger.Info("Room open", "houseCutBps", r.cfg.HouseCutBps, "cards", r.catalog.Len())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Room closing", "phase", r.phase)
			r.shutdown()
			return nil
		case cmd := <-r.commands:
			// A timer that fired before the command arrived goes first.
			r.drainWakeups(ctx)
			cmd(ctx)
		case w := <-r.wakeups:
			r.handleWakeup(ctx, w)
		}
	}
}

func (r *Room) drainWakeups(ctx context.Context) {
	for {
		select {
		case w := <-r.wakeups:
			r.handleWakeup(ctx, w)
		default:
			return
		}
	}
}

func (r *Room) handleWakeup(ctx context.Context, w wakeup) {
	if w.epoch != r.epoch {
		r.logger.Debug("Ignoring stale wakeup", "kind", w.kind, "epoch", w.epoch, "current", r.epoch)
		return
	}
	r.wake(ctx, w.kind)
}

// call runs fn on the loop goroutine and returns its result.
func call[T any](ctx context.Context, r *Room, fn func(ctx context.Context) (T, error)) (T, error) {
	type reply struct {
		v   T
		err error
	}
	var zero T
	replies := make(chan reply, 1)
	cmd := func(loopCtx context.Context) {
		v, err := fn(loopCtx)
		replies <- reply{v, err}
	}

	select {
	case r.commands <- cmd:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.done:
		return zero, ErrStopped
	}

	select {
	case rep := <-replies:
		return rep.v, rep.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.done:
		return zero, ErrStopped
	}
}

// Join subscribes participant to room events and returns a snapshot
// addressed to them. Joining again replaces the previous subscriber, which
// is how a reconnecting participant takes over their seat.
func (r *Room) Join(ctx context.Context, participant string, sub Subscriber) (Snapshot, error) {
	if participant == "" {
		return Snapshot{}, fmt.Errorf("%w: empty participant", ErrNotParticipant)
	}
	return call(ctx, r, func(context.Context) (Snapshot, error) {
		_, rejoin := r.members[participant]
		r.members[participant] = sub
		r.logger.Debug("Participant joined", "participant", participant, "rejoin", rejoin, "phase", r.phase)
		return r.snapshotFor(participant), nil
	})
}

// Leave detaches participant. When sub is non-nil it only takes effect if
// sub is still the participant's current subscriber, so a late disconnect
// from a replaced connection is ignored.
//
// Leaving during registration releases the card and refunds the stake.
// Leaving later keeps the card in play.
func (r *Room) Leave(ctx context.Context, participant string, sub Subscriber) error {
	_, err := call(ctx, r, func(loopCtx context.Context) (struct{}, error) {
		current, ok := r.members[participant]
		if !ok || (sub != nil && current != sub) {
			return struct{}{}, nil
		}
		delete(r.members, participant)
		r.logger.Debug("Participant left", "participant", participant, "phase", r.phase)

		if r.phase == PhaseRegistration {
			return struct{}{}, r.withdraw(loopCtx, participant)
		}
		return struct{}{}, nil
	})
	return err
}

// SelectCard reserves card number for participant in the current
// registration, charging the stake on their first card of the round. The
// first selection in an idle room opens registration.
func (r *Room) SelectCard(ctx context.Context, participant string, number int) (Selection, error) {
	return call(ctx, r, func(loopCtx context.Context) (Selection, error) {
		return r.selectCard(loopCtx, participant, number)
	})
}

// ClaimWin checks participant's card against the numbers called so far.
func (r *Room) ClaimWin(ctx context.Context, participant string) (Claim, error) {
	return call(ctx, r, func(loopCtx context.Context) (Claim, error) {
		return r.claimWin(loopCtx, participant)
	})
}

// Snapshot returns the room's public state.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	return call(ctx, r, func(context.Context) (Snapshot, error) {
		return r.snapshotFor(""), nil
	})
}

// SnapshotFor returns the state as seen by participant.
func (r *Room) SnapshotFor(ctx context.Context, participant string) (Snapshot, error) {
	return call(ctx, r, func(context.Context) (Snapshot, error) {
		return r.snapshotFor(participant), nil
	})
}

func (r *Room) snapshotFor(participant string) Snapshot {
	s := Snapshot{
		Room:          r.cfg.Name,
		Stake:         r.cfg.Stake,
		HouseCutBps:   r.cfg.HouseCutBps,
		Phase:         r.phase,
		PhaseEndsAt:   r.endsAt,
		Pot:           r.round.pot,
		Participants:  len(r.paid),
		Members:       len(r.members),
		TakenCards:    r.pool.Taken(),
		CardCount:     r.pool.Size(),
		CalledNumbers: []int{},
		Winners:       append([]store.Winner{}, r.round.winners...),
	}
	if r.round.caller != nil {
		s.CalledNumbers = append(s.CalledNumbers, r.round.caller.Drawn()...)
	}
	if r.phase == PhaseRunning || r.phase == PhaseAnnounce {
		s.RoundID = r.round.id
	}
	if r.phase == PhaseAnnounce && r.lastSplit != nil {
		s.PrizePerWinner = r.lastSplit.PrizePerWinner
		s.HouseTake = r.lastSplit.HouseTake
	}
	if participant != "" {
		if n, ok := r.pool.CardOf(participant); ok {
			if c, err := r.catalog.Card(n); err == nil {
				s.Card = n
				s.Grid = &c.Grid
			}
			s.Paid = r.paid[participant]
		}
	}
	return s
}

// schedule arms the room's single timer. Any earlier timer is stopped and
// its wakeup, if already queued, is dropped by the epoch check.
func (r *Room) schedule(kind wakeKind, d time.Duration) {
	r.stopTimer()
	r.epoch++
	w := wakeup{epoch: r.epoch, kind: kind}
	r.endsAt = r.clock.Now().Add(d)
	r.timer = r.clock.AfterFunc(d, func() {
		select {
		case r.wakeups <- w:
		case <-r.done:
		}
	}, "room", r.cfg.Name, kind.String())
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.endsAt = time.Time{}
}

func (r *Room) wake(ctx context.Context, kind wakeKind) {
	r.timer = nil
	switch kind {
	case wakeRegistrationClosed:
		r.closeRegistration(ctx)
	case wakeDraw:
		r.draw(ctx)
	case wakeClaimWindowClosed:
		r.enterAnnounce(ctx)
	case wakeSettleRetry:
		r.settle(ctx)
	case wakeAnnounceDone:
		r.finishAnnounce(ctx)
	}
}

// broadcast sends an event to every member.
func (r *Room) broadcast(typ EventType, data any) {
	e := r.event(typ, data)
	for _, sub := range r.members {
		if sub != nil {
			sub.Deliver(e)
		}
	}
}

func (r *Room) send(participant string, typ EventType, data any) {
	if sub := r.members[participant]; sub != nil {
		sub.Deliver(r.event(typ, data))
	}
}

func (r *Room) event(typ EventType, data any) Event {
	return Event{Type: typ, Room: r.cfg.Name, Stake: r.cfg.Stake, At: r.clock.Now(), Data: data}
}
