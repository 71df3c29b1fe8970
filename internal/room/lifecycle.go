package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lox/bingohall/internal/caller"
	"github.com/lox/bingohall/internal/card"
	"github.com/lox/bingohall/internal/cardpool"
	"github.com/lox/bingohall/internal/ledger"
	"github.com/lox/bingohall/internal/randutil"
	"github.com/lox/bingohall/internal/settlement"
	"github.com/lox/bingohall/internal/store"
)

const (
	idleNotEnoughPlayers = "not enough participants"
	idleNoMembers        = "no members connected"
	idleAutoRestartOff   = "auto restart disabled"
	idleShutdown         = "room shutting down"
)

// shutdownTimeout bounds the ledger work done after the run context ends.
const shutdownTimeout = 10 * time.Second

// openRegistration resets round state and starts the registration timer.
// The round id is minted here so stake debits carry it, but it is only
// published once the round starts.
func (r *Room) openRegistration() {
	r.pool.Reset()
	clear(r.paid)
	r.roundSeq++
	r.round = round{id: r.ids.Next()}
	r.lastSplit = nil
	r.phase = PhaseRegistration
	r.schedule(wakeRegistrationClosed, r.cfg.RegistrationWindow)

	r.logger.Info("Registration opened", "round", r.round.id, "window", r.cfg.RegistrationWindow)
	r.broadcast(EventRegistrationOpened, RegistrationOpened{
		AvailableCards: r.pool.Available(),
		DurationMs:     r.cfg.RegistrationWindow.Milliseconds(),
		ClosesAt:       r.endsAt,
		Stake:          r.cfg.Stake,
	})
}

func (r *Room) goIdle(reason string) {
	r.stopTimer()
	r.pool.Reset()
	clear(r.paid)
	r.round = round{}
	r.lastSplit = nil
	r.phase = PhaseIdle
	r.logger.Info("Room idle", "reason", reason)
	r.broadcast(EventRoomIdle, RoomIdle{Reason: reason})
}

func (r *Room) selectCard(ctx context.Context, participant string, number int) (Selection, error) {
	if _, ok := r.members[participant]; !ok {
		return Selection{}, fmt.Errorf("%w: join the room first", ErrNotParticipant)
	}
	c, err := r.catalog.Card(number)
	if err != nil {
		return Selection{}, fmt.Errorf("%w: %d not in 1..%d", cardpool.ErrOutOfRange, number, r.pool.Size())
	}

	if r.phase == PhaseIdle {
		r.openRegistration()
	}
	if r.phase != PhaseRegistration {
		return Selection{}, fmt.Errorf("%w: cards can only be chosen during registration, room is %s", ErrInvalidPhaseAction, r.phase)
	}

	res, err := r.pool.Reserve(participant, number)
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{Card: number, Grid: c.Grid, Released: res.Released}

	if !r.paid[participant] {
		_, err := r.ledger.Debit(ctx, participant, r.cfg.Stake, ledger.Reason{
			Kind:    ledger.KindStakeDebit,
			RoundID: r.round.id,
			Note:    r.cfg.Name,
		})
		if err != nil {
			r.pool.Release(participant)
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				r.logger.Debug("Stake refused", "participant", participant, "error", err)
			} else {
				r.logger.Error("Stake debit failed", "participant", participant, "error", err)
			}
			return Selection{}, fmt.Errorf("charge stake: %w", err)
		}
		r.paid[participant] = true
		r.round.pot += r.cfg.Stake
		sel.Charged = r.cfg.Stake
	}
	sel.Pot = r.round.pot

	if res.Released != 0 {
		r.broadcast(EventCardReleased, CardReleased{Card: res.Released})
	}
	if res.Released != 0 || sel.Charged != 0 {
		r.broadcast(EventCardTaken, CardTaken{Card: number})
		r.logger.Debug("Card reserved", "participant", participant, "card", number, "released", res.Released, "pot", r.round.pot)
	}
	return sel, nil
}

// withdraw refunds and releases a registrant. The card is only released
// once the refund has gone through, so a failed refund leaves them in the
// round rather than out of pocket.
func (r *Room) withdraw(ctx context.Context, participant string) error {
	if !r.paid[participant] {
		if n, ok := r.pool.Release(participant); ok {
			r.broadcast(EventCardReleased, CardReleased{Card: n})
		}
		return nil
	}
	if err := r.refund(ctx, participant); err != nil {
		r.logger.Error("Refund failed, participant stays registered", "participant", participant, "error", err)
		return err
	}
	if n, ok := r.pool.Release(participant); ok {
		r.broadcast(EventCardReleased, CardReleased{Card: n})
	}
	return nil
}

func (r *Room) refund(ctx context.Context, participant string) error {
	_, err := r.ledger.Credit(ctx, participant, r.cfg.Stake, ledger.Reason{
		Kind:    ledger.KindStakeRefund,
		RoundID: r.round.id,
		Note:    r.cfg.Name,
	})
	if err != nil {
		return fmt.Errorf("refund stake: %w", err)
	}
	delete(r.paid, participant)
	r.round.pot -= r.cfg.Stake
	return nil
}

func (r *Room) closeRegistration(ctx context.Context) {
	if r.phase != PhaseRegistration {
		return
	}
	if len(r.paid) >= r.cfg.MinParticipants {
		r.startRound()
		return
	}

	r.logger.Info("Registration closed without enough participants",
		"paid", len(r.paid), "min", r.cfg.MinParticipants)

	var failed int
	for _, p := range r.paidParticipants() {
		if err := r.refund(ctx, p); err != nil {
			r.logger.Error("Refund failed", "participant", p, "error", err)
			failed++
			continue
		}
		if n, ok := r.pool.Release(p); ok {
			r.broadcast(EventCardReleased, CardReleased{Card: n})
		}
	}
	if failed > 0 {
		// Whoever could not be refunded keeps their seat; give the room
		// another registration window to fill up or to refund them.
		r.schedule(wakeRegistrationClosed, r.cfg.RegistrationWindow)
		r.broadcast(EventRegistrationOpened, RegistrationOpened{
			AvailableCards: r.pool.Available(),
			DurationMs:     r.cfg.RegistrationWindow.Milliseconds(),
			ClosesAt:       r.endsAt,
			Stake:          r.cfg.Stake,
		})
		return
	}
	r.goIdle(idleNotEnoughPlayers)
}

func (r *Room) startRound() {
	r.phase = PhaseRunning
	r.round.caller = r.callerFor(r.roundSeq)
	r.round.startedAt = r.clock.Now()
	r.schedule(wakeDraw, r.cfg.DrawInterval)

	r.logger.Info("Round started", "round", r.round.id, "participants", len(r.paid), "pot", r.round.pot)
	for member, sub := range r.members {
		if sub == nil {
			continue
		}
		msg := RoundStarted{RoundID: r.round.id, Pot: r.round.pot, Participants: len(r.paid)}
		if n, ok := r.pool.CardOf(member); ok {
			if c, err := r.catalog.Card(n); err == nil {
				msg.Card = n
				msg.Grid = &c.Grid
			}
		}
		sub.Deliver(r.event(EventRoundStarted, msg))
	}
}

// callerFor returns the draw order of the room's seq'th round.
func (r *Room) callerFor(seq uint64) *caller.Caller {
	return caller.New(randutil.Derive(r.seed, uint64(r.cfg.Stake)<<32|seq))
}

func (r *Room) draw(ctx context.Context) {
	if r.phase != PhaseRunning || r.round.claimOpen {
		return
	}
	n, ok := r.round.caller.Next()
	if !ok {
		r.logger.Info("All numbers called without a claim", "round", r.round.id)
		r.enterAnnounce(ctx)
		return
	}
	r.round.called.Add(n)
	drawn := r.round.caller.Drawn()
	r.logger.Debug("Number drawn", "round", r.round.id, "number", n, "count", len(drawn))
	r.broadcast(EventNumberDrawn, NumberDrawn{
		RoundID:     r.round.id,
		Number:      n,
		Letter:      letterFor(n),
		CalledSoFar: drawn,
	})
	r.schedule(wakeDraw, r.cfg.DrawInterval)
}

func (r *Room) claimWin(ctx context.Context, participant string) (Claim, error) {
	if r.phase != PhaseRunning {
		return Claim{}, fmt.Errorf("%w: claims are only accepted while numbers are drawn, room is %s", ErrInvalidPhaseAction, r.phase)
	}
	number, ok := r.pool.CardOf(participant)
	if !ok || !r.paid[participant] {
		return Claim{}, fmt.Errorf("%w: no card in round %s", ErrNotParticipant, r.round.id)
	}
	called := r.round.called.Len()
	for _, w := range r.round.winners {
		if w.Participant == participant {
			return Claim{RoundID: r.round.id, Winner: w, Called: called}, nil
		}
	}

	c, err := r.catalog.Card(number)
	if err != nil {
		return Claim{}, err
	}
	line, ok := card.WinningLine(c.Grid, r.round.called)
	if !ok {
		r.logger.Debug("Claim rejected", "participant", participant, "card", number, "called", called)
		return Claim{}, fmt.Errorf("%w: card %d after %d numbers", ErrInvalidClaim, number, called)
	}

	w := store.Winner{Participant: participant, Card: number, Line: line.Name}
	r.round.winners = append(r.round.winners, w)
	r.logger.Info("Claim accepted", "round", r.round.id, "participant", participant, "card", number, "line", line.Name)
	r.broadcast(EventWinnerClaimed, WinnerClaimed{RoundID: r.round.id, Winner: w})

	if !r.round.claimOpen {
		r.round.claimOpen = true
		if r.cfg.ClaimWindow > 0 {
			r.schedule(wakeClaimWindowClosed, r.cfg.ClaimWindow)
		} else {
			r.enterAnnounce(ctx)
		}
	}
	return Claim{RoundID: r.round.id, Winner: w, Called: called}, nil
}

func (r *Room) enterAnnounce(ctx context.Context) {
	if r.phase != PhaseRunning {
		return
	}
	r.stopTimer()
	r.phase = PhaseAnnounce
	r.round.finishedAt = r.clock.Now()
	r.settle(ctx)
}

// settle pays the round out. On a ledger failure the room stays in
// announce and retries after the cooldown; nobody sees a result until the
// money has moved.
func (r *Room) settle(ctx context.Context) {
	if r.phase != PhaseAnnounce || r.round.settled {
		return
	}
	res, err := r.settler.Settle(ctx, settlement.Round{
		ID:          r.round.id,
		Stake:       r.cfg.Stake,
		Pot:         r.round.pot,
		HouseCutBps: r.cfg.HouseCutBps,
		Winners:     participantsOf(r.round.winners),
	})
	if err != nil {
		r.logger.Error("Settlement failed, will retry", "round", r.round.id, "error", err, "retryIn", r.cfg.AnnounceCooldown)
		r.schedule(wakeSettleRetry, r.cfg.AnnounceCooldown)
		return
	}
	r.round.settled = true
	r.lastSplit = &res.Split

	summary := store.Summary{
		RoundID:        r.round.id,
		Room:           r.cfg.Name,
		Stake:          r.cfg.Stake,
		CalledNumbers:  r.round.caller.Drawn(),
		Winners:        append([]store.Winner{}, r.round.winners...),
		Pot:            res.Split.Pot,
		PrizePerWinner: res.Split.PrizePerWinner,
		HouseTake:      res.Split.HouseTake,
		StartedAt:      r.round.startedAt,
		FinishedAt:     r.round.finishedAt,
	}
	if err := r.summaries.SaveRound(ctx, summary); err != nil {
		r.logger.Warn("Could not save round summary", "round", r.round.id, "error", err)
	}

	r.schedule(wakeAnnounceDone, r.cfg.AnnounceCooldown)
	r.broadcast(EventRoundEnded, RoundEnded{
		RoundID:        r.round.id,
		Winners:        summary.Winners,
		Pot:            res.Split.Pot,
		PrizePerWinner: res.Split.PrizePerWinner,
		HouseTake:      res.Split.HouseTake,
		CalledNumbers:  summary.CalledNumbers,
		NextPhase:      r.nextPhase(),
		NextPhaseAt:    r.endsAt,
	})
}

func (r *Room) nextPhase() Phase {
	if r.cfg.AutoRestart && len(r.members) > 0 {
		return PhaseRegistration
	}
	return PhaseIdle
}

func (r *Room) finishAnnounce(context.Context) {
	if r.phase != PhaseAnnounce {
		return
	}
	r.settler.Forget(r.round.id)
	switch {
	case !r.cfg.AutoRestart:
		r.goIdle(idleAutoRestartOff)
	case len(r.members) == 0:
		r.goIdle(idleNoMembers)
	default:
		r.openRegistration()
	}
}

func (r *Room) paidParticipants() []string {
	out := make([]string, 0, len(r.paid))
	for p := range r.paid {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func participantsOf(ws []store.Winner) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Participant
	}
	return out
}

// shutdown leaves no money in an unfinished round. A round with an accepted
// claim is settled; any other round refunds its stakes. Whatever the ledger
// refuses is logged with enough detail to reconcile by hand.
func (r *Room) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if r.phase == PhaseRunning && len(r.round.winners) > 0 {
		r.enterAnnounce(ctx)
	}

	switch r.phase {
	case PhaseRegistration, PhaseRunning:
		var failed int
		for _, p := range r.paidParticipants() {
			if err := r.refund(ctx, p); err != nil {
				r.logger.Error("Refund on shutdown failed, reconcile by hand",
					"round", r.round.id, "participant", p, "stake", r.cfg.Stake, "error", err)
				failed++
			}
		}
		if failed == 0 {
			r.goIdle(idleShutdown)
		}
	case PhaseAnnounce:
		if !r.round.settled {
			r.settle(ctx)
		}
		if !r.round.settled {
			r.logger.Error("Round unsettled at shutdown, reconcile by hand",
				"round", r.round.id, "pot", r.round.pot, "winners", participantsOf(r.round.winners))
		}
	}
}
