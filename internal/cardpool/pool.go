// Package cardpool tracks which numbered cards are reserved during a round's
// registration. A card has at most one holder and a holder has at most one
// card; both directions are kept together under one lock.
package cardpool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrCardUnavailable means another participant already holds the card.
	ErrCardUnavailable = errors.New("card already taken")
	// ErrAlreadyReserved means the participant holds a different card and
	// the pool does not allow switching.
	ErrAlreadyReserved = errors.New("participant already holds a card")
	// ErrOutOfRange means the card number is not in the pool.
	ErrOutOfRange = errors.New("card number out of range")
)

// Policy decides what happens when a participant reserves a second card.
type Policy int

const (
	// ReplacePrior releases the held card and reserves the new one in a
	// single step.
	ReplacePrior Policy = iota
	// RejectSecond refuses with ErrAlreadyReserved.
	RejectSecond
)

// Reservation is a granted card.
type Reservation struct {
	Participant string
	Card        int
	// Released is the card given up to make this reservation, or 0.
	Released int
}

// Pool holds reservations for cards 1..size.
type Pool struct {
	mu       sync.Mutex
	size     int
	policy   Policy
	byCard   map[int]string
	byHolder map[string]int
}

// New returns an empty pool of size cards.
func New(size int, policy Policy) *Pool {
	return &Pool{
		size:     size,
		policy:   policy,
		byCard:   make(map[int]string),
		byHolder: make(map[string]int),
	}
}

// Size returns the number of cards in the pool.
func (p *Pool) Size() int {
	return p.size
}

// Reserve grants card to participant. Racing callers on the same card are
// ordered by the lock: the first to acquire it wins, the rest get
// ErrCardUnavailable. Reserving the card you already hold succeeds without
// change.
func (p *Pool) Reserve(participant string, card int) (Reservation, error) {
	if card < 1 || card > p.size {
		return Reservation{}, fmt.Errorf("%w: %d not in 1..%d", ErrOutOfRange, card, p.size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if holder, ok := p.byCard[card]; ok {
		if holder == participant {
			return Reservation{Participant: participant, Card: card}, nil
		}
		return Reservation{}, fmt.Errorf("%w: card %d", ErrCardUnavailable, card)
	}

	res := Reservation{Participant: participant, Card: card}
	if prior, ok := p.byHolder[participant]; ok {
		if p.policy == RejectSecond {
			return Reservation{}, fmt.Errorf("%w: card %d", ErrAlreadyReserved, prior)
		}
		delete(p.byCard, prior)
		res.Released = prior
	}

	p.byCard[card] = participant
	p.byHolder[participant] = card
	return res, nil
}

// Release frees the participant's card. It is a no-op when none is held.
func (p *Pool) Release(participant string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	card, ok := p.byHolder[participant]
	if !ok {
		return 0, false
	}
	delete(p.byHolder, participant)
	delete(p.byCard, card)
	return card, true
}

// Holder returns who holds card.
func (p *Pool) Holder(card int) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.byCard[card]
	return h, ok
}

// CardOf returns the card held by participant.
func (p *Pool) CardOf(participant string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.byHolder[participant]
	return c, ok
}

// Taken returns reserved card numbers in ascending order.
func (p *Pool) Taken() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.byCard))
	for c := range p.byCard {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// Available returns free card numbers in ascending order.
func (p *Pool) Available() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, p.size-len(p.byCard))
	for c := 1; c <= p.size; c++ {
		if _, ok := p.byCard[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

// Holders returns a copy of the participant to card mapping.
func (p *Pool) Holders() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.byHolder))
	for h, c := range p.byHolder {
		out[h] = c
	}
	return out
}

// Len returns the number of reservations.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byHolder)
}

// Reset drops every reservation.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.byCard)
	clear(p.byHolder)
}
