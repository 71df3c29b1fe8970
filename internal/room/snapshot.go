package room

import (
	"time"

	"github.com/lox/bingohall/internal/card"
	"github.com/lox/bingohall/internal/store"
)

// Phase is where a room is in its round cycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseRegistration Phase = "registration"
	PhaseRunning      Phase = "running"
	PhaseAnnounce     Phase = "announce"
)

// Snapshot is a point-in-time view of a room, enough for a client that
// joins late or reconnects to rebuild its screen.
type Snapshot struct {
	Room           string         `json:"room"`
	Stake          int64          `json:"stake"`
	HouseCutBps    int64          `json:"houseCutBps"`
	Phase          Phase          `json:"phase"`
	PhaseEndsAt    time.Time      `json:"phaseEndsAt,omitzero"`
	RoundID        string         `json:"roundId,omitempty"`
	Pot            int64          `json:"pot"`
	Participants   int            `json:"participants"`
	Members        int            `json:"members"`
	TakenCards     []int          `json:"takenCards"`
	CardCount      int            `json:"cardCount"`
	CalledNumbers  []int          `json:"calledSoFar"`
	Winners        []store.Winner `json:"winners"`
	PrizePerWinner int64          `json:"prizePerWinner,omitempty"`
	HouseTake      int64          `json:"houseTake,omitempty"`

	// Set only in snapshots addressed to a participant holding a card.
	Card int        `json:"card,omitempty"`
	Grid *card.Grid `json:"grid,omitempty"`
	Paid bool       `json:"paid,omitempty"`
}

// Selection is the result of a successful SelectCard.
type Selection struct {
	Card     int       `json:"card"`
	Grid     card.Grid `json:"grid"`
	Released int       `json:"released,omitempty"`
	Charged  int64     `json:"charged"`
	Pot      int64     `json:"pot"`
}

// Claim is the result of an accepted ClaimWin.
type Claim struct {
	RoundID string       `json:"roundId"`
	Winner  store.Winner `json:"winner"`
	Called  int          `json:"called"`
}
