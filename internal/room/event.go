package room

import (
	"time"

	"github.com/lox/bingohall/internal/card"
	"github.com/lox/bingohall/internal/store"
)

// EventType names an outbound room event.
type EventType string

const (
	EventRegistrationOpened EventType = "registration_opened"
	EventCardTaken          EventType = "card_taken"
	EventCardReleased       EventType = "card_released"
	EventRoundStarted       EventType = "round_started"
	EventNumberDrawn        EventType = "number_drawn"
	EventWinnerClaimed      EventType = "winner_claimed"
	EventRoundEnded         EventType = "round_ended"
	EventRoomIdle           EventType = "room_idle"
)

// Event is pushed to subscribers. Data holds one of the payload types
// below, matching Type.
type Event struct {
	Type  EventType `json:"type"`
	Room  string    `json:"room"`
	Stake int64     `json:"stake"`
	At    time.Time `json:"at"`
	Data  any       `json:"data"`
}

// Subscriber receives room events. Deliver is called from the room loop and
// must not block; a subscriber that cannot keep up should drop or
// disconnect. Implementations must be comparable, typically a pointer.
type Subscriber interface {
	Deliver(Event)
}

type RegistrationOpened struct {
	AvailableCards []int     `json:"availableCards"`
	DurationMs     int64     `json:"durationMs"`
	ClosesAt       time.Time `json:"closesAt"`
	Stake          int64     `json:"stake"`
}

type CardTaken struct {
	Card int `json:"cardNumber"`
}

type CardReleased struct {
	Card int `json:"cardNumber"`
}

// RoundStarted is sent to each member individually. Card and Grid are only
// set for members holding a card.
type RoundStarted struct {
	RoundID      string     `json:"roundId"`
	Pot          int64      `json:"pot"`
	Participants int        `json:"participants"`
	Card         int        `json:"card,omitempty"`
	Grid         *card.Grid `json:"grid,omitempty"`
}

type NumberDrawn struct {
	RoundID     string `json:"roundId"`
	Number      int    `json:"number"`
	Letter      string `json:"letter"`
	CalledSoFar []int  `json:"calledSoFar"`
}

type WinnerClaimed struct {
	RoundID string       `json:"roundId"`
	Winner  store.Winner `json:"winner"`
}

type RoundEnded struct {
	RoundID        string         `json:"roundId"`
	Winners        []store.Winner `json:"winners"`
	Pot            int64          `json:"pot"`
	PrizePerWinner int64          `json:"prizePerWinner"`
	HouseTake      int64          `json:"houseTake"`
	CalledNumbers  []int          `json:"calledNumbers"`
	NextPhase      Phase          `json:"nextPhase"`
	NextPhaseAt    time.Time      `json:"nextPhaseAt"`
}

type RoomIdle struct {
	Reason string `json:"reason"`
}

// letterFor returns the column letter a number is called under.
func letterFor(n int) string {
	if n < 1 || n > card.MaxNumber {
		return ""
	}
	return card.Letters[(n-1)/(card.MaxNumber/card.Size)]
}
