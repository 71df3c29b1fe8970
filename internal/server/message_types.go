package server

import "github.com/lox/bingohall/internal/room"

// MessageType names a WebSocket message.
type MessageType string

const (
	// Client to server messages
	MessageTypeJoinRoom    MessageType = "join_room"
	MessageTypeLeaveRoom   MessageType = "leave_room"
	MessageTypeSelectCard  MessageType = "select_card"
	MessageTypeClaimWin    MessageType = "claim_win"
	MessageTypeGetBalance  MessageType = "get_balance"
	MessageTypeGetSnapshot MessageType = "get_snapshot"

	// Server to client replies
	MessageTypeSnapshot      MessageType = "snapshot"
	MessageTypeRoomLeft      MessageType = "room_left"
	MessageTypeCardSelected  MessageType = "card_selected"
	MessageTypeClaimAccepted MessageType = "claim_accepted"
	MessageTypeBalance       MessageType = "balance"
	MessageTypeError         MessageType = "error"

	// Room events pushed to every member
	MessageTypeRegistrationOpened = MessageType(room.EventRegistrationOpened)
	MessageTypeCardTaken          = MessageType(room.EventCardTaken)
	MessageTypeCardReleased       = MessageType(room.EventCardReleased)
	MessageTypeRoundStarted       = MessageType(room.EventRoundStarted)
	MessageTypeNumberDrawn        = MessageType(room.EventNumberDrawn)
	MessageTypeWinnerClaimed      = MessageType(room.EventWinnerClaimed)
	MessageTypeRoundEnded         = MessageType(room.EventRoundEnded)
	MessageTypeRoomIdle           = MessageType(room.EventRoomIdle)
)

// String returns the string representation of the message type
func (mt MessageType) String() string {
	return string(mt)
}
