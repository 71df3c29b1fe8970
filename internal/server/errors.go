package server

import (
	"errors"

	"github.com/lox/bingohall/internal/cardpool"
	"github.com/lox/bingohall/internal/ledger"
	"github.com/lox/bingohall/internal/room"
)

// Wire error codes sent in error messages.
const (
	CodeInsufficientFunds  = "insufficient_funds"
	CodeCardUnavailable    = "card_unavailable"
	CodeAlreadyReserved    = "already_reserved"
	CodeOutOfRange         = "out_of_range"
	CodeInvalidPhaseAction = "invalid_phase_action"
	CodeInvalidClaim       = "invalid_claim"
	CodeStorageUnavailable = "storage_unavailable"
	CodeUnknownStake       = "unknown_stake"
	CodeNotJoined          = "not_joined"
	CodeInvalidMessage     = "invalid_message"
	CodeUnknownMessageType = "unknown_message_type"
	CodeRoomStopped        = "room_stopped"
	CodeInternal           = "internal_error"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ledger.ErrInsufficientFunds, CodeInsufficientFunds},
	{cardpool.ErrCardUnavailable, CodeCardUnavailable},
	{cardpool.ErrAlreadyReserved, CodeAlreadyReserved},
	{cardpool.ErrOutOfRange, CodeOutOfRange},
	{room.ErrInvalidPhaseAction, CodeInvalidPhaseAction},
	{room.ErrInvalidClaim, CodeInvalidClaim},
	{room.ErrNotParticipant, CodeNotJoined},
	{room.ErrUnknownStake, CodeUnknownStake},
	{room.ErrStopped, CodeRoomStopped},
	{ledger.ErrStorageUnavailable, CodeStorageUnavailable},
}

// errorCode maps a domain error to its wire code.
func errorCode(err error) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
