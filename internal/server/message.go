package server

import (
	"encoding/json"
	"time"

	"github.com/lox/bingohall/internal/ledger"
)

// Message is the envelope for every WebSocket frame in both directions.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"requestId,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → Server Messages

type JoinRoomData struct {
	Stake int64 `json:"stake"`
}

type SelectCardData struct {
	Card int `json:"card"`
}

// Server → Client Messages

type RoomLeftData struct {
	Stake int64 `json:"stake"`
}

type BalanceData struct {
	Participant string `json:"participant"`
	Play        int64  `json:"play"`
	Main        int64  `json:"main"`
	Bonus       int64  `json:"bonus"`
	Total       int64  `json:"total"`
}

func balanceData(participant string, b ledger.Balances) BalanceData {
	return BalanceData{
		Participant: participant,
		Play:        b.Play,
		Main:        b.Main,
		Bonus:       b.Bonus,
		Total:       b.Total(),
	}
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
