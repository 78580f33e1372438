package rpc

import (
	"time"

	"github.com/cory-johannsen/townworks/internal/game/economy"
	"github.com/cory-johannsen/townworks/internal/gameserver"
)

// PlaceRequest places definition for settlement with its anchor at X, Y, Z in World.
type PlaceRequest struct {
	Settlement string `json:"settlement"`
	Definition string `json:"definition"`
	World      string `json:"world"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Z          int    `json:"z"`
}

// CollectRequest releases the pending income of a settlement. An empty
// Instances list collects from every instance.
type CollectRequest struct {
	Settlement string   `json:"settlement"`
	Instances  []string `json:"instances,omitempty"`
}

// InstanceRequest names one placed structure.
type InstanceRequest struct {
	Instance string `json:"instance"`
}

// Reply carries an economy.Result.
type Reply struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

func reply(r economy.Result) *Reply {
	return &Reply{OK: r.OK, Reason: r.Reason}
}

// TreasuryRequest names the settlement whose account is read.
type TreasuryRequest struct {
	Settlement string `json:"settlement"`
}

// Transaction is one account movement; Amount is negative for withdrawals.
type Transaction struct {
	Amount  int       `json:"amount"`
	Memo    string    `json:"memo"`
	Balance int       `json:"balance"`
	At      time.Time `json:"at"`
}

// TreasuryReply is a settlement's balance and transactions, oldest first.
type TreasuryReply struct {
	Balance      int           `json:"balance"`
	Transactions []Transaction `json:"transactions"`
}

// WatchClockRequest opens a clock stream. With RolloversOnly set only the
// tick starting each economic day is sent after the first.
type WatchClockRequest struct {
	RolloversOnly bool `json:"rollovers_only"`
}

// TickReply is one clock reading.
type TickReply struct {
	Day      int64  `json:"day"`
	Hour     string `json:"hour"`
	Rollover bool   `json:"rollover"`
}

func tickReply(t gameserver.Tick) *TickReply {
	return &TickReply{Day: t.Day, Hour: t.Hour.String(), Rollover: t.Rollover}
}
