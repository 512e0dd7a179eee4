package connectors

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bridge places orders on a trading terminal on behalf of one broker account.
type Bridge interface {
	Execute(ctx context.Context, req BridgeRequest) (*BridgeResult, error)
}

// BridgeRequest is one order or close instruction. Password is the decrypted
// broker credential and must not be logged or stored.
type BridgeRequest struct {
	Login      int64               `json:"login"`
	Server     string              `json:"server"`
	Password   string              `json:"password"`
	Symbol     string              `json:"symbol"`
	Action     string              `json:"action"`
	Volume     decimal.Decimal     `json:"volume"`
	StopLoss   decimal.NullDecimal `json:"sl"`
	TakeProfit decimal.NullDecimal `json:"tp"`
	ClientID   string              `json:"client_id"`
	Comment    string              `json:"comment,omitempty"`
}

// LogFields returns the request's loggable fields; the password is never included.
func (r BridgeRequest) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"login":     r.Login,
		"server":    r.Server,
		"symbol":    r.Symbol,
		"action":    r.Action,
		"volume":    r.Volume.String(),
		"client_id": r.ClientID,
	}
}

// ClosedPosition is one position closed by a close_* instruction.
type ClosedPosition struct {
	Ticket     int64           `json:"ticket"`
	ClosePrice decimal.Decimal `json:"close_price"`
	Profit     decimal.Decimal `json:"profit"`
	Volume     decimal.Decimal `json:"volume"`
}

// BridgeResult is the terminal's confirmation.
type BridgeResult struct {
	Ticket     int64            `json:"ticket"`
	Price      decimal.Decimal  `json:"price"`
	Volume     decimal.Decimal  `json:"volume"`
	Closed     []ClosedPosition `json:"closed,omitempty"`
	ExecutedAt time.Time        `json:"executed_at"`
}

// TotalProfit sums the profit of every closed position.
func (r *BridgeResult) TotalProfit() decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.Closed {
		total = total.Add(c.Profit)
	}
	return total
}

// RejectionError is a definitive refusal by the broker or terminal.
type RejectionError struct {
	Code   int
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Code == 0 {
		return e.Reason
	}
	if e.Reason == "" {
		return fmt.Sprintf("%d %s", e.Code, GetRetcodeMsg(e.Code))
	}
	return fmt.Sprintf("%s (%d %s)", e.Reason, e.Code, GetRetcodeMsg(e.Code))
}
