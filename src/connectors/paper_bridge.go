package connectors

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"signalbridge/src/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type paperPosition struct {
	ticket    int64
	side      string
	volume    decimal.Decimal
	openPrice decimal.Decimal
}

// PaperBridge fills orders in memory at configured prices. It keeps open positions
// per login and symbol so close actions behave like a terminal would.
type PaperBridge struct {
	mu           sync.Mutex
	prices       map[string]decimal.Decimal
	positions    map[string][]paperPosition
	defaultPrice decimal.Decimal
	now          func() time.Time
}

func NewPaperBridge() *PaperBridge {
	return &PaperBridge{
		prices:       make(map[string]decimal.Decimal),
		positions:    make(map[string][]paperPosition),
		defaultPrice: decimal.NewFromInt(1),
		now:          time.Now,
	}
}

// SetPrice sets the fill price for symbol.
func (p *PaperBridge) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[strings.ToUpper(symbol)] = price
}

func (p *PaperBridge) SetPriceString(symbol, price string) error {
	parsed, err := decimal.NewFromString(strings.TrimSpace(price))
	if err != nil {
		return err
	}
	p.SetPrice(symbol, parsed)
	return nil
}

func (p *PaperBridge) priceOf(symbol string) decimal.Decimal {
	if price, ok := p.prices[symbol]; ok {
		return price
	}
	return p.defaultPrice
}

func positionKey(login int64, symbol string) string {
	return fmt.Sprintf("%d:%s", login, symbol)
}

func newTicket() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]) >> 1)
}

// OpenPositions returns how many positions are open for login and symbol.
func (p *PaperBridge) OpenPositions(login int64, symbol string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.positions[positionKey(login, strings.ToUpper(symbol))])
}

func (p *PaperBridge) Execute(ctx context.Context, req BridgeRequest) (*BridgeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	symbol := strings.ToUpper(req.Symbol)
	key := positionKey(req.Login, symbol)
	price := p.priceOf(symbol)

	switch req.Action {
	case model.ActionBuy, model.ActionSell:
		if !req.Volume.IsPositive() {
			return nil, &RejectionError{Code: 10014, Reason: "invalid volume"}
		}
		pos := paperPosition{
			ticket:    newTicket(),
			side:      req.Action,
			volume:    req.Volume,
			openPrice: price,
		}
		p.positions[key] = append(p.positions[key], pos)

		logger.WithFields(req.LogFields()).WithField("ticket", pos.ticket).Debug("Paper order filled")

		return &BridgeResult{
			Ticket:     pos.ticket,
			Price:      price,
			Volume:     req.Volume,
			ExecutedAt: p.now().UTC(),
		}, nil

	case model.ActionCloseBuy, model.ActionCloseSell, model.ActionCloseAll:
		var (
			kept   []paperPosition
			closed []ClosedPosition
			volume = decimal.Zero
		)
		for _, pos := range p.positions[key] {
			if !closes(req.Action, pos.side) {
				kept = append(kept, pos)
				continue
			}
			profit := price.Sub(pos.openPrice).Mul(pos.volume)
			if pos.side == model.ActionSell {
				profit = profit.Neg()
			}
			closed = append(closed, ClosedPosition{
				Ticket:     pos.ticket,
				ClosePrice: price,
				Profit:     profit,
				Volume:     pos.volume,
			})
			volume = volume.Add(pos.volume)
		}

		if len(closed) == 0 {
			return nil, &RejectionError{Code: RetcodePositionClosed, Reason: "no open positions for " + symbol}
		}
		p.positions[key] = kept

		return &BridgeResult{
			Ticket:     closed[0].Ticket,
			Price:      price,
			Volume:     volume,
			Closed:     closed,
			ExecutedAt: p.now().UTC(),
		}, nil
	}

	return nil, &RejectionError{Reason: "unknown action " + req.Action}
}

func closes(action, side string) bool {
	switch action {
	case model.ActionCloseBuy:
		return side == model.ActionBuy
	case model.ActionCloseSell:
		return side == model.ActionSell
	default:
		return true
	}
}
