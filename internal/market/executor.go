package market

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// Trades above this size nudge the tape immediately instead of
	// waiting for the next simulator tick to pick up the flow.
	marketImpactMinShares = 1000
	marketImpactMaxFrac   = 0.005
	marketImpactPerShare  = 10_000.0
	marketImpactJitter    = 0.0005
)

type TradeInput struct {
	GuildID string
	UserID  string
	Symbol  string
	Side    TradeSide
	Shares  int64
	// Price is the execution price. Zero means "at the current price".
	Price decimal.Decimal
}

// ExecuteTrade validates and settles a buy or sell atomically, then runs
// the best-effort post-effects: candle update, market-impact nudge for
// large trades, limit-order sweep and the trade_executed broadcast.
func (e *Engine) ExecuteTrade(ctx context.Context, in TradeInput) (TradeResult, error) {
	var out TradeResult
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if err := ValidateSymbol(in.Symbol); err != nil {
		return out, err
	}
	if err := ValidateSide(in.Side); err != nil {
		return out, err
	}
	if in.Shares <= 0 || in.Price.IsNegative() {
		return out, ErrInvalidOrder
	}

	err := e.store.Transact(ctx, func(tx Tx) error {
		stock, err := tx.GetStockBySymbol(ctx, in.GuildID, in.Symbol)
		if err != nil {
			return err
		}
		if stock.Status != StockActive {
			return ErrTradingHalted
		}
		account, err := tx.GetAccountByUser(ctx, in.GuildID, in.UserID)
		if err != nil {
			return err
		}
		if account.Frozen {
			return ErrAccountFrozen
		}
		if account.TradingSuspended {
			return ErrTradingSuspended
		}

		price := in.Price
		if price.IsZero() {
			price = stock.Price
		}
		total := price.Mul(decimal.NewFromInt(in.Shares))

		var balance decimal.Decimal
		switch in.Side {
		case SideBuy:
			balance = account.Balance.Sub(total)
			if balance.LessThan(MinBalance) {
				return ErrInsufficientFunds
			}
			if err := applyBuyHolding(ctx, tx, in.GuildID, in.UserID, in.Symbol, in.Shares, price); err != nil {
				return err
			}
		case SideSell:
			if err := applySellHolding(ctx, tx, in.GuildID, in.UserID, in.Symbol, in.Shares); err != nil {
				return err
			}
			balance = account.Balance.Add(total)
		}

		if err := tx.UpdateBalance(ctx, in.GuildID, in.UserID, balance); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.AppendStockTransaction(ctx, StockTransaction{
			GuildID:     in.GuildID,
			UserID:      in.UserID,
			Symbol:      in.Symbol,
			Side:        in.Side,
			Shares:      in.Shares,
			Price:       price,
			TotalAmount: total,
			CreatedAt:   now,
		}); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, tradeLedgerEntry(in, total, now)); err != nil {
			return err
		}

		out = TradeResult{
			Symbol:      in.Symbol,
			Side:        in.Side,
			Shares:      in.Shares,
			Price:       price,
			TotalAmount: total,
			Balance:     balance,
		}
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}

	e.afterTrade(ctx, in.GuildID, in.Symbol, in.Side, in.Shares, out.Price)
	e.bus.Publish(Event{Event: EventTradeExecuted, Data: out})
	return out, nil
}

// afterTrade runs the non-transactional post-effects. Failures are logged
// and swallowed: the settlement already committed.
func (e *Engine) afterTrade(ctx context.Context, guildID, symbol string, side TradeSide, shares int64, price decimal.Decimal) {
	now := time.Now().UTC()
	err := e.store.Transact(ctx, func(tx Tx) error {
		return updateCandlesticks(ctx, tx, guildID, symbol, price, shares, now)
	})
	if err != nil {
		e.log.Error("trade candle update failed", "guild", guildID, "symbol", symbol, "err", err)
	}

	current := price
	if shares > marketImpactMinShares {
		if nudged, err := e.applyMarketImpact(ctx, guildID, symbol, side, shares); err != nil {
			e.log.Error("market impact failed", "guild", guildID, "symbol", symbol, "err", err)
		} else {
			current = nudged
		}
	}
	e.checkAndExecute(ctx, guildID, symbol, current)
}

// applyMarketImpact moves the price immediately for a large trade:
// min(shares/10000, 0.5%) in the trade direction plus a small jitter,
// floored at 1.
func (e *Engine) applyMarketImpact(ctx context.Context, guildID, symbol string, side TradeSide, shares int64) (decimal.Decimal, error) {
	impact := min(float64(shares)/marketImpactPerShare, marketImpactMaxFrac)
	if side == SideSell {
		impact = -impact
	}
	impact += (e.randFloat()*2 - 1) * marketImpactJitter

	var newPrice decimal.Decimal
	err := e.store.Transact(ctx, func(tx Tx) error {
		stock, err := tx.GetStockBySymbol(ctx, guildID, symbol)
		if err != nil {
			return err
		}
		newPrice = stock.Price.Mul(decimal.NewFromFloat(1 + impact)).Round(2)
		if newPrice.LessThan(decimal.NewFromInt(1)) {
			newPrice = decimal.NewFromInt(1)
		}
		return tx.UpdateStockPrice(ctx, guildID, symbol, newPrice)
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return newPrice, nil
}

func applyBuyHolding(ctx context.Context, tx Tx, guildID, userID, symbol string, shares int64, price decimal.Decimal) error {
	holding, err := tx.GetHolding(ctx, guildID, userID, symbol)
	if errors.Is(err, ErrHoldingNotFound) {
		return tx.UpdateHolding(ctx, Holding{
			GuildID:  guildID,
			UserID:   userID,
			Symbol:   symbol,
			Shares:   shares,
			AvgPrice: price,
		})
	}
	if err != nil {
		return err
	}

	oldCost := holding.AvgPrice.Mul(decimal.NewFromInt(holding.Shares))
	newCost := price.Mul(decimal.NewFromInt(shares))
	holding.Shares += shares
	holding.AvgPrice = oldCost.Add(newCost).Div(decimal.NewFromInt(holding.Shares)).Round(4)
	return tx.UpdateHolding(ctx, holding)
}

func applySellHolding(ctx context.Context, tx Tx, guildID, userID, symbol string, shares int64) error {
	holding, err := tx.GetHolding(ctx, guildID, userID, symbol)
	if errors.Is(err, ErrHoldingNotFound) {
		return ErrInsufficientShares
	}
	if err != nil {
		return err
	}
	if holding.Shares < shares {
		return ErrInsufficientShares
	}
	holding.Shares -= shares
	return tx.UpdateHolding(ctx, holding)
}

func tradeLedgerEntry(in TradeInput, total decimal.Decimal, now time.Time) LedgerEntry {
	kind := "stock_buy"
	amount := total.Neg()
	if in.Side == SideSell {
		kind = "stock_sell"
		amount = total
	}
	return LedgerEntry{
		TxGroupID: uuid.NewString(),
		GuildID:   in.GuildID,
		UserID:    in.UserID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: now,
	}
}
