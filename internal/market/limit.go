package market

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// flashCrashGuardFrac refuses execution when the market has moved
	// more than this fraction away from the order's target in one tick.
	flashCrashGuardFrac = 0.15

	defaultOrderTTL = 24 * time.Hour
)

type LimitOrderInput struct {
	GuildID     string
	UserID      string
	Symbol      string
	Side        TradeSide
	Shares      int64
	TargetPrice decimal.Decimal
	// ExpiresAt zero means now + defaultOrderTTL.
	ExpiresAt time.Time
}

// CreateLimitOrder reserves funds (buy) or shares (sell) up front and
// persists the order as pending. The reservation is released or consumed
// atomically with the order's terminal transition, never both.
func (e *Engine) CreateLimitOrder(ctx context.Context, in LimitOrderInput) (LimitOrder, error) {
	var out LimitOrder
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if err := ValidateSymbol(in.Symbol); err != nil {
		return out, err
	}
	if err := ValidateSide(in.Side); err != nil {
		return out, err
	}
	if in.Shares <= 0 || !in.TargetPrice.IsPositive() {
		return out, ErrInvalidOrder
	}
	now := time.Now().UTC()
	if in.ExpiresAt.IsZero() {
		in.ExpiresAt = now.Add(defaultOrderTTL)
	}
	if !in.ExpiresAt.After(now) {
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

		total := in.TargetPrice.Mul(decimal.NewFromInt(in.Shares))
		order := LimitOrder{
			ID:          uuid.NewString(),
			GuildID:     in.GuildID,
			UserID:      in.UserID,
			Symbol:      in.Symbol,
			Side:        in.Side,
			Shares:      in.Shares,
			TargetPrice: in.TargetPrice,
			Status:      OrderPending,
			TotalAmount: total,
			ExpiresAt:   in.ExpiresAt,
			CreatedAt:   now,
		}

		switch in.Side {
		case SideBuy:
			balance := account.Balance.Sub(total)
			if balance.LessThan(MinBalance) {
				return ErrInsufficientFunds
			}
			if err := tx.UpdateBalance(ctx, in.GuildID, in.UserID, balance); err != nil {
				return err
			}
			order.ReservedAmount = total
		case SideSell:
			if err := applySellHolding(ctx, tx, in.GuildID, in.UserID, in.Symbol, in.Shares); err != nil {
				return err
			}
		}

		if err := tx.CreateLimitOrder(ctx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return LimitOrder{}, err
	}
	return out, nil
}

// CancelLimitOrder releases the reservation and marks the order cancelled.
// Only the order's owner may cancel it.
func (e *Engine) CancelLimitOrder(ctx context.Context, guildID, userID, orderID string) error {
	return e.store.Transact(ctx, func(tx Tx) error {
		order, err := tx.GetLimitOrder(ctx, guildID, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return ErrOrderNotFound
		}
		if order.Status != OrderPending {
			return ErrOrderNotPending
		}
		return tx.CancelLimitOrder(ctx, guildID, orderID, OrderCancelled)
	})
}

// checkAndExecute runs after every price tick and every trade. Triggered
// orders execute at their target price, never at the tick price, so the
// owner never does worse than the limit. Re-running against an already
// executed order is a no-op.
func (e *Engine) checkAndExecute(ctx context.Context, guildID, symbol string, currentPrice decimal.Decimal) {
	orders, err := e.store.CheckPendingOrdersForSymbol(ctx, guildID, symbol, currentPrice)
	if err != nil {
		e.log.Error("pending order scan failed", "guild", guildID, "symbol", symbol, "err", err)
		return
	}
	for _, order := range orders {
		if flashCrashGuard(currentPrice, order.TargetPrice) {
			// Implausible single-tick move; defer to the next tick.
			continue
		}
		filled, err := e.executeLimitOrder(ctx, order)
		if err != nil {
			e.log.Error("limit order execution failed", "order", order.ID, "err", err)
			continue
		}
		if filled != nil {
			e.bus.Publish(Event{Event: EventLimitOrderFilled, Data: *filled})
		}
	}
}

func flashCrashGuard(currentPrice, targetPrice decimal.Decimal) bool {
	if !targetPrice.IsPositive() {
		return true
	}
	dev := currentPrice.Sub(targetPrice).Abs().Div(targetPrice)
	return dev.GreaterThan(decimal.NewFromFloat(flashCrashGuardFrac))
}

// executeLimitOrder settles one triggered order at its target price.
// Returns nil without error when the order is no longer pending.
func (e *Engine) executeLimitOrder(ctx context.Context, trigger LimitOrder) (*LimitOrder, error) {
	var filled *LimitOrder
	now := time.Now().UTC()
	err := e.store.Transact(ctx, func(tx Tx) error {
		filled = nil
		order, err := tx.GetLimitOrder(ctx, trigger.GuildID, trigger.ID)
		if err != nil {
			return err
		}
		if order.Status != OrderPending {
			return nil
		}

		cost := order.TargetPrice.Mul(decimal.NewFromInt(order.Shares))
		switch order.Side {
		case SideBuy:
			if err := applyBuyHolding(ctx, tx, order.GuildID, order.UserID, order.Symbol, order.Shares, order.TargetPrice); err != nil {
				return err
			}
			if refund := order.ReservedAmount.Sub(cost); refund.IsPositive() {
				if err := creditBalance(ctx, tx, order.GuildID, order.UserID, refund); err != nil {
					return err
				}
			}
		case SideSell:
			// Shares left the visible holding at order placement.
			if err := creditBalance(ctx, tx, order.GuildID, order.UserID, cost); err != nil {
				return err
			}
		}

		if err := tx.ExecuteLimitOrder(ctx, order.GuildID, order.ID, order.TargetPrice, order.Shares); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, limitLedgerEntry(order, cost, now)); err != nil {
			return err
		}
		if err := updateCandlesticks(ctx, tx, order.GuildID, order.Symbol, order.TargetPrice, order.Shares, now); err != nil {
			return err
		}

		executed := order
		executed.Status = OrderExecuted
		executed.ExecutedPrice = &order.TargetPrice
		executed.ExecutedShares = order.Shares
		filled = &executed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return filled, nil
}

// expireOrders sweeps pending orders past their expiry, releasing each
// reservation in its own transaction.
func (e *Engine) expireOrders(ctx context.Context, now time.Time) {
	orders, err := e.store.PendingOrdersExpiredAsOf(ctx, now)
	if err != nil {
		e.log.Error("expired order scan failed", "err", err)
		return
	}
	for _, order := range orders {
		err := e.store.Transact(ctx, func(tx Tx) error {
			current, err := tx.GetLimitOrder(ctx, order.GuildID, order.ID)
			if err != nil {
				return err
			}
			if current.Status != OrderPending {
				return nil
			}
			return tx.CancelLimitOrder(ctx, order.GuildID, order.ID, OrderExpired)
		})
		if err != nil {
			e.log.Error("order expiry failed", "order", order.ID, "err", err)
		}
	}
}

func creditBalance(ctx context.Context, tx Tx, guildID, userID string, amount decimal.Decimal) error {
	account, err := tx.GetAccountByUser(ctx, guildID, userID)
	if err != nil {
		return err
	}
	return tx.UpdateBalance(ctx, guildID, userID, account.Balance.Add(amount))
}

func limitLedgerEntry(order LimitOrder, cost decimal.Decimal, now time.Time) LedgerEntry {
	kind := "limit_buy"
	amount := cost.Neg()
	if order.Side == SideSell {
		kind = "limit_sell"
		amount = cost
	}
	return LedgerEntry{
		TxGroupID: uuid.NewString(),
		GuildID:   order.GuildID,
		UserID:    order.UserID,
		Kind:      kind,
		Amount:    amount,
		CreatedAt: now,
	}
}
