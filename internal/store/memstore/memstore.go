// Package memstore is an in-memory implementation of the engine's Store
// used by tests and local development. Transactions serialize under one
// mutex and roll back by snapshot on error, so the all-or-nothing
// behavior matches the Postgres store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketbot/internal/market"

	"github.com/shopspring/decimal"
)

type data struct {
	stocks   map[string]market.Stock
	accounts map[string]market.Account
	holdings map[string]market.Holding
	candles  map[string]market.Candle
	orders   map[string]market.LimitOrder
	trades   []market.StockTransaction
	ledger   []market.LedgerEntry
}

func (d *data) clone() *data {
	out := newData()
	for k, v := range d.stocks {
		out.stocks[k] = v
	}
	for k, v := range d.accounts {
		out.accounts[k] = v
	}
	for k, v := range d.holdings {
		out.holdings[k] = v
	}
	for k, v := range d.candles {
		out.candles[k] = v
	}
	for k, v := range d.orders {
		out.orders[k] = v
	}
	out.trades = append(out.trades, d.trades...)
	out.ledger = append(out.ledger, d.ledger...)
	return out
}

func newData() *data {
	return &data{
		stocks:   make(map[string]market.Stock),
		accounts: make(map[string]market.Account),
		holdings: make(map[string]market.Holding),
		candles:  make(map[string]market.Candle),
		orders:   make(map[string]market.LimitOrder),
	}
}

type Store struct {
	mu sync.Mutex
	d  *data
}

func New() *Store {
	return &Store{d: newData()}
}

func stockKey(guildID, symbol string) string  { return guildID + "|" + symbol }
func accountKey(guildID, userID string) string { return guildID + "|" + userID }
func holdingKey(guildID, userID, symbol string) string {
	return guildID + "|" + userID + "|" + symbol
}
func candleKey(guildID, symbol string, tf market.Timeframe, bucket time.Time) string {
	return fmt.Sprintf("%s|%s|%s|%d", guildID, symbol, tf, bucket.UnixNano())
}
func orderKey(guildID, orderID string) string { return guildID + "|" + orderID }

// Transact serializes: every transaction holds the store lock for its
// whole body, which makes check-then-act sequences race-free exactly as
// the engine requires.
func (s *Store) Transact(ctx context.Context, fn func(tx market.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(&view{d: s.d}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// view implements market.Tx against the unlocked data set.
type view struct {
	d *data
}

func (s *Store) locked() (*view, func()) {
	s.mu.Lock()
	return &view{d: s.d}, s.mu.Unlock
}

// ---- stocks ----

func (v *view) GetStockBySymbol(_ context.Context, guildID, symbol string) (market.Stock, error) {
	stock, ok := v.d.stocks[stockKey(guildID, symbol)]
	if !ok {
		return market.Stock{}, market.ErrStockNotFound
	}
	return stock, nil
}

func (v *view) GetAllActiveStocks(_ context.Context) ([]market.Stock, error) {
	var out []market.Stock
	for _, stock := range v.d.stocks {
		if stock.Status == market.StockActive {
			out = append(out, stock)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GuildID != out[j].GuildID {
			return out[i].GuildID < out[j].GuildID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out, nil
}

func (v *view) ListStocks(_ context.Context, guildID string) ([]market.Stock, error) {
	var out []market.Stock
	for _, stock := range v.d.stocks {
		if stock.GuildID == guildID {
			out = append(out, stock)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (v *view) CreateStock(_ context.Context, stock market.Stock) error {
	key := stockKey(stock.GuildID, stock.Symbol)
	if _, exists := v.d.stocks[key]; exists {
		return market.ErrStockExists
	}
	v.d.stocks[key] = stock
	return nil
}

func (v *view) UpdateStockPrice(_ context.Context, guildID, symbol string, price decimal.Decimal) error {
	key := stockKey(guildID, symbol)
	stock, ok := v.d.stocks[key]
	if !ok {
		return market.ErrStockNotFound
	}
	stock.Price = price
	stock.UpdatedAt = time.Now().UTC()
	v.d.stocks[key] = stock
	return nil
}

func (v *view) UpdateStockStatus(_ context.Context, guildID, symbol string, status market.StockStatus) error {
	key := stockKey(guildID, symbol)
	stock, ok := v.d.stocks[key]
	if !ok {
		return market.ErrStockNotFound
	}
	stock.Status = status
	stock.UpdatedAt = time.Now().UTC()
	v.d.stocks[key] = stock
	return nil
}

// ---- accounts ----

func (v *view) GetAccountByUser(_ context.Context, guildID, userID string) (market.Account, error) {
	account, ok := v.d.accounts[accountKey(guildID, userID)]
	if !ok {
		return market.Account{}, market.ErrAccountNotFound
	}
	return account, nil
}

func (v *view) CreateAccount(_ context.Context, account market.Account) error {
	key := accountKey(account.GuildID, account.UserID)
	if _, exists := v.d.accounts[key]; exists {
		return market.ErrAccountExists
	}
	v.d.accounts[key] = account
	return nil
}

func (v *view) UpdateBalance(_ context.Context, guildID, userID string, balance decimal.Decimal) error {
	key := accountKey(guildID, userID)
	account, ok := v.d.accounts[key]
	if !ok {
		return market.ErrAccountNotFound
	}
	account.Balance = balance
	v.d.accounts[key] = account
	return nil
}

func (v *view) SetAccountFrozen(_ context.Context, guildID, userID string, frozen bool) error {
	key := accountKey(guildID, userID)
	account, ok := v.d.accounts[key]
	if !ok {
		return market.ErrAccountNotFound
	}
	account.Frozen = frozen
	v.d.accounts[key] = account
	return nil
}

func (v *view) SetTradingSuspended(_ context.Context, guildID, userID string, suspended bool) error {
	key := accountKey(guildID, userID)
	account, ok := v.d.accounts[key]
	if !ok {
		return market.ErrAccountNotFound
	}
	account.TradingSuspended = suspended
	v.d.accounts[key] = account
	return nil
}

// ---- holdings ----

func (v *view) GetHolding(_ context.Context, guildID, userID, symbol string) (market.Holding, error) {
	holding, ok := v.d.holdings[holdingKey(guildID, userID, symbol)]
	if !ok {
		return market.Holding{}, market.ErrHoldingNotFound
	}
	return holding, nil
}

func (v *view) ListHoldings(_ context.Context, guildID, userID string) ([]market.Holding, error) {
	var out []market.Holding
	for _, holding := range v.d.holdings {
		if holding.GuildID == guildID && holding.UserID == userID {
			out = append(out, holding)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (v *view) UpdateHolding(_ context.Context, holding market.Holding) error {
	key := holdingKey(holding.GuildID, holding.UserID, holding.Symbol)
	if holding.Shares == 0 {
		delete(v.d.holdings, key)
		return nil
	}
	if holding.Shares < 0 {
		return market.ErrInsufficientShares
	}
	v.d.holdings[key] = holding
	return nil
}

// ---- trades and ledger ----

func (v *view) AppendStockTransaction(_ context.Context, tx market.StockTransaction) error {
	v.d.trades = append(v.d.trades, tx)
	return nil
}

func (v *view) RecentTradesBySymbol(_ context.Context, guildID, symbol string, window time.Duration) ([]market.StockTransaction, error) {
	cutoff := time.Now().UTC().Add(-window)
	var out []market.StockTransaction
	for _, t := range v.d.trades {
		if t.GuildID == guildID && t.Symbol == symbol && t.CreatedAt.After(cutoff) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (v *view) AppendLedger(_ context.Context, entry market.LedgerEntry) error {
	v.d.ledger = append(v.d.ledger, entry)
	return nil
}

// ---- candles ----

func (v *view) GetCandlestick(_ context.Context, guildID, symbol string, tf market.Timeframe, bucket time.Time) (market.Candle, error) {
	candle, ok := v.d.candles[candleKey(guildID, symbol, tf, bucket)]
	if !ok {
		return market.Candle{}, market.ErrCandleNotFound
	}
	return candle, nil
}

func (v *view) CreateCandlestick(_ context.Context, candle market.Candle) error {
	v.d.candles[candleKey(candle.GuildID, candle.Symbol, candle.Timeframe, candle.Bucket)] = candle
	return nil
}

func (v *view) UpdateCandlestick(_ context.Context, candle market.Candle) error {
	key := candleKey(candle.GuildID, candle.Symbol, candle.Timeframe, candle.Bucket)
	if _, ok := v.d.candles[key]; !ok {
		return market.ErrCandleNotFound
	}
	v.d.candles[key] = candle
	return nil
}

func (v *view) ListCandlesticks(_ context.Context, guildID, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	var out []market.Candle
	for _, candle := range v.d.candles {
		if candle.GuildID == guildID && candle.Symbol == symbol && candle.Timeframe == tf {
			out = append(out, candle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.After(out[j].Bucket) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- limit orders ----

func (v *view) CreateLimitOrder(_ context.Context, order market.LimitOrder) error {
	v.d.orders[orderKey(order.GuildID, order.ID)] = order
	return nil
}

func (v *view) GetLimitOrder(_ context.Context, guildID, orderID string) (market.LimitOrder, error) {
	order, ok := v.d.orders[orderKey(guildID, orderID)]
	if !ok {
		return market.LimitOrder{}, market.ErrOrderNotFound
	}
	return order, nil
}

func (v *view) ListOrdersByUser(_ context.Context, guildID, userID string) ([]market.LimitOrder, error) {
	var out []market.LimitOrder
	for _, order := range v.d.orders {
		if order.GuildID == guildID && order.UserID == userID {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) CheckPendingOrdersForSymbol(_ context.Context, guildID, symbol string, price decimal.Decimal) ([]market.LimitOrder, error) {
	var out []market.LimitOrder
	for _, order := range v.d.orders {
		if order.GuildID != guildID || order.Symbol != symbol || order.Status != market.OrderPending {
			continue
		}
		triggered := (order.Side == market.SideBuy && order.TargetPrice.GreaterThanOrEqual(price)) ||
			(order.Side == market.SideSell && order.TargetPrice.LessThanOrEqual(price))
		if triggered {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) PendingOrdersExpiredAsOf(_ context.Context, now time.Time) ([]market.LimitOrder, error) {
	var out []market.LimitOrder
	for _, order := range v.d.orders {
		if order.Status == market.OrderPending && order.ExpiresAt.Before(now) {
			out = append(out, order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v *view) ExecuteLimitOrder(_ context.Context, guildID, orderID string, executedPrice decimal.Decimal, executedShares int64) error {
	key := orderKey(guildID, orderID)
	order, ok := v.d.orders[key]
	if !ok {
		return market.ErrOrderNotFound
	}
	if order.Status != market.OrderPending {
		return market.ErrOrderNotPending
	}
	order.Status = market.OrderExecuted
	order.ExecutedPrice = &executedPrice
	order.ExecutedShares = executedShares
	v.d.orders[key] = order
	return nil
}

// CancelLimitOrder releases the reservation exactly as it was taken and
// marks the order cancelled or expired.
func (v *view) CancelLimitOrder(ctx context.Context, guildID, orderID string, status market.OrderStatus) error {
	if status != market.OrderCancelled && status != market.OrderExpired {
		return market.ErrInvalidOrder
	}
	key := orderKey(guildID, orderID)
	order, ok := v.d.orders[key]
	if !ok {
		return market.ErrOrderNotFound
	}
	if order.Status != market.OrderPending {
		return market.ErrOrderNotPending
	}

	switch order.Side {
	case market.SideBuy:
		account, err := v.GetAccountByUser(ctx, order.GuildID, order.UserID)
		if err != nil {
			return err
		}
		if err := v.UpdateBalance(ctx, order.GuildID, order.UserID, account.Balance.Add(order.ReservedAmount)); err != nil {
			return err
		}
	case market.SideSell:
		holding, err := v.GetHolding(ctx, order.GuildID, order.UserID, order.Symbol)
		if err == nil {
			holding.Shares += order.Shares
			if err := v.UpdateHolding(ctx, holding); err != nil {
				return err
			}
		} else {
			// The reservation consumed the whole position; cost basis is
			// gone, so the restored shares carry the order's target price.
			if err := v.UpdateHolding(ctx, market.Holding{
				GuildID:  order.GuildID,
				UserID:   order.UserID,
				Symbol:   order.Symbol,
				Shares:   order.Shares,
				AvgPrice: order.TargetPrice,
			}); err != nil {
				return err
			}
		}
	}

	order.Status = status
	v.d.orders[key] = order
	return nil
}
