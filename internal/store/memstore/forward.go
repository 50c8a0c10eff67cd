package memstore

import (
	"context"
	"time"

	"marketbot/internal/market"

	"github.com/shopspring/decimal"
)

// Standalone (non-transactional) calls take the lock per operation.

func (s *Store) GetStockBySymbol(ctx context.Context, guildID, symbol string) (market.Stock, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.GetStockBySymbol(ctx, guildID, symbol)
}

func (s *Store) GetAllActiveStocks(ctx context.Context) ([]market.Stock, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.GetAllActiveStocks(ctx)
}

func (s *Store) ListStocks(ctx context.Context, guildID string) ([]market.Stock, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.ListStocks(ctx, guildID)
}

func (s *Store) CreateStock(ctx context.Context, stock market.Stock) error {
	v, unlock := s.locked()
	defer unlock()
	return v.CreateStock(ctx, stock)
}

func (s *Store) UpdateStockPrice(ctx context.Context, guildID, symbol string, price decimal.Decimal) error {
	v, unlock := s.locked()
	defer unlock()
	return v.UpdateStockPrice(ctx, guildID, symbol, price)
}

func (s *Store) UpdateStockStatus(ctx context.Context, guildID, symbol string, status market.StockStatus) error {
	v, unlock := s.locked()
	defer unlock()
	return v.UpdateStockStatus(ctx, guildID, symbol, status)
}

func (s *Store) GetAccountByUser(ctx context.Context, guildID, userID string) (market.Account, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.GetAccountByUser(ctx, guildID, userID)
}

func (s *Store) CreateAccount(ctx context.Context, account market.Account) error {
	v, unlock := s.locked()
	defer unlock()
	return v.CreateAccount(ctx, account)
}

func (s *Store) UpdateBalance(ctx context.Context, guildID, userID string, balance decimal.Decimal) error {
	v, unlock := s.locked()
	defer unlock()
	return v.UpdateBalance(ctx, guildID, userID, balance)
}

func (s *Store) SetAccountFrozen(ctx context.Context, guildID, userID string, frozen bool) error {
	v, unlock := s.locked()
	defer unlock()
	return v.SetAccountFrozen(ctx, guildID, userID, frozen)
}

func (s *Store) SetTradingSuspended(ctx context.Context, guildID, userID string, suspended bool) error {
	v, unlock := s.locked()
	defer unlock()
	return v.SetTradingSuspended(ctx, guildID, userID, suspended)
}

func (s *Store) GetHolding(ctx context.Context, guildID, userID, symbol string) (market.Holding, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.GetHolding(ctx, guildID, userID, symbol)
}

func (s *Store) ListHoldings(ctx context.Context, guildID, userID string) ([]market.Holding, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.ListHoldings(ctx, guildID, userID)
}

func (s *Store) UpdateHolding(ctx context.Context, holding market.Holding) error {
	v, unlock := s.locked()
	defer unlock()
	return v.UpdateHolding(ctx, holding)
}

func (s *Store) AppendStockTransaction(ctx context.Context, tx market.StockTransaction) error {
	v, unlock := s.locked()
	defer unlock()
	return v.AppendStockTransaction(ctx, tx)
}

func (s *Store) RecentTradesBySymbol(ctx context.Context, guildID, symbol string, window time.Duration) ([]market.StockTransaction, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.RecentTradesBySymbol(ctx, guildID, symbol, window)
}

func (s *Store) AppendLedger(ctx context.Context, entry market.LedgerEntry) error {
	v, unlock := s.locked()
	defer unlock()
	return v.AppendLedger(ctx, entry)
}

func (s *Store) GetCandlestick(ctx context.Context, guildID, symbol string, tf market.Timeframe, bucket time.Time) (market.Candle, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.GetCandlestick(ctx, guildID, symbol, tf, bucket)
}

func (s *Store) CreateCandlestick(ctx context.Context, candle market.Candle) error {
	v, unlock := s.locked()
	defer unlock()
	return v.CreateCandlestick(ctx, candle)
}

func (s *Store) UpdateCandlestick(ctx context.Context, candle market.Candle) error {
	v, unlock := s.locked()
	defer unlock()
	return v.UpdateCandlestick(ctx, candle)
}

func (s *Store) ListCandlesticks(ctx context.Context, guildID, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.ListCandlesticks(ctx, guildID, symbol, tf, limit)
}

func (s *Store) CreateLimitOrder(ctx context.Context, order market.LimitOrder) error {
	v, unlock := s.locked()
	defer unlock()
	return v.CreateLimitOrder(ctx, order)
}

func (s *Store) GetLimitOrder(ctx context.Context, guildID, orderID string) (market.LimitOrder, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.GetLimitOrder(ctx, guildID, orderID)
}

func (s *Store) ListOrdersByUser(ctx context.Context, guildID, userID string) ([]market.LimitOrder, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.ListOrdersByUser(ctx, guildID, userID)
}

func (s *Store) CheckPendingOrdersForSymbol(ctx context.Context, guildID, symbol string, price decimal.Decimal) ([]market.LimitOrder, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.CheckPendingOrdersForSymbol(ctx, guildID, symbol, price)
}

func (s *Store) PendingOrdersExpiredAsOf(ctx context.Context, now time.Time) ([]market.LimitOrder, error) {
	v, unlock := s.locked()
	defer unlock()
	return v.PendingOrdersExpiredAsOf(ctx, now)
}

func (s *Store) ExecuteLimitOrder(ctx context.Context, guildID, orderID string, executedPrice decimal.Decimal, executedShares int64) error {
	v, unlock := s.locked()
	defer unlock()
	return v.ExecuteLimitOrder(ctx, guildID, orderID, executedPrice, executedShares)
}

func (s *Store) CancelLimitOrder(ctx context.Context, guildID, orderID string, status market.OrderStatus) error {
	v, unlock := s.locked()
	defer unlock()
	return v.CancelLimitOrder(ctx, guildID, orderID, status)
}
