package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Tx is the set of storage operations the engine needs. Inside
// Store.Transact the implementation must make read-then-write sequences
// atomic with respect to concurrent transactions on the same rows.
type Tx interface {
	GetStockBySymbol(ctx context.Context, guildID, symbol string) (Stock, error)
	GetAllActiveStocks(ctx context.Context) ([]Stock, error)
	ListStocks(ctx context.Context, guildID string) ([]Stock, error)
	CreateStock(ctx context.Context, stock Stock) error
	UpdateStockPrice(ctx context.Context, guildID, symbol string, price decimal.Decimal) error
	UpdateStockStatus(ctx context.Context, guildID, symbol string, status StockStatus) error

	GetAccountByUser(ctx context.Context, guildID, userID string) (Account, error)
	CreateAccount(ctx context.Context, account Account) error
	UpdateBalance(ctx context.Context, guildID, userID string, balance decimal.Decimal) error
	SetAccountFrozen(ctx context.Context, guildID, userID string, frozen bool) error
	SetTradingSuspended(ctx context.Context, guildID, userID string, suspended bool) error

	GetHolding(ctx context.Context, guildID, userID, symbol string) (Holding, error)
	ListHoldings(ctx context.Context, guildID, userID string) ([]Holding, error)
	// UpdateHolding upserts; a holding with Shares == 0 is deleted.
	UpdateHolding(ctx context.Context, holding Holding) error

	AppendStockTransaction(ctx context.Context, tx StockTransaction) error
	RecentTradesBySymbol(ctx context.Context, guildID, symbol string, window time.Duration) ([]StockTransaction, error)
	AppendLedger(ctx context.Context, entry LedgerEntry) error

	GetCandlestick(ctx context.Context, guildID, symbol string, tf Timeframe, bucket time.Time) (Candle, error)
	CreateCandlestick(ctx context.Context, candle Candle) error
	UpdateCandlestick(ctx context.Context, candle Candle) error
	ListCandlesticks(ctx context.Context, guildID, symbol string, tf Timeframe, limit int) ([]Candle, error)

	CreateLimitOrder(ctx context.Context, order LimitOrder) error
	GetLimitOrder(ctx context.Context, guildID, orderID string) (LimitOrder, error)
	ListOrdersByUser(ctx context.Context, guildID, userID string) ([]LimitOrder, error)
	// CheckPendingOrdersForSymbol returns pending orders whose trigger
	// condition is met at price: buy target >= price or sell target <= price.
	CheckPendingOrdersForSymbol(ctx context.Context, guildID, symbol string, price decimal.Decimal) ([]LimitOrder, error)
	PendingOrdersExpiredAsOf(ctx context.Context, now time.Time) ([]LimitOrder, error)
	// ExecuteLimitOrder transitions a pending order to executed. It fails
	// with ErrOrderNotPending when the order already reached a terminal state.
	ExecuteLimitOrder(ctx context.Context, guildID, orderID string, executedPrice decimal.Decimal, executedShares int64) error
	// CancelLimitOrder transitions a pending order to cancelled or expired
	// and releases the reservation exactly as it was taken: buy orders get
	// the reserved amount credited back, sell orders get the shares restored.
	CancelLimitOrder(ctx context.Context, guildID, orderID string, status OrderStatus) error
}

// Store is the abstract transactional persistence the engine runs against.
type Store interface {
	Tx

	// Transact runs fn atomically. Implementations may invoke fn more than
	// once on serialization conflicts; fn must be safe to retry.
	Transact(ctx context.Context, fn func(tx Tx) error) error
}
