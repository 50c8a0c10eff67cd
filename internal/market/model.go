package market

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type StockStatus string

const (
	StockActive   StockStatus = "active"
	StockHalted   StockStatus = "halted"
	StockDelisted StockStatus = "delisted"
)

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderExecuted  OrderStatus = "executed"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

var (
	// MinBalance is the floor every buy must leave behind on the account.
	MinBalance = decimal.NewFromInt(1)

	// PriceFloor is the absolute lower bound enforced by the simulator clamp.
	PriceFloor = decimal.NewFromInt(1000)
)

var (
	ErrInvalidSymbol      = errors.New("symbol must be 1-10 uppercase letters")
	ErrStockNotFound      = errors.New("stock not found")
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrStockExists        = errors.New("stock already listed")
	ErrOrderNotFound      = errors.New("limit order not found")
	ErrHoldingNotFound    = errors.New("holding not found")
	ErrCandleNotFound     = errors.New("candlestick not found")
	ErrTradingHalted      = errors.New("trading is halted for this stock")
	ErrTradingSuspended   = errors.New("trading is suspended for this account")
	ErrAccountFrozen      = errors.New("account is frozen")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrOrderNotPending    = errors.New("limit order is not pending")
)

type Stock struct {
	GuildID     string          `json:"guild_id"`
	Symbol      string          `json:"symbol"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Volatility  float64         `json:"volatility"` // percent per tick
	Status      StockStatus     `json:"status"`
	TotalShares int64           `json:"total_shares"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type Account struct {
	GuildID          string          `json:"guild_id"`
	UserID           string          `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	Frozen           bool            `json:"frozen"`
	TradingSuspended bool            `json:"trading_suspended"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Holding struct {
	GuildID  string          `json:"guild_id"`
	UserID   string          `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Shares   int64           `json:"shares"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// StockTransaction is the immutable per-trade record.
type StockTransaction struct {
	GuildID     string          `json:"guild_id"`
	UserID      string          `json:"user_id"`
	Symbol      string          `json:"symbol"`
	Side        TradeSide       `json:"side"`
	Shares      int64           `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LedgerEntry is the general ledger record appended alongside every
// settlement (stock_buy, stock_sell, limit_buy, limit_sell, admin_adjust...).
type LedgerEntry struct {
	TxGroupID string          `json:"tx_group_id"`
	GuildID   string          `json:"guild_id"`
	UserID    string          `json:"user_id"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

type LimitOrder struct {
	ID             string           `json:"id"`
	GuildID        string           `json:"guild_id"`
	UserID         string           `json:"user_id"`
	Symbol         string           `json:"symbol"`
	Side           TradeSide        `json:"side"`
	Shares         int64            `json:"shares"`
	TargetPrice    decimal.Decimal  `json:"target_price"`
	Status         OrderStatus      `json:"status"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	ReservedAmount decimal.Decimal  `json:"reserved_amount"`
	ExpiresAt      time.Time        `json:"expires_at"`
	ExecutedPrice  *decimal.Decimal `json:"executed_price,omitempty"`
	ExecutedShares int64            `json:"executed_shares,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

type Candle struct {
	GuildID   string          `json:"guild_id"`
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Bucket    time.Time       `json:"bucket"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

type TradeResult struct {
	Symbol      string          `json:"symbol"`
	Side        TradeSide       `json:"side"`
	Shares      int64           `json:"shares"`
	Price       decimal.Decimal `json:"price"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Balance     decimal.Decimal `json:"balance"`
}

type PortfolioPosition struct {
	Symbol     string          `json:"symbol"`
	Shares     int64           `json:"shares"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Price      decimal.Decimal `json:"price"`
	Value      decimal.Decimal `json:"value"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

type Portfolio struct {
	GuildID   string              `json:"guild_id"`
	UserID    string              `json:"user_id"`
	Balance   decimal.Decimal     `json:"balance"`
	Positions []PortfolioPosition `json:"positions"`
	Total     decimal.Decimal     `json:"total"`
}

var symbolRE = regexp.MustCompile(`^[A-Z]{1,10}$`)

func ValidateSymbol(symbol string) error {
	if !symbolRE.MatchString(strings.TrimSpace(symbol)) {
		return ErrInvalidSymbol
	}
	return nil
}

func ValidateSide(side TradeSide) error {
	if side != SideBuy && side != SideSell {
		return ErrInvalidOrder
	}
	return nil
}
