package market

import (
	"context"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Config struct {
	// TickInterval is the simulator cadence. Default 5s.
	TickInterval time.Duration
	// ExpiryInterval is the pending-order expiry sweep cadence. Default 1m.
	ExpiryInterval time.Duration
	// StarterBalance is credited to newly opened accounts. Default 100000.
	StarterBalance decimal.Decimal
	// MaxNewsImpactPct caps the price move a fully polarized headline can
	// cause, in percent. Default 3.
	MaxNewsImpactPct float64
	// Sentiment scores headlines for PublishNews. Default DefaultSentiment.
	Sentiment SentimentFunc
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = time.Minute
	}
	if c.StarterBalance.IsZero() {
		c.StarterBalance = decimal.NewFromInt(100_000)
	}
	if c.MaxNewsImpactPct <= 0 {
		c.MaxNewsImpactPct = 3
	}
	if c.Sentiment == nil {
		c.Sentiment = DefaultSentiment
	}
	return c
}

// Engine owns the periodic simulation loop and wires the simulator,
// candlestick aggregator, trade executor and limit order engine against
// one Store. All per-run state (rand source, in-flight news keys) lives
// on the instance so tests can run isolated engines side by side.
type Engine struct {
	store Store
	log   *slog.Logger
	cfg   Config
	bus   *Bus

	randMu sync.Mutex
	rand   *mathrand.Rand

	newsMu       sync.Mutex
	newsInFlight map[string]struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(store Store, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        store,
		log:          logger,
		cfg:          cfg.withDefaults(),
		bus:          NewBus(),
		rand:         mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		newsInFlight: make(map[string]struct{}),
	}
}

// Events exposes the broadcast bus for subscribers (API, Discord, tests).
func (e *Engine) Events() *Bus { return e.bus }

// Start launches the tick loop and the expiry sweeper. It returns
// immediately; Stop blocks until both have drained.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		tick := time.NewTicker(e.cfg.TickInterval)
		defer tick.Stop()
		expiry := time.NewTicker(e.cfg.ExpiryInterval)
		defer expiry.Stop()

		e.log.Info("trading engine started", "tick_every", e.cfg.TickInterval.String())
		for {
			select {
			case <-runCtx.Done():
				e.log.Info("trading engine stopped")
				return
			case <-tick.C:
				e.Tick(runCtx)
			case <-expiry.C:
				e.expireOrders(runCtx, time.Now().UTC())
			}
		}
	}()
}

func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
}

// Tick simulates one step for every active stock across all guilds.
// A failure or panic in one stock never stalls the rest.
func (e *Engine) Tick(ctx context.Context) {
	stocks, err := e.store.GetAllActiveStocks(ctx)
	if err != nil {
		e.log.Error("active stock scan failed", "err", err)
		return
	}
	for _, stock := range stocks {
		e.simulateOne(ctx, stock)
	}
}

func (e *Engine) simulateOne(ctx context.Context, stock Stock) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("simulation panic", "guild", stock.GuildID, "symbol", stock.Symbol, "panic", r)
		}
	}()
	if err := e.simulateStock(ctx, stock); err != nil {
		e.log.Error("simulation tick failed", "guild", stock.GuildID, "symbol", stock.Symbol, "err", err)
	}
}

func (e *Engine) randFloat() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64()
}

// OpenAccount creates a guild account with the starter balance.
func (e *Engine) OpenAccount(ctx context.Context, guildID, userID string) (Account, error) {
	account := Account{
		GuildID:   guildID,
		UserID:    userID,
		Balance:   e.cfg.StarterBalance,
		CreatedAt: time.Now().UTC(),
	}
	err := e.store.Transact(ctx, func(tx Tx) error {
		if err := tx.CreateAccount(ctx, account); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, LedgerEntry{
			TxGroupID: uuid.NewString(),
			GuildID:   guildID,
			UserID:    userID,
			Kind:      "account_open",
			Amount:    account.Balance,
			CreatedAt: account.CreatedAt,
		})
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

func (e *Engine) GetAccount(ctx context.Context, guildID, userID string) (Account, error) {
	return e.store.GetAccountByUser(ctx, guildID, userID)
}

// AdjustBalance applies an admin credit or debit. The balance may not go
// negative.
func (e *Engine) AdjustBalance(ctx context.Context, guildID, userID string, delta decimal.Decimal, reason string) (Account, error) {
	var out Account
	err := e.store.Transact(ctx, func(tx Tx) error {
		account, err := tx.GetAccountByUser(ctx, guildID, userID)
		if err != nil {
			return err
		}
		balance := account.Balance.Add(delta)
		if balance.IsNegative() {
			return ErrInsufficientFunds
		}
		if err := tx.UpdateBalance(ctx, guildID, userID, balance); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, LedgerEntry{
			TxGroupID: uuid.NewString(),
			GuildID:   guildID,
			UserID:    userID,
			Kind:      "admin_adjust:" + reason,
			Amount:    delta,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		account.Balance = balance
		out = account
		return nil
	})
	return out, err
}

func (e *Engine) SetAccountFrozen(ctx context.Context, guildID, userID string, frozen bool) error {
	return e.store.SetAccountFrozen(ctx, guildID, userID, frozen)
}

func (e *Engine) SetTradingSuspended(ctx context.Context, guildID, userID string, suspended bool) error {
	return e.store.SetTradingSuspended(ctx, guildID, userID, suspended)
}

// CreateStock lists a new symbol for a guild.
func (e *Engine) CreateStock(ctx context.Context, stock Stock) (Stock, error) {
	stock.Symbol = strings.ToUpper(strings.TrimSpace(stock.Symbol))
	if err := ValidateSymbol(stock.Symbol); err != nil {
		return Stock{}, err
	}
	if strings.TrimSpace(stock.Name) == "" {
		stock.Name = stock.Symbol
	}
	if !stock.Price.IsPositive() {
		return Stock{}, ErrInvalidOrder
	}
	if stock.Volatility <= 0 {
		stock.Volatility = 1
	}
	if stock.Status == "" {
		stock.Status = StockActive
	}
	stock.UpdatedAt = time.Now().UTC()
	if err := e.store.CreateStock(ctx, stock); err != nil {
		return Stock{}, err
	}
	return stock, nil
}

func (e *Engine) GetStock(ctx context.Context, guildID, symbol string) (Stock, error) {
	return e.store.GetStockBySymbol(ctx, guildID, strings.ToUpper(strings.TrimSpace(symbol)))
}

func (e *Engine) ListStocks(ctx context.Context, guildID string) ([]Stock, error) {
	return e.store.ListStocks(ctx, guildID)
}

// SetStockStatus gates trading: halted and delisted stocks reject every
// trade and limit order.
func (e *Engine) SetStockStatus(ctx context.Context, guildID, symbol string, status StockStatus) error {
	switch status {
	case StockActive, StockHalted, StockDelisted:
	default:
		return fmt.Errorf("unknown stock status %q", status)
	}
	return e.store.UpdateStockStatus(ctx, guildID, strings.ToUpper(strings.TrimSpace(symbol)), status)
}

func (e *Engine) Candles(ctx context.Context, guildID, symbol string, tf Timeframe, limit int) ([]Candle, error) {
	if !ValidTimeframe(tf) {
		return nil, fmt.Errorf("unknown timeframe %q", tf)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return e.store.ListCandlesticks(ctx, guildID, strings.ToUpper(strings.TrimSpace(symbol)), tf, limit)
}

func (e *Engine) ListOrders(ctx context.Context, guildID, userID string) ([]LimitOrder, error) {
	return e.store.ListOrdersByUser(ctx, guildID, userID)
}

// CalculatePortfolioValue prices every holding at the current market and
// returns balance, positions and total.
func (e *Engine) CalculatePortfolioValue(ctx context.Context, guildID, userID string) (Portfolio, error) {
	out := Portfolio{GuildID: guildID, UserID: userID}
	account, err := e.store.GetAccountByUser(ctx, guildID, userID)
	if err != nil {
		return out, err
	}
	holdings, err := e.store.ListHoldings(ctx, guildID, userID)
	if err != nil {
		return out, err
	}

	out.Balance = account.Balance
	out.Total = account.Balance
	for _, h := range holdings {
		stock, err := e.store.GetStockBySymbol(ctx, guildID, h.Symbol)
		if err != nil {
			return out, fmt.Errorf("price %s: %w", h.Symbol, err)
		}
		shares := decimal.NewFromInt(h.Shares)
		value := stock.Price.Mul(shares)
		out.Positions = append(out.Positions, PortfolioPosition{
			Symbol:     h.Symbol,
			Shares:     h.Shares,
			AvgPrice:   h.AvgPrice,
			Price:      stock.Price,
			Value:      value,
			Unrealized: value.Sub(h.AvgPrice.Mul(shares)),
		})
		out.Total = out.Total.Add(value)
	}
	return out, nil
}
