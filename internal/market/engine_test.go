package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketbot/internal/market"

	"github.com/shopspring/decimal"
)

func TestOpenAccountStarterBalance(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	account, err := engine.OpenAccount(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("starter balance: got %s want 100000", account.Balance)
	}

	if _, err := engine.OpenAccount(ctx, "g1", "u1"); !errors.Is(err, market.ErrAccountExists) {
		t.Fatalf("duplicate open: got %v want ErrAccountExists", err)
	}

	// Same user in another guild is a separate account.
	if _, err := engine.OpenAccount(ctx, "g2", "u1"); err != nil {
		t.Fatalf("open in second guild: %v", err)
	}
}

func TestAdjustBalanceNeverGoesNegative(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	openAccount(t, engine, "g1", "u1")

	account, err := engine.AdjustBalance(ctx, "g1", "u1", decimal.NewFromInt(-100_000), "penalty")
	if err != nil {
		t.Fatalf("adjust to zero: %v", err)
	}
	if !account.Balance.IsZero() {
		t.Fatalf("balance: got %s want 0", account.Balance)
	}

	if _, err := engine.AdjustBalance(ctx, "g1", "u1", decimal.NewFromInt(-1), "penalty"); !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("overdraft adjust: got %v want ErrInsufficientFunds", err)
	}
}

func TestCreateStockDefaultsAndValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	stock, err := engine.CreateStock(ctx, market.Stock{
		GuildID: "g1", Symbol: "acme", Price: decimal.NewFromInt(10_000),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if stock.Symbol != "ACME" || stock.Name != "ACME" {
		t.Fatalf("defaults: symbol=%q name=%q", stock.Symbol, stock.Name)
	}
	if stock.Volatility != 1 || stock.Status != market.StockActive {
		t.Fatalf("defaults: volatility=%v status=%s", stock.Volatility, stock.Status)
	}

	if _, err := engine.CreateStock(ctx, market.Stock{
		GuildID: "g1", Symbol: "ACME", Price: decimal.NewFromInt(5_000),
	}); !errors.Is(err, market.ErrStockExists) {
		t.Fatalf("duplicate: got %v want ErrStockExists", err)
	}
	if _, err := engine.CreateStock(ctx, market.Stock{
		GuildID: "g1", Symbol: "AB12", Price: decimal.NewFromInt(5_000),
	}); !errors.Is(err, market.ErrInvalidSymbol) {
		t.Fatalf("bad symbol: got %v want ErrInvalidSymbol", err)
	}
	if _, err := engine.CreateStock(ctx, market.Stock{
		GuildID: "g1", Symbol: "FREE",
	}); !errors.Is(err, market.ErrInvalidOrder) {
		t.Fatalf("zero price: got %v want ErrInvalidOrder", err)
	}
}

func TestSetStockStatusRejectsUnknown(t *testing.T) {
	engine, _ := newTestEngine(t)
	listStock(t, engine, "g1", "ACME", 10_000)
	if err := engine.SetStockStatus(context.Background(), "g1", "ACME", "paused"); err == nil {
		t.Fatalf("expected unknown status to fail")
	}
}

func TestCandlesRejectsUnknownTimeframe(t *testing.T) {
	engine, _ := newTestEngine(t)
	listStock(t, engine, "g1", "ACME", 10_000)
	if _, err := engine.Candles(context.Background(), "g1", "ACME", "2m", 10); err == nil {
		t.Fatalf("expected unknown timeframe to fail")
	}
}

func TestCalculatePortfolioValue(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
	})

	portfolio, err := engine.CalculatePortfolioValue(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !portfolio.Total.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("flat total: got %s want 100000", portfolio.Total)
	}

	// The market moves; positions are valued at the new price.
	if err := store.UpdateStockPrice(ctx, "g1", "ACME", decimal.NewFromInt(11_000)); err != nil {
		t.Fatalf("reprice: %v", err)
	}
	portfolio, err = engine.CalculatePortfolioValue(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !portfolio.Total.Equal(decimal.NewFromInt(105_000)) {
		t.Fatalf("repriced total: got %s want 105000", portfolio.Total)
	}
	if len(portfolio.Positions) != 1 {
		t.Fatalf("positions: got %d want 1", len(portfolio.Positions))
	}
	pos := portfolio.Positions[0]
	if !pos.Unrealized.Equal(decimal.NewFromInt(5_000)) {
		t.Fatalf("unrealized: got %s want 5000", pos.Unrealized)
	}
}

func TestDefaultSentiment(t *testing.T) {
	tests := []struct {
		headline string
		want     float64
	}{
		{"ACME reports record growth", 0.8},
		{"ACME hit by fraud lawsuit", -0.8},
		{"quiet day on the market", 0},
		{"record growth beats partnership approval", 1}, // clamped
	}
	for _, tc := range tests {
		if got := market.DefaultSentiment(tc.headline); got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.headline, got, tc.want)
		}
	}
}

func TestPublishNewsAppliesCappedMove(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)

	// Fully bullish headline moves the price by the configured cap (3%).
	result, err := engine.PublishNews(ctx, "g1", "ACME", "record growth beats partnership approval")
	if err != nil {
		t.Fatalf("news: %v", err)
	}
	if !result.NewPrice.Equal(decimal.NewFromInt(10_300)) {
		t.Fatalf("bullish move: got %s want 10300", result.NewPrice)
	}

	result, err = engine.PublishNews(ctx, "g1", "ACME", "fraud lawsuit bankruptcy crash")
	if err != nil {
		t.Fatalf("news: %v", err)
	}
	if !result.NewPrice.Equal(decimal.NewFromInt(9_991)) {
		t.Fatalf("bearish move: got %s want 9991", result.NewPrice)
	}
}

func TestPublishNewsValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)

	if _, err := engine.PublishNews(ctx, "g1", "ACME", "   "); err == nil {
		t.Fatalf("expected empty headline to fail")
	}
	if _, err := engine.PublishNews(ctx, "g1", "NOPE", "record growth"); !errors.Is(err, market.ErrStockNotFound) {
		t.Fatalf("unknown symbol: got %v", err)
	}

	if err := engine.SetStockStatus(ctx, "g1", "ACME", market.StockHalted); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if _, err := engine.PublishNews(ctx, "g1", "ACME", "record growth"); !errors.Is(err, market.ErrTradingHalted) {
		t.Fatalf("halted news: got %v", err)
	}
}

func TestEventBusBroadcastsTrades(t *testing.T) {
	engine, _ := newTestEngine(t)
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	events, unsubscribe := engine.Events().Subscribe()
	defer unsubscribe()

	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 2,
	})

	select {
	case ev := <-events:
		if ev.Event != market.EventTradeExecuted {
			t.Fatalf("event: got %s want %s", ev.Event, market.EventTradeExecuted)
		}
		result, ok := ev.Data.(market.TradeResult)
		if !ok {
			t.Fatalf("payload type %T", ev.Data)
		}
		if result.Symbol != "ACME" || result.Shares != 2 {
			t.Fatalf("payload: %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event received")
	}
}

func TestTickAdvancesActiveStocks(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	listStock(t, engine, "g1", "BOLT", 20_000)
	if err := engine.SetStockStatus(ctx, "g1", "BOLT", market.StockHalted); err != nil {
		t.Fatalf("halt: %v", err)
	}

	for i := 0; i < 20; i++ {
		engine.Tick(ctx)
	}

	acme, err := store.GetStockBySymbol(ctx, "g1", "ACME")
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	// Every tick stays inside the absolute band around the prior price,
	// and twenty ticks of 1% volatility virtually never sum to zero.
	if acme.Price.Equal(decimal.NewFromInt(10_000)) {
		t.Logf("price unchanged after 20 ticks (possible but unlikely)")
	}
	candles, err := engine.Candles(ctx, "g1", "ACME", market.TF1m, 10)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) == 0 {
		t.Fatalf("expected candles after ticks")
	}

	// Halted stocks do not move.
	bolt, err := store.GetStockBySymbol(ctx, "g1", "BOLT")
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	if !bolt.Price.Equal(decimal.NewFromInt(20_000)) {
		t.Fatalf("halted stock moved: %s", bolt.Price)
	}
}
