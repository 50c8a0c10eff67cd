package market_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"marketbot/internal/market"
	"marketbot/internal/store/memstore"

	"github.com/shopspring/decimal"
)

func newTestEngine(t *testing.T) (*market.Engine, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := market.NewEngine(store, logger, market.Config{
		TickInterval:   time.Hour,
		ExpiryInterval: time.Hour,
	})
	return engine, store
}

func listStock(t *testing.T, engine *market.Engine, guildID, symbol string, price int64) {
	t.Helper()
	_, err := engine.CreateStock(context.Background(), market.Stock{
		GuildID:     guildID,
		Symbol:      symbol,
		Name:        symbol + " Corp",
		Price:       decimal.NewFromInt(price),
		Volatility:  1,
		TotalShares: 1_000_000,
	})
	if err != nil {
		t.Fatalf("create stock: %v", err)
	}
}

func openAccount(t *testing.T, engine *market.Engine, guildID, userID string) {
	t.Helper()
	if _, err := engine.OpenAccount(context.Background(), guildID, userID); err != nil {
		t.Fatalf("open account: %v", err)
	}
}

func mustTrade(t *testing.T, engine *market.Engine, in market.TradeInput) market.TradeResult {
	t.Helper()
	out, err := engine.ExecuteTrade(context.Background(), in)
	if err != nil {
		t.Fatalf("trade %s %d %s: %v", in.Side, in.Shares, in.Symbol, err)
	}
	return out
}

func TestBuyAndSellRoundTrip(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	buy := mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
	})
	if !buy.Balance.Equal(decimal.NewFromInt(50_000)) {
		t.Fatalf("post-buy balance: got %s want 50000", buy.Balance)
	}
	holding, err := store.GetHolding(ctx, "g1", "u1", "ACME")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if holding.Shares != 5 || !holding.AvgPrice.Equal(decimal.NewFromInt(10_000)) {
		t.Fatalf("holding: got %d @ %s", holding.Shares, holding.AvgPrice)
	}

	sell := mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideSell, Shares: 5,
	})
	if !sell.Balance.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("post-sell balance: got %s want 100000", sell.Balance)
	}
	// The emptied position is removed, not kept at zero shares.
	if _, err := store.GetHolding(ctx, "g1", "u1", "ACME"); !errors.Is(err, market.ErrHoldingNotFound) {
		t.Fatalf("expected holding gone, got err=%v", err)
	}
}

func TestBuyLeavesMinimumBalance(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	price := decimal.NewFromInt(9_000)
	out := mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 10, Price: price,
	})
	if !out.Balance.Equal(decimal.NewFromInt(10_000)) {
		t.Fatalf("balance after first buy: got %s want 10000", out.Balance)
	}

	// 2 more at 9000 would leave the balance below the floor.
	_, err := engine.ExecuteTrade(ctx, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 2, Price: price,
	})
	if !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// Spending down to exactly the floor is allowed.
	out = mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 1,
		Price: decimal.NewFromInt(9_999),
	})
	if !out.Balance.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("balance at floor: got %s want 1", out.Balance)
	}
}

func TestBuyAveragesCostBasis(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 2,
		Price: decimal.NewFromInt(9_000),
	})
	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 2,
		Price: decimal.NewFromInt(10_000),
	})

	holding, err := store.GetHolding(ctx, "g1", "u1", "ACME")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if holding.Shares != 4 || !holding.AvgPrice.Equal(decimal.NewFromInt(9_500)) {
		t.Fatalf("cost basis: got %d @ %s want 4 @ 9500", holding.Shares, holding.AvgPrice)
	}
}

func TestSellRequiresShares(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	_, err := engine.ExecuteTrade(ctx, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideSell, Shares: 1,
	})
	if !errors.Is(err, market.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares, got %v", err)
	}

	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 3,
	})
	_, err = engine.ExecuteTrade(ctx, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideSell, Shares: 4,
	})
	if !errors.Is(err, market.ErrInsufficientShares) {
		t.Fatalf("expected ErrInsufficientShares on oversell, got %v", err)
	}
}

func TestTradePreconditions(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	base := market.TradeInput{GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 1}

	tests := []struct {
		name    string
		prepare func(t *testing.T)
		mutate  func(in *market.TradeInput)
		want    error
	}{
		{
			name:   "bad symbol",
			mutate: func(in *market.TradeInput) { in.Symbol = "ac1" },
			want:   market.ErrInvalidSymbol,
		},
		{
			name:   "bad side",
			mutate: func(in *market.TradeInput) { in.Side = "hold" },
			want:   market.ErrInvalidOrder,
		},
		{
			name:   "zero shares",
			mutate: func(in *market.TradeInput) { in.Shares = 0 },
			want:   market.ErrInvalidOrder,
		},
		{
			name:   "unknown stock",
			mutate: func(in *market.TradeInput) { in.Symbol = "NOPE" },
			want:   market.ErrStockNotFound,
		},
		{
			name:   "no account",
			mutate: func(in *market.TradeInput) { in.UserID = "stranger" },
			want:   market.ErrAccountNotFound,
		},
		{
			name: "halted stock",
			prepare: func(t *testing.T) {
				if err := engine.SetStockStatus(ctx, "g1", "ACME", market.StockHalted); err != nil {
					t.Fatalf("halt: %v", err)
				}
				t.Cleanup(func() { _ = engine.SetStockStatus(ctx, "g1", "ACME", market.StockActive) })
			},
			mutate: func(*market.TradeInput) {},
			want:   market.ErrTradingHalted,
		},
		{
			name: "frozen account",
			prepare: func(t *testing.T) {
				if err := engine.SetAccountFrozen(ctx, "g1", "u1", true); err != nil {
					t.Fatalf("freeze: %v", err)
				}
				t.Cleanup(func() { _ = engine.SetAccountFrozen(ctx, "g1", "u1", false) })
			},
			mutate: func(*market.TradeInput) {},
			want:   market.ErrAccountFrozen,
		},
		{
			name: "suspended trading",
			prepare: func(t *testing.T) {
				if err := engine.SetTradingSuspended(ctx, "g1", "u1", true); err != nil {
					t.Fatalf("suspend: %v", err)
				}
				t.Cleanup(func() { _ = engine.SetTradingSuspended(ctx, "g1", "u1", false) })
			},
			mutate: func(*market.TradeInput) {},
			want:   market.ErrTradingSuspended,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prepare != nil {
				tc.prepare(t)
			}
			in := base
			tc.mutate(&in)
			if _, err := engine.ExecuteTrade(ctx, in); !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestLargeTradeMovesPrice(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "whale")
	if _, err := engine.AdjustBalance(ctx, "g1", "whale", decimal.NewFromInt(30_000_000), "funding"); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "whale", Symbol: "ACME", Side: market.SideBuy, Shares: 2_000,
	})

	stock, err := engine.GetStock(ctx, "g1", "ACME")
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	// 0.5% impact plus up to 0.05% jitter in either direction.
	if stock.Price.LessThan(decimal.NewFromInt(10_044)) || stock.Price.GreaterThan(decimal.NewFromInt(10_056)) {
		t.Fatalf("post-impact price out of range: %s", stock.Price)
	}
}

func TestSmallTradeDoesNotMovePrice(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
	})
	stock, err := engine.GetStock(ctx, "g1", "ACME")
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	if !stock.Price.Equal(decimal.NewFromInt(10_000)) {
		t.Fatalf("small trade moved the price: %s", stock.Price)
	}
}
