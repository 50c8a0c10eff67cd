package market_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketbot/internal/market"

	"github.com/shopspring/decimal"
)

func placeOrder(t *testing.T, engine *market.Engine, in market.LimitOrderInput) market.LimitOrder {
	t.Helper()
	order, err := engine.CreateLimitOrder(context.Background(), in)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// nudgeMarket trades one share at an explicit price through a second
// account, which runs the pending-order sweep at that price.
func nudgeMarket(t *testing.T, engine *market.Engine, guildID string, price int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := engine.GetAccount(ctx, guildID, "mover"); err != nil {
		openAccount(t, engine, guildID, "mover")
		if _, err := engine.AdjustBalance(ctx, guildID, "mover", decimal.NewFromInt(1_000_000), "funding"); err != nil {
			t.Fatalf("fund mover: %v", err)
		}
	}
	mustTrade(t, engine, market.TradeInput{
		GuildID: guildID, UserID: "mover", Symbol: "ACME", Side: market.SideBuy, Shares: 1,
		Price: decimal.NewFromInt(price),
	})
}

func TestBuyLimitReservesFunds(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	order := placeOrder(t, engine, market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
		TargetPrice: decimal.NewFromInt(9_000),
	})
	if order.Status != market.OrderPending {
		t.Fatalf("status: got %s want pending", order.Status)
	}
	if !order.ReservedAmount.Equal(decimal.NewFromInt(45_000)) {
		t.Fatalf("reserved: got %s want 45000", order.ReservedAmount)
	}

	account, err := engine.GetAccount(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(55_000)) {
		t.Fatalf("balance after reserve: got %s want 55000", account.Balance)
	}

	// The reservation itself respects the balance floor.
	_, err = engine.CreateLimitOrder(ctx, market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 7,
		TargetPrice: decimal.NewFromInt(9_000),
	})
	if !errors.Is(err, market.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestBuyLimitExecutesAtTargetPrice(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	order := placeOrder(t, engine, market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
		TargetPrice: decimal.NewFromInt(9_000),
	})

	// Market trades down through the target.
	nudgeMarket(t, engine, "g1", 8_800)

	got, err := store.GetLimitOrder(ctx, "g1", order.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if got.Status != market.OrderExecuted {
		t.Fatalf("status: got %s want executed", got.Status)
	}
	if got.ExecutedPrice == nil || !got.ExecutedPrice.Equal(decimal.NewFromInt(9_000)) {
		t.Fatalf("fill price: got %v want 9000", got.ExecutedPrice)
	}

	// Filled at the target, not the tick price that triggered it.
	holding, err := store.GetHolding(ctx, "g1", "u1", "ACME")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if holding.Shares != 5 || !holding.AvgPrice.Equal(decimal.NewFromInt(9_000)) {
		t.Fatalf("holding: got %d @ %s want 5 @ 9000", holding.Shares, holding.AvgPrice)
	}

	account, err := engine.GetAccount(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(55_000)) {
		t.Fatalf("balance after fill: got %s want 55000", account.Balance)
	}
}

func TestSellLimitExecutesAndCredits(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
	})
	placeOrder(t, engine, market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideSell, Shares: 5,
		TargetPrice: decimal.NewFromInt(10_500),
	})

	// Reserved shares leave the visible holding immediately.
	if _, err := store.GetHolding(ctx, "g1", "u1", "ACME"); !errors.Is(err, market.ErrHoldingNotFound) {
		t.Fatalf("expected holding reserved away, got err=%v", err)
	}

	nudgeMarket(t, engine, "g1", 10_600)

	account, err := engine.GetAccount(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	// 50000 after the buy, plus 5 x 10500 on the fill.
	if !account.Balance.Equal(decimal.NewFromInt(102_500)) {
		t.Fatalf("balance after fill: got %s want 102500", account.Balance)
	}
}

func TestFlashCrashGuardDefersExecution(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	order := placeOrder(t, engine, market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
		TargetPrice: decimal.NewFromInt(9_000),
	})

	// 7000 is 22% below the target: implausible in one tick, so the
	// order stays pending for the next sweep.
	nudgeMarket(t, engine, "g1", 7_000)

	got, err := store.GetLimitOrder(ctx, "g1", order.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if got.Status != market.OrderPending {
		t.Fatalf("status: got %s want pending", got.Status)
	}

	// A plausible move afterwards executes it normally.
	nudgeMarket(t, engine, "g1", 8_900)
	got, err = store.GetLimitOrder(ctx, "g1", order.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if got.Status != market.OrderExecuted {
		t.Fatalf("status after plausible move: got %s want executed", got.Status)
	}
}

func TestCancelReleasesReservation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	order := placeOrder(t, engine, market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
		TargetPrice: decimal.NewFromInt(9_000),
	})

	// Only the owner may cancel.
	if err := engine.CancelLimitOrder(ctx, "g1", "intruder", order.ID); !errors.Is(err, market.ErrOrderNotFound) {
		t.Fatalf("foreign cancel: got %v want ErrOrderNotFound", err)
	}

	if err := engine.CancelLimitOrder(ctx, "g1", "u1", order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	account, err := engine.GetAccount(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("balance after cancel: got %s want 100000", account.Balance)
	}

	// Terminal states are final.
	if err := engine.CancelLimitOrder(ctx, "g1", "u1", order.ID); !errors.Is(err, market.ErrOrderNotPending) {
		t.Fatalf("double cancel: got %v want ErrOrderNotPending", err)
	}
}

func TestCancelRestoresReservedShares(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	mustTrade(t, engine, market.TradeInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
	})
	order := placeOrder(t, engine, market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideSell, Shares: 5,
		TargetPrice: decimal.NewFromInt(10_500),
	})

	if err := engine.CancelLimitOrder(ctx, "g1", "u1", order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	holding, err := store.GetHolding(ctx, "g1", "u1", "ACME")
	if err != nil {
		t.Fatalf("holding after cancel: %v", err)
	}
	if holding.Shares != 5 {
		t.Fatalf("restored shares: got %d want 5", holding.Shares)
	}
}

func TestOrderExpirySweepReleasesReservation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	sweeper := market.NewEngine(store, nil, market.Config{
		TickInterval:   time.Hour,
		ExpiryInterval: 20 * time.Millisecond,
	})

	order := placeOrder(t, engine, market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
		TargetPrice: decimal.NewFromInt(9_000),
		ExpiresAt:   time.Now().UTC().Add(50 * time.Millisecond),
	})

	sweeper.Start(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := store.GetLimitOrder(ctx, "g1", order.ID)
		if err != nil {
			t.Fatalf("order: %v", err)
		}
		if got.Status == market.OrderExpired {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("order never expired, status %s", got.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	sweeper.Stop()

	account, err := engine.GetAccount(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("balance after expiry: got %s want 100000", account.Balance)
	}
}

func TestCreateLimitOrderValidation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()
	listStock(t, engine, "g1", "ACME", 10_000)
	openAccount(t, engine, "g1", "u1")

	base := market.LimitOrderInput{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Side: market.SideBuy, Shares: 5,
		TargetPrice: decimal.NewFromInt(9_000),
	}

	in := base
	in.TargetPrice = decimal.Zero
	if _, err := engine.CreateLimitOrder(ctx, in); !errors.Is(err, market.ErrInvalidOrder) {
		t.Fatalf("zero target: got %v", err)
	}

	in = base
	in.Shares = 0
	if _, err := engine.CreateLimitOrder(ctx, in); !errors.Is(err, market.ErrInvalidOrder) {
		t.Fatalf("zero shares: got %v", err)
	}

	in = base
	in.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if _, err := engine.CreateLimitOrder(ctx, in); !errors.Is(err, market.ErrInvalidOrder) {
		t.Fatalf("past expiry: got %v", err)
	}
}
