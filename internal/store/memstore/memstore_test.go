package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketbot/internal/market"

	"github.com/shopspring/decimal"
)

func TestTransactRollsBackOnError(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.CreateAccount(ctx, market.Account{
		GuildID: "g1", UserID: "u1", Balance: decimal.NewFromInt(100),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	err := store.Transact(ctx, func(tx market.Tx) error {
		if err := tx.UpdateBalance(ctx, "g1", "u1", decimal.NewFromInt(5)); err != nil {
			return err
		}
		if err := tx.AppendLedger(ctx, market.LedgerEntry{GuildID: "g1", UserID: "u1", Kind: "test"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	account, err := store.GetAccountByUser(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if !account.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("balance leaked from failed tx: %s", account.Balance)
	}
}

func TestUpdateHoldingDeletesAtZero(t *testing.T) {
	store := New()
	ctx := context.Background()

	holding := market.Holding{
		GuildID: "g1", UserID: "u1", Symbol: "ACME", Shares: 3,
		AvgPrice: decimal.NewFromInt(9_000),
	}
	if err := store.UpdateHolding(ctx, holding); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	holding.Shares = 0
	if err := store.UpdateHolding(ctx, holding); err != nil {
		t.Fatalf("zero out: %v", err)
	}
	if _, err := store.GetHolding(ctx, "g1", "u1", "ACME"); !errors.Is(err, market.ErrHoldingNotFound) {
		t.Fatalf("expected row gone, got err=%v", err)
	}

	holding.Shares = -1
	if err := store.UpdateHolding(ctx, holding); !errors.Is(err, market.ErrInsufficientShares) {
		t.Fatalf("negative shares: got %v", err)
	}
}

func TestCheckPendingOrdersTriggerRules(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(id string, side market.TradeSide, target int64, status market.OrderStatus) market.LimitOrder {
		return market.LimitOrder{
			ID: id, GuildID: "g1", UserID: "u1", Symbol: "ACME",
			Side: side, Shares: 1, TargetPrice: decimal.NewFromInt(target),
			Status: status, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		}
	}
	orders := []market.LimitOrder{
		mk("buy-above", market.SideBuy, 9_500, market.OrderPending),   // target >= price: triggers
		mk("buy-below", market.SideBuy, 8_000, market.OrderPending),   // waits for a lower price
		mk("sell-below", market.SideSell, 9_000, market.OrderPending), // target <= price: triggers
		mk("sell-above", market.SideSell, 12_000, market.OrderPending),
		mk("done", market.SideBuy, 9_500, market.OrderExecuted),
	}
	for _, o := range orders {
		if err := store.CreateLimitOrder(ctx, o); err != nil {
			t.Fatalf("create %s: %v", o.ID, err)
		}
	}

	got, err := store.CheckPendingOrdersForSymbol(ctx, "g1", "ACME", decimal.NewFromInt(9_200))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	found := map[string]bool{}
	for _, o := range got {
		found[o.ID] = true
	}
	if len(got) != 2 || !found["buy-above"] || !found["sell-below"] {
		t.Fatalf("triggered set: %v", found)
	}
}

func TestCancelLimitOrderRestoresSellBasis(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	// The whole position was consumed by the reservation, so the holding
	// row is gone; cancellation restores the shares at the target price.
	order := market.LimitOrder{
		ID: "o1", GuildID: "g1", UserID: "u1", Symbol: "ACME",
		Side: market.SideSell, Shares: 5, TargetPrice: decimal.NewFromInt(10_500),
		Status: market.OrderPending, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := store.CreateLimitOrder(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CancelLimitOrder(ctx, "g1", "o1", market.OrderCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	holding, err := store.GetHolding(ctx, "g1", "u1", "ACME")
	if err != nil {
		t.Fatalf("holding: %v", err)
	}
	if holding.Shares != 5 || !holding.AvgPrice.Equal(decimal.NewFromInt(10_500)) {
		t.Fatalf("restored holding: got %d @ %s", holding.Shares, holding.AvgPrice)
	}

	got, err := store.GetLimitOrder(ctx, "g1", "o1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if got.Status != market.OrderCancelled {
		t.Fatalf("status: got %s", got.Status)
	}
}

func TestCancelLimitOrderRejectsTerminalStates(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Now().UTC()

	order := market.LimitOrder{
		ID: "o1", GuildID: "g1", UserID: "u1", Symbol: "ACME",
		Side: market.SideSell, Shares: 1, TargetPrice: decimal.NewFromInt(10_000),
		Status: market.OrderPending, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	}
	if err := store.CreateLimitOrder(ctx, order); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.ExecuteLimitOrder(ctx, "g1", "o1", order.TargetPrice, order.Shares); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := store.CancelLimitOrder(ctx, "g1", "o1", market.OrderCancelled); !errors.Is(err, market.ErrOrderNotPending) {
		t.Fatalf("cancel executed: got %v", err)
	}
	if err := store.ExecuteLimitOrder(ctx, "g1", "o1", order.TargetPrice, order.Shares); !errors.Is(err, market.ErrOrderNotPending) {
		t.Fatalf("double execute: got %v", err)
	}
	if err := store.CancelLimitOrder(ctx, "g1", "o1", market.OrderPending); !errors.Is(err, market.ErrInvalidOrder) && !errors.Is(err, market.ErrOrderNotPending) {
		t.Fatalf("bad target status: got %v", err)
	}
}
