package market

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	tradeFlowWindow      = time.Minute
	tradeFlowMaxPct      = 0.1 // trade pressure contributes at most +-0.1%
	tradeFlowVolumeScale = 10_000.0

	newsShockProb   = 0.001
	newsShockMinPct = 0.2
	newsShockMaxPct = 0.5

	// totalChangePercent is clamped to +-safetyBandMultiple x volatility
	// before the absolute per-tick clamp is applied.
	safetyBandMultiple = 3.0

	maxTickMovePct = 0.05 // absolute per-tick band: [0.95p, 1.05p]
)

// simulateStock advances one stock by one tick: baseline volatility noise,
// trade-flow pressure from the trailing window, and a rare news-like shock.
// The stock row scanned by the tick may be stale by the time this runs, so
// the price read, clamp and mutation all happen inside one short
// transaction against the committed row; the limit-order sweep and
// broadcast follow outside it.
func (e *Engine) simulateStock(ctx context.Context, stock Stock) error {
	trades, err := e.store.RecentTradesBySymbol(ctx, stock.GuildID, stock.Symbol, tradeFlowWindow)
	if err != nil {
		return fmt.Errorf("recent trades: %w", err)
	}

	basePct := (e.randFloat()*2 - 1) * stock.Volatility
	tradePct := tradeFlowImpactPct(trades)
	newsPct := e.maybeNewsShockPct()

	totalPct := basePct + tradePct + newsPct
	band := safetyBandMultiple * stock.Volatility
	if totalPct > band {
		totalPct = band
	}
	if totalPct < -band {
		totalPct = -band
	}

	var oldPrice, newPrice decimal.Decimal
	var volume int64
	now := time.Now().UTC()

	err = e.store.Transact(ctx, func(tx Tx) error {
		current, err := tx.GetStockBySymbol(ctx, stock.GuildID, stock.Symbol)
		if err != nil {
			return err
		}
		oldPrice = current.Price
		newPrice = clampTickPrice(current.Price, totalPct)
		volume = 0
		if current.Status != StockActive || newPrice.Equal(current.Price) {
			newPrice = current.Price
			return nil
		}
		appliedPct := newPrice.Sub(current.Price).Div(current.Price).InexactFloat64() * 100
		volume = e.syntheticVolume(appliedPct)
		if err := tx.UpdateStockPrice(ctx, stock.GuildID, stock.Symbol, newPrice); err != nil {
			return err
		}
		return updateCandlesticks(ctx, tx, stock.GuildID, stock.Symbol, newPrice, volume, now)
	})
	if err != nil {
		return err
	}
	if newPrice.Equal(oldPrice) {
		return nil
	}

	e.checkAndExecute(ctx, stock.GuildID, stock.Symbol, newPrice)
	e.bus.Publish(Event{Event: EventStockPriceUpdated, Data: PriceUpdate{
		GuildID:  stock.GuildID,
		Symbol:   stock.Symbol,
		OldPrice: oldPrice,
		NewPrice: newPrice,
		Volume:   volume,
	}})
	return nil
}

// tradeFlowImpactPct turns the trailing trade window into a percent nudge.
// The imbalance direction sets the sign, total traded volume scales the
// magnitude, and the result never exceeds +-tradeFlowMaxPct.
func tradeFlowImpactPct(trades []StockTransaction) float64 {
	var buys, sells int64
	for _, t := range trades {
		switch t.Side {
		case SideBuy:
			buys += t.Shares
		case SideSell:
			sells += t.Shares
		}
	}
	total := buys + sells
	if total == 0 {
		return 0
	}
	imbalance := float64(buys-sells) / float64(total)
	magnitude := math.Min(float64(total)/tradeFlowVolumeScale, 1) * tradeFlowMaxPct
	return imbalance * magnitude
}

func (e *Engine) maybeNewsShockPct() float64 {
	if e.randFloat() >= newsShockProb {
		return 0
	}
	mag := newsShockMinPct + e.randFloat()*(newsShockMaxPct-newsShockMinPct)
	if e.randFloat() < 0.5 {
		return -mag
	}
	return mag
}

// clampTickPrice applies totalPct to price and clamps the result to the
// absolute per-tick band [max(PriceFloor, 0.95p), 1.05p]. The band holds
// regardless of the stock's volatility setting.
func clampTickPrice(price decimal.Decimal, totalPct float64) decimal.Decimal {
	next := price.Mul(decimal.NewFromFloat(1 + totalPct/100)).Round(2)
	low := decimal.Max(PriceFloor, price.Mul(decimal.NewFromFloat(1-maxTickMovePct)).Round(2))
	high := price.Mul(decimal.NewFromFloat(1 + maxTickMovePct)).Round(2)
	if next.LessThan(low) {
		return low
	}
	if next.GreaterThan(high) {
		return high
	}
	return next
}

func (e *Engine) syntheticVolume(changePct float64) int64 {
	base := 100 + e.randFloat()*1000
	return int64((math.Abs(changePct)*20 + 1) * base)
}
