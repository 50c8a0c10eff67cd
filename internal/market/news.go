package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SentimentFunc scores a headline as a fraction in [-1, 1]; -1 is
// maximally bearish, +1 maximally bullish. The engine turns the score
// into a price move capped at Config.MaxNewsImpactPct.
type SentimentFunc func(headline string) float64

var bullishWords = []string{"surge", "record", "growth", "beats", "breakthrough", "partnership", "approval"}
var bearishWords = []string{"crash", "fraud", "lawsuit", "recall", "bankruptcy", "misses", "halt"}

// DefaultSentiment is a crude keyword scorer; production deployments
// inject their own.
func DefaultSentiment(headline string) float64 {
	lower := strings.ToLower(headline)
	var score float64
	for _, w := range bullishWords {
		if strings.Contains(lower, w) {
			score += 0.4
		}
	}
	for _, w := range bearishWords {
		if strings.Contains(lower, w) {
			score -= 0.4
		}
	}
	if score > 1 {
		return 1
	}
	if score < -1 {
		return -1
	}
	return score
}

type NewsResult struct {
	Symbol   string          `json:"symbol"`
	Score    float64         `json:"score"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

// PublishNews scores a headline and applies the resulting shock to the
// stock price under the same absolute per-tick clamp as the simulator.
// Concurrent duplicates of the same headline for one symbol are dropped.
func (e *Engine) PublishNews(ctx context.Context, guildID, symbol, headline string) (NewsResult, error) {
	var out NewsResult
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if err := ValidateSymbol(symbol); err != nil {
		return out, err
	}
	headline = strings.TrimSpace(headline)
	if headline == "" {
		return out, fmt.Errorf("headline is required")
	}

	key := guildID + "\x00" + symbol + "\x00" + headline
	if !e.claimNewsKey(key) {
		return out, fmt.Errorf("news already being processed")
	}
	defer e.releaseNewsKey(key)

	score := e.cfg.Sentiment(headline)
	if score > 1 {
		score = 1
	}
	if score < -1 {
		score = -1
	}
	pct := score * e.cfg.MaxNewsImpactPct

	var oldPrice, newPrice decimal.Decimal
	now := time.Now().UTC()
	err := e.store.Transact(ctx, func(tx Tx) error {
		stock, err := tx.GetStockBySymbol(ctx, guildID, symbol)
		if err != nil {
			return err
		}
		if stock.Status != StockActive {
			return ErrTradingHalted
		}
		oldPrice = stock.Price
		newPrice = clampTickPrice(stock.Price, pct)
		if newPrice.Equal(oldPrice) {
			return nil
		}
		if err := tx.UpdateStockPrice(ctx, guildID, symbol, newPrice); err != nil {
			return err
		}
		return updateCandlesticks(ctx, tx, guildID, symbol, newPrice, e.syntheticVolume(pct), now)
	})
	if err != nil {
		return out, err
	}

	if !newPrice.Equal(oldPrice) {
		e.checkAndExecute(ctx, guildID, symbol, newPrice)
		e.bus.Publish(Event{Event: EventStockPriceUpdated, Data: PriceUpdate{
			GuildID:  guildID,
			Symbol:   symbol,
			OldPrice: oldPrice,
			NewPrice: newPrice,
		}})
	}
	return NewsResult{Symbol: symbol, Score: score, OldPrice: oldPrice, NewPrice: newPrice}, nil
}

func (e *Engine) claimNewsKey(key string) bool {
	e.newsMu.Lock()
	defer e.newsMu.Unlock()
	if _, busy := e.newsInFlight[key]; busy {
		return false
	}
	e.newsInFlight[key] = struct{}{}
	return true
}

func (e *Engine) releaseNewsKey(key string) {
	e.newsMu.Lock()
	defer e.newsMu.Unlock()
	delete(e.newsInFlight, key)
}
