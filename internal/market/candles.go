package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Timeframe string

const (
	TFRealtime Timeframe = "realtime"
	TF1m       Timeframe = "1m"
	TF3m       Timeframe = "3m"
	TF5m       Timeframe = "5m"
	TF10m      Timeframe = "10m"
	TF15m      Timeframe = "15m"
	TF30m      Timeframe = "30m"
	TF1h       Timeframe = "1h"
	TF2h       Timeframe = "2h"
	TF4h       Timeframe = "4h"
	TF1d       Timeframe = "1d"
	TF7d       Timeframe = "7d"
	TF30d      Timeframe = "30d"
	TF365d     Timeframe = "365d"
)

// Timeframes lists every maintained bucket size. Each entry is updated
// independently on every tick; adding or removing one does not affect
// the others.
var Timeframes = []Timeframe{
	TFRealtime, TF1m, TF3m, TF5m, TF10m, TF15m, TF30m,
	TF1h, TF2h, TF4h, TF1d, TF7d, TF30d, TF365d,
}

func ValidTimeframe(tf Timeframe) bool {
	for _, t := range Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// High/low widening is dampened so a single simulated tick cannot paint
// an implausible wick: the range only moves when the price strays from
// the bucket open by more than wickDeadBandPct, and each update may
// stretch the existing high/low by at most wickStretchPct.
var (
	wickDeadBandPct = decimal.NewFromFloat(0.0001) // 0.01% of open
	wickStretchPct  = decimal.NewFromFloat(0.005)  // 0.5% of prior high/low
)

// BucketStart floors now to the start of the bucket containing it.
// 7d buckets align to the ISO week (Monday), 30d to the calendar month,
// 365d to the calendar year, realtime to the second.
func BucketStart(tf Timeframe, now time.Time) time.Time {
	now = now.UTC()
	switch tf {
	case TFRealtime:
		return now.Truncate(time.Second)
	case TF1m:
		return now.Truncate(time.Minute)
	case TF3m:
		return now.Truncate(3 * time.Minute)
	case TF5m:
		return now.Truncate(5 * time.Minute)
	case TF10m:
		return now.Truncate(10 * time.Minute)
	case TF15m:
		return now.Truncate(15 * time.Minute)
	case TF30m:
		return now.Truncate(30 * time.Minute)
	case TF1h:
		return now.Truncate(time.Hour)
	case TF2h:
		return now.Truncate(2 * time.Hour)
	case TF4h:
		return now.Truncate(4 * time.Hour)
	case TF1d:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case TF7d:
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday == 0
		return day.AddDate(0, 0, -offset)
	case TF30d:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	case TF365d:
		return time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	default:
		return now.Truncate(time.Minute)
	}
}

// recordTick upserts one (guild, symbol, timeframe) candle for the tick.
func recordTick(ctx context.Context, tx Tx, guildID, symbol string, tf Timeframe, price decimal.Decimal, volume int64, now time.Time) error {
	bucket := BucketStart(tf, now)
	candle, err := tx.GetCandlestick(ctx, guildID, symbol, tf, bucket)
	if errors.Is(err, ErrCandleNotFound) {
		return tx.CreateCandlestick(ctx, Candle{
			GuildID:   guildID,
			Symbol:    symbol,
			Timeframe: tf,
			Bucket:    bucket,
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    volume,
		})
	}
	if err != nil {
		return err
	}

	candle.Close = price
	candle.Volume += volume
	candle.High = dampenedHigh(candle.Open, candle.High, price)
	candle.Low = dampenedLow(candle.Open, candle.Low, price)
	return tx.UpdateCandlestick(ctx, candle)
}

func dampenedHigh(open, high, price decimal.Decimal) decimal.Decimal {
	if price.LessThanOrEqual(high) {
		return high
	}
	if !exceedsDeadBand(open, price) {
		return high
	}
	stretchCap := high.Mul(decimal.NewFromInt(1).Add(wickStretchPct))
	if price.GreaterThan(stretchCap) {
		return stretchCap
	}
	return price
}

func dampenedLow(open, low, price decimal.Decimal) decimal.Decimal {
	if price.GreaterThanOrEqual(low) {
		return low
	}
	if !exceedsDeadBand(open, price) {
		return low
	}
	floor := low.Mul(decimal.NewFromInt(1).Sub(wickStretchPct))
	if price.LessThan(floor) {
		return floor
	}
	return price
}

func exceedsDeadBand(open, price decimal.Decimal) bool {
	if open.IsZero() {
		return true
	}
	dev := price.Sub(open).Abs().Div(open)
	return dev.GreaterThan(wickDeadBandPct)
}

// updateCandlesticks records the tick against all maintained timeframes.
func updateCandlesticks(ctx context.Context, tx Tx, guildID, symbol string, price decimal.Decimal, volume int64, now time.Time) error {
	for _, tf := range Timeframes {
		if err := recordTick(ctx, tx, guildID, symbol, tf, price, volume, now); err != nil {
			return fmt.Errorf("candle %s/%s %s: %w", guildID, symbol, tf, err)
		}
	}
	return nil
}
