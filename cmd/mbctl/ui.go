package main

import (
	"fmt"

	"github.com/fatih/color"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func renderStocks(stocks []map[string]any) {
	for _, s := range stocks {
		accent.Printf("%-10v", s["symbol"])
		fmt.Printf(" %-24v %12v  %v\n", s["name"], s["price"], s["status"])
	}
}

func renderCandles(candles []map[string]any) {
	fmt.Printf("%-22s %10s %10s %10s %10s %10s\n", "bucket", "open", "high", "low", "close", "volume")
	for _, c := range candles {
		fmt.Printf("%-22v %10v %10v %10v %10v %10v\n",
			c["bucket"], c["open"], c["high"], c["low"], c["close"], c["volume"])
	}
}

func renderOrders(orders []map[string]any) {
	for _, o := range orders {
		line := fmt.Sprintf("%v  %v %v x %v @ %v  [%v]",
			o["id"], o["side"], o["shares"], o["symbol"], o["target_price"], o["status"])
		switch o["status"] {
		case "pending":
			neutral.Println(line)
		case "executed":
			success.Println(line)
		default:
			danger.Println(line)
		}
	}
}

func renderPortfolio(out map[string]any) {
	fmt.Printf("Balance: %v\n", out["balance"])
	positions, _ := out["positions"].([]any)
	for _, raw := range positions {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		accent.Printf("%-10v", p["symbol"])
		fmt.Printf(" %6v @ %v  now %v  unrealized %v\n",
			p["shares"], p["avg_price"], p["price"], p["unrealized"])
	}
	fmt.Printf("Total: %v\n", out["total"])
}
