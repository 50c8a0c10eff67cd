package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cl "marketbot/internal/cli"
	"marketbot/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL
	guildID := cfg.GuildID
	userID := cfg.UserID

	root := &cobra.Command{
		Use:          "mbctl",
		Short:        "Marketbot trading client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")
	root.PersistentFlags().StringVar(&guildID, "guild", guildID, "guild id")
	root.PersistentFlags().StringVar(&userID, "user", userID, "user id")

	root.AddCommand(
		newJoinCmd(&apiBase, &guildID, &userID),
		newStocksCmd(&apiBase, &guildID),
		newPriceCmd(&apiBase, &guildID),
		newCandlesCmd(&apiBase, &guildID),
		newTradeCmd(&apiBase, &guildID, &userID, "buy"),
		newTradeCmd(&apiBase, &guildID, &userID, "sell"),
		newOrderCmd(&apiBase, &guildID, &userID),
		newOrdersCmd(&apiBase, &guildID, &userID),
		newCancelCmd(&apiBase, &guildID, &userID),
		newPortfolioCmd(&apiBase, &guildID, &userID),
		newNewsCmd(&apiBase, &guildID),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

func cmdContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newJoinCmd(apiBase, guildID, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "join",
		Short: "Open a trading account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).OpenAccount(ctx, *guildID, *userID)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Account opened. Balance: %v", out["balance"]))
			return nil
		},
	}
}

func newStocksCmd(apiBase, guildID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stocks",
		Short: "List stocks in the guild",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			stocks, err := newClient(apiBase).ListStocks(ctx, *guildID)
			if err != nil {
				return err
			}
			if len(stocks) == 0 {
				printInfo("No stocks listed.")
				return nil
			}
			renderStocks(stocks)
			return nil
		},
	}
}

func newPriceCmd(apiBase, guildID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "price SYMBOL",
		Short: "Show current price for a stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			stock, err := newClient(apiBase).StockDetail(ctx, *guildID, strings.ToUpper(args[0]))
			if err != nil {
				return err
			}
			accent.Printf("%v", stock["symbol"])
			fmt.Printf("  %v  (%v)\n", stock["price"], stock["status"])
			return nil
		},
	}
}

func newCandlesCmd(apiBase, guildID *string) *cobra.Command {
	var timeframe string
	var limit int
	cmd := &cobra.Command{
		Use:   "candles SYMBOL",
		Short: "Show candlestick history for a stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			candles, err := newClient(apiBase).Candles(ctx, *guildID, strings.ToUpper(args[0]), timeframe, limit)
			if err != nil {
				return err
			}
			if len(candles) == 0 {
				printInfo("No candles yet for this timeframe.")
				return nil
			}
			renderCandles(candles)
			return nil
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "1m", "candle timeframe (realtime, 1m, 3m, 5m, 10m, 15m, 30m, 1h, 2h, 4h, 1d, 7d, 30d, 365d)")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of candles")
	return cmd
}

func newTradeCmd(apiBase, guildID, userID *string, side string) *cobra.Command {
	return &cobra.Command{
		Use:   side + " SYMBOL SHARES",
		Short: strings.ToUpper(side[:1]) + side[1:] + " shares at the current market price",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || shares <= 0 {
				return fmt.Errorf("shares must be a positive whole number")
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Trade(ctx, *guildID, *userID, strings.ToUpper(args[0]), side, shares)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s %v x %v @ %v. Balance: %v",
				strings.ToUpper(side), out["shares"], out["symbol"], out["price"], out["balance"]))
			return nil
		},
	}
}

func newOrderCmd(apiBase, guildID, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "order SIDE SYMBOL SHARES PRICE",
		Short: "Place a limit order (buy at-or-below, sell at-or-above PRICE)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			side := strings.ToLower(args[0])
			if side != "buy" && side != "sell" {
				return fmt.Errorf("side must be buy or sell")
			}
			shares, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil || shares <= 0 {
				return fmt.Errorf("shares must be a positive whole number")
			}
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).CreateOrder(ctx, *guildID, *userID, strings.ToUpper(args[1]), side, shares, args[3])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Order placed: %v", out["id"]))
			return nil
		},
	}
}

func newOrdersCmd(apiBase, guildID, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List your limit orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			orders, err := newClient(apiBase).ListOrders(ctx, *guildID, *userID)
			if err != nil {
				return err
			}
			if len(orders) == 0 {
				printInfo("No orders.")
				return nil
			}
			renderOrders(orders)
			return nil
		},
	}
}

func newCancelCmd(apiBase, guildID, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel a pending limit order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			if _, err := newClient(apiBase).CancelOrder(ctx, *guildID, *userID, args[0]); err != nil {
				return err
			}
			printSuccess("Order cancelled.")
			return nil
		},
	}
}

func newPortfolioCmd(apiBase, guildID, userID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show balance, positions, and total value",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			out, err := newClient(apiBase).Portfolio(ctx, *guildID, *userID)
			if err != nil {
				return err
			}
			renderPortfolio(out)
			return nil
		},
	}
}

func newNewsCmd(apiBase, guildID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "news SYMBOL HEADLINE...",
		Short: "Publish a news headline affecting a stock",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := cmdContext(cmd)
			defer cancel()
			headline := strings.Join(args[1:], " ")
			out, err := newClient(apiBase).PublishNews(ctx, *guildID, strings.ToUpper(args[0]), headline)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("News applied: %v -> %v (score %v)",
				out["old_price"], out["new_price"], out["score"]))
			return nil
		},
	}
}
