// Package discord is a thin presentation layer over the trading engine:
// a handful of text commands plus a ticker channel fed from the event bus.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"marketbot/internal/market"

	"github.com/bwmarrin/discordgo"
)

type Bot struct {
	session   *discordgo.Session
	engine    *market.Engine
	log       *slog.Logger
	channelID string
	stop      func()
}

func New(token string, engine *market.Engine, logger *slog.Logger, tickerChannelID string) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	return &Bot{
		session:   session,
		engine:    engine,
		log:       logger,
		channelID: tickerChannelID,
	}, nil
}

func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(b.onMessage)
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	if b.channelID != "" {
		events, unsubscribe := b.engine.Events().Subscribe()
		stopCh := make(chan struct{})
		b.stop = func() { close(stopCh) }
		go b.relayEvents(events, unsubscribe, stopCh)
	}
	b.log.Info("discord bot connected")
	return nil
}

func (b *Bot) Close() {
	if b.stop != nil {
		b.stop()
	}
	_ = b.session.Close()
}

func (b *Bot) relayEvents(events <-chan market.Event, unsubscribe func(), stop <-chan struct{}) {
	defer unsubscribe()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Event != market.EventStockPriceUpdated {
				continue
			}
			update, ok := ev.Data.(market.PriceUpdate)
			if !ok {
				continue
			}
			arrow := "▲"
			if update.NewPrice.LessThan(update.OldPrice) {
				arrow = "▼"
			}
			msg := fmt.Sprintf("%s **%s** %s → %s", arrow, update.Symbol, update.OldPrice, update.NewPrice)
			if _, err := b.session.ChannelMessageSend(b.channelID, msg); err != nil {
				b.log.Error("ticker message failed", "err", err)
			}
		}
	}
}

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	fields := strings.Fields(strings.TrimSpace(m.Content))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return
	}

	ctx := context.Background()
	reply := func(text string) {
		if _, err := s.ChannelMessageSend(m.ChannelID, text); err != nil {
			b.log.Error("discord reply failed", "err", err)
		}
	}

	switch fields[0] {
	case "!join":
		account, err := b.engine.OpenAccount(ctx, m.GuildID, m.Author.ID)
		if err != nil {
			reply(errText(err))
			return
		}
		reply(fmt.Sprintf("account opened with balance %s", account.Balance))
	case "!stocks":
		stocks, err := b.engine.ListStocks(ctx, m.GuildID)
		if err != nil {
			reply(errText(err))
			return
		}
		if len(stocks) == 0 {
			reply("no stocks listed yet")
			return
		}
		var sb strings.Builder
		for _, stock := range stocks {
			fmt.Fprintf(&sb, "`%s` %s - %s (%s)\n", stock.Symbol, stock.Name, stock.Price, stock.Status)
		}
		reply(sb.String())
	case "!price":
		if len(fields) < 2 {
			reply("usage: !price SYMBOL")
			return
		}
		stock, err := b.engine.GetStock(ctx, m.GuildID, fields[1])
		if err != nil {
			reply(errText(err))
			return
		}
		reply(fmt.Sprintf("**%s** %s", stock.Symbol, stock.Price))
	case "!buy", "!sell":
		if len(fields) < 3 {
			reply("usage: " + fields[0] + " SYMBOL SHARES")
			return
		}
		shares, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			reply("shares must be a whole number")
			return
		}
		side := market.SideBuy
		if fields[0] == "!sell" {
			side = market.SideSell
		}
		result, err := b.engine.ExecuteTrade(ctx, market.TradeInput{
			GuildID: m.GuildID,
			UserID:  m.Author.ID,
			Symbol:  fields[1],
			Side:    side,
			Shares:  shares,
		})
		if err != nil {
			reply(errText(err))
			return
		}
		reply(fmt.Sprintf("%s %d x %s @ %s - balance %s", result.Side, result.Shares, result.Symbol, result.Price, result.Balance))
	case "!portfolio":
		portfolio, err := b.engine.CalculatePortfolioValue(ctx, m.GuildID, m.Author.ID)
		if err != nil {
			reply(errText(err))
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "balance: %s\n", portfolio.Balance)
		for _, p := range portfolio.Positions {
			fmt.Fprintf(&sb, "`%s` %d @ %s (now %s, %s)\n", p.Symbol, p.Shares, p.AvgPrice, p.Price, p.Unrealized)
		}
		fmt.Fprintf(&sb, "total: %s", portfolio.Total)
		reply(sb.String())
	}
}

func errText(err error) string {
	return "⚠️ " + err.Error()
}
