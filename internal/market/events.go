package market

import (
	"sync"

	"github.com/shopspring/decimal"
)

const (
	EventStockPriceUpdated = "stock_price_updated"
	EventTradeExecuted     = "trade_executed"
	EventLimitOrderFilled  = "limit_order_executed"
)

// Event is the {event, data} pair delivered to every subscriber.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type PriceUpdate struct {
	GuildID  string          `json:"guild_id"`
	Symbol   string          `json:"symbol"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
	Volume   int64           `json:"volume"`
}

// Bus fans events out to subscribers. Delivery is at-most-once: a
// subscriber whose channel is full misses the event rather than
// blocking the publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and an unsubscribe func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
