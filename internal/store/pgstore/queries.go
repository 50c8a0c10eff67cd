package pgstore

import (
	"context"
	"errors"
	"time"

	"marketbot/internal/market"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// queries implements market.Tx against either the pool or a transaction.
// Multi-statement operations (CancelLimitOrder) are only atomic when the
// receiver is transaction-backed; the engine always calls them inside
// Store.Transact.
type queries struct {
	q querier
}

// ---- stocks ----

const stockCols = `guild_id, symbol, name, price, volatility, status, total_shares, updated_at`

func scanStock(row pgx.Row) (market.Stock, error) {
	var s market.Stock
	err := row.Scan(&s.GuildID, &s.Symbol, &s.Name, &s.Price, &s.Volatility, &s.Status, &s.TotalShares, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, market.ErrStockNotFound
	}
	return s, err
}

func (d *queries) GetStockBySymbol(ctx context.Context, guildID, symbol string) (market.Stock, error) {
	return scanStock(d.q.QueryRow(ctx, `
		SELECT `+stockCols+`
		FROM market.stocks
		WHERE guild_id = $1 AND symbol = $2
	`, guildID, symbol))
}

func (d *queries) collectStocks(ctx context.Context, sql string, args ...any) ([]market.Stock, error) {
	rows, err := d.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Stock
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stock)
	}
	return out, rows.Err()
}

func (d *queries) GetAllActiveStocks(ctx context.Context) ([]market.Stock, error) {
	return d.collectStocks(ctx, `
		SELECT `+stockCols+`
		FROM market.stocks
		WHERE status = 'active'
		ORDER BY guild_id, symbol
	`)
}

func (d *queries) ListStocks(ctx context.Context, guildID string) ([]market.Stock, error) {
	return d.collectStocks(ctx, `
		SELECT `+stockCols+`
		FROM market.stocks
		WHERE guild_id = $1
		ORDER BY symbol
	`, guildID)
}

func (d *queries) CreateStock(ctx context.Context, stock market.Stock) error {
	cmd, err := d.q.Exec(ctx, `
		INSERT INTO market.stocks (guild_id, symbol, name, price, volatility, status, total_shares, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (guild_id, symbol) DO NOTHING
	`, stock.GuildID, stock.Symbol, stock.Name, stock.Price, stock.Volatility, stock.Status, stock.TotalShares, stock.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrStockExists
	}
	return nil
}

func (d *queries) UpdateStockPrice(ctx context.Context, guildID, symbol string, price decimal.Decimal) error {
	cmd, err := d.q.Exec(ctx, `
		UPDATE market.stocks
		SET price = $1, updated_at = now()
		WHERE guild_id = $2 AND symbol = $3
	`, price, guildID, symbol)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrStockNotFound
	}
	return nil
}

func (d *queries) UpdateStockStatus(ctx context.Context, guildID, symbol string, status market.StockStatus) error {
	cmd, err := d.q.Exec(ctx, `
		UPDATE market.stocks
		SET status = $1, updated_at = now()
		WHERE guild_id = $2 AND symbol = $3
	`, status, guildID, symbol)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrStockNotFound
	}
	return nil
}

// ---- accounts ----

func (d *queries) GetAccountByUser(ctx context.Context, guildID, userID string) (market.Account, error) {
	var a market.Account
	err := d.q.QueryRow(ctx, `
		SELECT guild_id, user_id, balance, frozen, trading_suspended, created_at
		FROM market.accounts
		WHERE guild_id = $1 AND user_id = $2
	`, guildID, userID).Scan(&a.GuildID, &a.UserID, &a.Balance, &a.Frozen, &a.TradingSuspended, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, market.ErrAccountNotFound
	}
	return a, err
}

func (d *queries) CreateAccount(ctx context.Context, account market.Account) error {
	cmd, err := d.q.Exec(ctx, `
		INSERT INTO market.accounts (guild_id, user_id, balance, frozen, trading_suspended, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (guild_id, user_id) DO NOTHING
	`, account.GuildID, account.UserID, account.Balance, account.Frozen, account.TradingSuspended, account.CreatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrAccountExists
	}
	return nil
}

func (d *queries) UpdateBalance(ctx context.Context, guildID, userID string, balance decimal.Decimal) error {
	cmd, err := d.q.Exec(ctx, `
		UPDATE market.accounts
		SET balance = $1
		WHERE guild_id = $2 AND user_id = $3
	`, balance, guildID, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrAccountNotFound
	}
	return nil
}

func (d *queries) SetAccountFrozen(ctx context.Context, guildID, userID string, frozen bool) error {
	cmd, err := d.q.Exec(ctx, `
		UPDATE market.accounts SET frozen = $1 WHERE guild_id = $2 AND user_id = $3
	`, frozen, guildID, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrAccountNotFound
	}
	return nil
}

func (d *queries) SetTradingSuspended(ctx context.Context, guildID, userID string, suspended bool) error {
	cmd, err := d.q.Exec(ctx, `
		UPDATE market.accounts SET trading_suspended = $1 WHERE guild_id = $2 AND user_id = $3
	`, suspended, guildID, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrAccountNotFound
	}
	return nil
}

// ---- holdings ----

func (d *queries) GetHolding(ctx context.Context, guildID, userID, symbol string) (market.Holding, error) {
	var h market.Holding
	err := d.q.QueryRow(ctx, `
		SELECT guild_id, user_id, symbol, shares, avg_price
		FROM market.holdings
		WHERE guild_id = $1 AND user_id = $2 AND symbol = $3
	`, guildID, userID, symbol).Scan(&h.GuildID, &h.UserID, &h.Symbol, &h.Shares, &h.AvgPrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return h, market.ErrHoldingNotFound
	}
	return h, err
}

func (d *queries) ListHoldings(ctx context.Context, guildID, userID string) ([]market.Holding, error) {
	rows, err := d.q.Query(ctx, `
		SELECT guild_id, user_id, symbol, shares, avg_price
		FROM market.holdings
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY symbol
	`, guildID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Holding
	for rows.Next() {
		var h market.Holding
		if err := rows.Scan(&h.GuildID, &h.UserID, &h.Symbol, &h.Shares, &h.AvgPrice); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (d *queries) UpdateHolding(ctx context.Context, holding market.Holding) error {
	if holding.Shares < 0 {
		return market.ErrInsufficientShares
	}
	if holding.Shares == 0 {
		_, err := d.q.Exec(ctx, `
			DELETE FROM market.holdings
			WHERE guild_id = $1 AND user_id = $2 AND symbol = $3
		`, holding.GuildID, holding.UserID, holding.Symbol)
		return err
	}
	_, err := d.q.Exec(ctx, `
		INSERT INTO market.holdings (guild_id, user_id, symbol, shares, avg_price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (guild_id, user_id, symbol)
		DO UPDATE SET shares = EXCLUDED.shares, avg_price = EXCLUDED.avg_price
	`, holding.GuildID, holding.UserID, holding.Symbol, holding.Shares, holding.AvgPrice)
	return err
}

// ---- trades and ledger ----

func (d *queries) AppendStockTransaction(ctx context.Context, t market.StockTransaction) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO market.stock_transactions (guild_id, user_id, symbol, side, shares, price, total_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.GuildID, t.UserID, t.Symbol, t.Side, t.Shares, t.Price, t.TotalAmount, t.CreatedAt)
	return err
}

func (d *queries) RecentTradesBySymbol(ctx context.Context, guildID, symbol string, window time.Duration) ([]market.StockTransaction, error) {
	rows, err := d.q.Query(ctx, `
		SELECT guild_id, user_id, symbol, side, shares, price, total_amount, created_at
		FROM market.stock_transactions
		WHERE guild_id = $1 AND symbol = $2 AND created_at > now() - $3::interval
		ORDER BY created_at
	`, guildID, symbol, window.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.StockTransaction
	for rows.Next() {
		var t market.StockTransaction
		if err := rows.Scan(&t.GuildID, &t.UserID, &t.Symbol, &t.Side, &t.Shares, &t.Price, &t.TotalAmount, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (d *queries) AppendLedger(ctx context.Context, entry market.LedgerEntry) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO market.ledger_entries (tx_group_id, guild_id, user_id, kind, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.TxGroupID, entry.GuildID, entry.UserID, entry.Kind, entry.Amount, entry.CreatedAt)
	return err
}

// ---- candlesticks ----

func (d *queries) GetCandlestick(ctx context.Context, guildID, symbol string, tf market.Timeframe, bucket time.Time) (market.Candle, error) {
	var c market.Candle
	err := d.q.QueryRow(ctx, `
		SELECT guild_id, symbol, timeframe, bucket, open, high, low, close, volume
		FROM market.candlesticks
		WHERE guild_id = $1 AND symbol = $2 AND timeframe = $3 AND bucket = $4
	`, guildID, symbol, tf, bucket).Scan(&c.GuildID, &c.Symbol, &c.Timeframe, &c.Bucket, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, market.ErrCandleNotFound
	}
	return c, err
}

func (d *queries) CreateCandlestick(ctx context.Context, c market.Candle) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO market.candlesticks (guild_id, symbol, timeframe, bucket, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (guild_id, symbol, timeframe, bucket) DO NOTHING
	`, c.GuildID, c.Symbol, c.Timeframe, c.Bucket, c.Open, c.High, c.Low, c.Close, c.Volume)
	return err
}

func (d *queries) UpdateCandlestick(ctx context.Context, c market.Candle) error {
	cmd, err := d.q.Exec(ctx, `
		UPDATE market.candlesticks
		SET high = $1, low = $2, close = $3, volume = $4
		WHERE guild_id = $5 AND symbol = $6 AND timeframe = $7 AND bucket = $8
	`, c.High, c.Low, c.Close, c.Volume, c.GuildID, c.Symbol, c.Timeframe, c.Bucket)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrCandleNotFound
	}
	return nil
}

func (d *queries) ListCandlesticks(ctx context.Context, guildID, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	rows, err := d.q.Query(ctx, `
		SELECT guild_id, symbol, timeframe, bucket, open, high, low, close, volume
		FROM market.candlesticks
		WHERE guild_id = $1 AND symbol = $2 AND timeframe = $3
		ORDER BY bucket DESC
		LIMIT $4
	`, guildID, symbol, tf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.GuildID, &c.Symbol, &c.Timeframe, &c.Bucket, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- limit orders ----

const orderCols = `id, guild_id, user_id, symbol, side, shares, target_price, status,
	total_amount, reserved_amount, expires_at, executed_price, executed_shares, created_at`

func scanOrder(row pgx.Row) (market.LimitOrder, error) {
	var o market.LimitOrder
	var executed decimal.NullDecimal
	err := row.Scan(&o.ID, &o.GuildID, &o.UserID, &o.Symbol, &o.Side, &o.Shares, &o.TargetPrice,
		&o.Status, &o.TotalAmount, &o.ReservedAmount, &o.ExpiresAt, &executed, &o.ExecutedShares, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return o, market.ErrOrderNotFound
	}
	if err != nil {
		return o, err
	}
	if executed.Valid {
		o.ExecutedPrice = &executed.Decimal
	}
	return o, nil
}

func (d *queries) collectOrders(ctx context.Context, sql string, args ...any) ([]market.LimitOrder, error) {
	rows, err := d.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []market.LimitOrder
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

func (d *queries) CreateLimitOrder(ctx context.Context, o market.LimitOrder) error {
	_, err := d.q.Exec(ctx, `
		INSERT INTO market.limit_orders
		    (id, guild_id, user_id, symbol, side, shares, target_price, status, total_amount, reserved_amount, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, o.ID, o.GuildID, o.UserID, o.Symbol, o.Side, o.Shares, o.TargetPrice, o.Status, o.TotalAmount, o.ReservedAmount, o.ExpiresAt, o.CreatedAt)
	return err
}

func (d *queries) GetLimitOrder(ctx context.Context, guildID, orderID string) (market.LimitOrder, error) {
	return scanOrder(d.q.QueryRow(ctx, `
		SELECT `+orderCols+`
		FROM market.limit_orders
		WHERE guild_id = $1 AND id = $2
	`, guildID, orderID))
}

func (d *queries) ListOrdersByUser(ctx context.Context, guildID, userID string) ([]market.LimitOrder, error) {
	return d.collectOrders(ctx, `
		SELECT `+orderCols+`
		FROM market.limit_orders
		WHERE guild_id = $1 AND user_id = $2
		ORDER BY created_at DESC
	`, guildID, userID)
}

func (d *queries) CheckPendingOrdersForSymbol(ctx context.Context, guildID, symbol string, price decimal.Decimal) ([]market.LimitOrder, error) {
	return d.collectOrders(ctx, `
		SELECT `+orderCols+`
		FROM market.limit_orders
		WHERE guild_id = $1 AND symbol = $2 AND status = 'pending'
		  AND ((side = 'buy' AND target_price >= $3) OR (side = 'sell' AND target_price <= $3))
		ORDER BY created_at
	`, guildID, symbol, price)
}

func (d *queries) PendingOrdersExpiredAsOf(ctx context.Context, now time.Time) ([]market.LimitOrder, error) {
	return d.collectOrders(ctx, `
		SELECT `+orderCols+`
		FROM market.limit_orders
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY created_at
	`, now)
}

func (d *queries) ExecuteLimitOrder(ctx context.Context, guildID, orderID string, executedPrice decimal.Decimal, executedShares int64) error {
	cmd, err := d.q.Exec(ctx, `
		UPDATE market.limit_orders
		SET status = 'executed', executed_price = $1, executed_shares = $2
		WHERE guild_id = $3 AND id = $4 AND status = 'pending'
	`, executedPrice, executedShares, guildID, orderID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return market.ErrOrderNotPending
	}
	return nil
}

// CancelLimitOrder releases the reservation (refund for buys, share
// restore for sells) and marks the order cancelled or expired. The
// release mirrors the reservation taken at order creation exactly.
func (d *queries) CancelLimitOrder(ctx context.Context, guildID, orderID string, status market.OrderStatus) error {
	if status != market.OrderCancelled && status != market.OrderExpired {
		return market.ErrInvalidOrder
	}
	order, err := scanOrder(d.q.QueryRow(ctx, `
		SELECT `+orderCols+`
		FROM market.limit_orders
		WHERE guild_id = $1 AND id = $2
		FOR UPDATE
	`, guildID, orderID))
	if err != nil {
		return err
	}
	if order.Status != market.OrderPending {
		return market.ErrOrderNotPending
	}

	switch order.Side {
	case market.SideBuy:
		if _, err := d.q.Exec(ctx, `
			UPDATE market.accounts
			SET balance = balance + $1
			WHERE guild_id = $2 AND user_id = $3
		`, order.ReservedAmount, order.GuildID, order.UserID); err != nil {
			return err
		}
	case market.SideSell:
		// Restored shares reuse the existing cost basis when the row
		// survives; a fully reserved position comes back at the target.
		if _, err := d.q.Exec(ctx, `
			INSERT INTO market.holdings (guild_id, user_id, symbol, shares, avg_price)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (guild_id, user_id, symbol)
			DO UPDATE SET shares = market.holdings.shares + EXCLUDED.shares
		`, order.GuildID, order.UserID, order.Symbol, order.Shares, order.TargetPrice); err != nil {
			return err
		}
	}

	_, err = d.q.Exec(ctx, `
		UPDATE market.limit_orders
		SET status = $1
		WHERE guild_id = $2 AND id = $3
	`, status, guildID, orderID)
	return err
}
