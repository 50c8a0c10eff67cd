package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) OpenAccount(ctx context.Context, guildID, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts", map[string]any{
		"guild_id": guildID,
		"user_id":  userID,
	}, &out)
	return out, err
}

func (c *Client) ListStocks(ctx context.Context, guildID string) ([]map[string]any, error) {
	var out []map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/"+url.PathEscape(guildID), nil, &out)
	return out, err
}

func (c *Client) StockDetail(ctx context.Context, guildID, symbol string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/"+url.PathEscape(guildID)+"/"+url.PathEscape(symbol), nil, &out)
	return out, err
}

func (c *Client) Candles(ctx context.Context, guildID, symbol, timeframe string, limit int) ([]map[string]any, error) {
	var out []map[string]any
	path := fmt.Sprintf("/v1/stocks/%s/%s/candles?timeframe=%s&limit=%d",
		url.PathEscape(guildID), url.PathEscape(symbol), url.QueryEscape(timeframe), limit)
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) Trade(ctx context.Context, guildID, userID, symbol, side string, shares int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/trades", map[string]any{
		"guild_id": guildID,
		"user_id":  userID,
		"symbol":   symbol,
		"side":     side,
		"shares":   shares,
	}, &out)
	return out, err
}

func (c *Client) CreateOrder(ctx context.Context, guildID, userID, symbol, side string, shares int64, targetPrice string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/orders", map[string]any{
		"guild_id":     guildID,
		"user_id":      userID,
		"symbol":       symbol,
		"side":         side,
		"shares":       shares,
		"target_price": targetPrice,
	}, &out)
	return out, err
}

func (c *Client) ListOrders(ctx context.Context, guildID, userID string) ([]map[string]any, error) {
	var out []map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(guildID)+"/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *Client) CancelOrder(ctx context.Context, guildID, userID, orderID string) (map[string]any, error) {
	var out map[string]any
	path := "/v1/orders/" + url.PathEscape(guildID) + "/" + url.PathEscape(userID) + "/" + url.PathEscape(orderID)
	err := c.jsonRequest(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, guildID, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/portfolio/"+url.PathEscape(guildID)+"/"+url.PathEscape(userID), nil, &out)
	return out, err
}

func (c *Client) PublishNews(ctx context.Context, guildID, symbol, headline string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/news", map[string]any{
		"guild_id": guildID,
		"symbol":   symbol,
		"headline": headline,
	}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
