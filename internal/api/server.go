package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketbot/internal/config"
	"marketbot/internal/market"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

type Server struct {
	cfg    config.ServerConfig
	log    *slog.Logger
	engine *market.Engine
	mux    *chi.Mux
}

func New(cfg config.ServerConfig, logger *slog.Logger, engine *market.Engine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		engine: engine,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", s.handleOpenAccount)
		r.Get("/accounts/{guild}/{user}", s.handleGetAccount)
		r.Get("/portfolio/{guild}/{user}", s.handlePortfolio)

		r.Get("/stocks/{guild}", s.handleListStocks)
		r.Get("/stocks/{guild}/{symbol}", s.handleGetStock)
		r.Get("/stocks/{guild}/{symbol}/candles", s.handleCandles)

		r.Post("/trades", s.handleTrade)

		r.Post("/orders", s.handleCreateOrder)
		r.Get("/orders/{guild}/{user}", s.handleListOrders)
		r.Delete("/orders/{guild}/{user}/{id}", s.handleCancelOrder)

		r.Post("/news", s.handleNews)

		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/admin/stocks", s.handleCreateStock)
			r.Post("/admin/stocks/{guild}/{symbol}/status", s.handleStockStatus)
			r.Post("/admin/accounts/{guild}/{user}/freeze", s.handleFreeze)
			r.Post("/admin/accounts/{guild}/{user}/suspend", s.handleSuspend)
			r.Post("/admin/accounts/{guild}/{user}/adjust", s.handleAdjust)
		})
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" || r.Header.Get("X-Admin-Token") != s.cfg.AdminToken {
			writeError(w, http.StatusUnauthorized, "admin token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GuildID string `json:"guild_id"`
		UserID  string `json:"user_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.GuildID == "" || in.UserID == "" {
		writeError(w, http.StatusBadRequest, "guild_id and user_id are required")
		return
	}
	account, err := s.engine.OpenAccount(r.Context(), in.GuildID, in.UserID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.engine.GetAccount(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "user"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	portfolio, err := s.engine.CalculatePortfolioValue(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "user"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

func (s *Server) handleListStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.engine.ListStocks(r.Context(), chi.URLParam(r, "guild"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stocks)
}

func (s *Server) handleGetStock(w http.ResponseWriter, r *http.Request) {
	stock, err := s.engine.GetStock(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	tf := market.Timeframe(r.URL.Query().Get("timeframe"))
	if tf == "" {
		tf = market.TF5m
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	candles, err := s.engine.Candles(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "symbol"), tf, limit)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GuildID string `json:"guild_id"`
		UserID  string `json:"user_id"`
		Symbol  string `json:"symbol"`
		Side    string `json:"side"`
		Shares  int64  `json:"shares"`
		Price   string `json:"price,omitempty"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := parseOptionalPrice(in.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.engine.ExecuteTrade(r.Context(), market.TradeInput{
		GuildID: in.GuildID,
		UserID:  in.UserID,
		Symbol:  in.Symbol,
		Side:    market.TradeSide(strings.ToLower(in.Side)),
		Shares:  in.Shares,
		Price:   price,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GuildID     string     `json:"guild_id"`
		UserID      string     `json:"user_id"`
		Symbol      string     `json:"symbol"`
		Side        string     `json:"side"`
		Shares      int64      `json:"shares"`
		TargetPrice string     `json:"target_price"`
		ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := decimal.NewFromString(in.TargetPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid target_price: %v", err))
		return
	}
	input := market.LimitOrderInput{
		GuildID:     in.GuildID,
		UserID:      in.UserID,
		Symbol:      in.Symbol,
		Side:        market.TradeSide(strings.ToLower(in.Side)),
		Shares:      in.Shares,
		TargetPrice: target,
	}
	if in.ExpiresAt != nil {
		input.ExpiresAt = *in.ExpiresAt
	}
	order, err := s.engine.CreateLimitOrder(r.Context(), input)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.ListOrders(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "user"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	err := s.engine.CancelLimitOrder(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "user"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GuildID  string `json:"guild_id"`
		Symbol   string `json:"symbol"`
		Headline string `json:"headline"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.engine.PublishNews(r.Context(), in.GuildID, in.Symbol, in.Headline)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateStock(w http.ResponseWriter, r *http.Request) {
	var in struct {
		GuildID     string  `json:"guild_id"`
		Symbol      string  `json:"symbol"`
		Name        string  `json:"name"`
		Price       string  `json:"price"`
		Volatility  float64 `json:"volatility"`
		TotalShares int64   `json:"total_shares"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := decimal.NewFromString(in.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid price: %v", err))
		return
	}
	stock, err := s.engine.CreateStock(r.Context(), market.Stock{
		GuildID:     in.GuildID,
		Symbol:      in.Symbol,
		Name:        in.Name,
		Price:       price,
		Volatility:  in.Volatility,
		TotalShares: in.TotalShares,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stock)
}

func (s *Server) handleStockStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	err := s.engine.SetStockStatus(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "symbol"), market.StockStatus(in.Status))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": in.Status})
}

func (s *Server) handleFreeze(w http.ResponseWriter, r *http.Request) {
	s.handleAccountFlag(w, r, s.engine.SetAccountFrozen)
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	s.handleAccountFlag(w, r, s.engine.SetTradingSuspended)
}

func (s *Server) handleAccountFlag(w http.ResponseWriter, r *http.Request, set func(ctx context.Context, guildID, userID string, enabled bool) error) {
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := set(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "user"), in.Enabled); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"enabled": in.Enabled})
}

func (s *Server) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Delta  string `json:"delta"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	delta, err := decimal.NewFromString(in.Delta)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid delta: %v", err))
		return
	}
	account, err := s.engine.AdjustBalance(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "user"), delta, in.Reason)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, market.ErrStockNotFound),
		errors.Is(err, market.ErrAccountNotFound),
		errors.Is(err, market.ErrOrderNotFound),
		errors.Is(err, market.ErrHoldingNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrTradingHalted),
		errors.Is(err, market.ErrTradingSuspended),
		errors.Is(err, market.ErrAccountFrozen):
		return http.StatusForbidden
	case errors.Is(err, market.ErrAccountExists),
		errors.Is(err, market.ErrStockExists),
		errors.Is(err, market.ErrOrderNotPending):
		return http.StatusConflict
	case errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, market.ErrInsufficientShares),
		errors.Is(err, market.ErrInvalidOrder),
		errors.Is(err, market.ErrInvalidSymbol):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func parseOptionalPrice(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Decimal{}, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid price: %w", err)
	}
	return price, nil
}
