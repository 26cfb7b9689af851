// Package api provides the HTTP handlers for the paper-trading
// portfolio: trade execution, resting orders, valuation, analytics,
// and price ingestion.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/finiq/paper-engine/internal/model"
	"github.com/finiq/paper-engine/internal/portfolio"
	"github.com/finiq/paper-engine/internal/quote"
	"github.com/finiq/paper-engine/internal/risk"
	"github.com/finiq/paper-engine/internal/store"
)

// Service wires the portfolio engine and quote feed to HTTP.
type Service struct {
	engine *portfolio.Engine
	feed   *quote.Feed
	wsHub  *WSHub // optional; nil disables broadcasts
}

// NewService creates the HTTP service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(engine *portfolio.Engine, feed *quote.Feed, hub *WSHub) *Service {
	return &Service{engine: engine, feed: feed, wsHub: hub}
}

// Routes mounts every portfolio endpoint on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/portfolio", s.GetPortfolio)
	r.Post("/portfolio/buy", s.Buy)
	r.Post("/portfolio/sell", s.Sell)
	r.Post("/portfolio/short", s.Short)
	r.Post("/portfolio/cover", s.Cover)
	r.Post("/portfolio/limit-order", s.PlaceLimitOrder)
	r.Post("/portfolio/stop-order", s.PlaceStopOrder)
	r.Get("/portfolio/orders", s.ListOrders)
	r.Post("/portfolio/orders/{orderID}/cancel", s.CancelOrder)
	r.Get("/portfolio/transactions", s.GetTransactions)
	r.Get("/portfolio/equity-curve", s.GetEquityCurve)
	r.Get("/portfolio/analytics", s.GetAnalytics)
	r.Put("/portfolio/settings", s.UpdateSettings)
	r.Post("/portfolio/reset", s.Reset)
	r.Get("/prices", s.GetPrices)
	r.Post("/prices", s.PostPrices)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for the four trade endpoints. Price is
// optional; when omitted the last quoted price for the ticker is used.
type TradeRequest struct {
	Ticker    string          `json:"ticker"`
	Shares    decimal.Decimal `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	AssetType string          `json:"asset_type"`
}

// OrderRequest is the JSON body for placing a resting order.
type OrderRequest struct {
	Ticker      string          `json:"ticker"`
	Side        model.OrderSide `json:"side"`
	Shares      decimal.Decimal `json:"shares"`
	TargetPrice decimal.Decimal `json:"target_price"`
	AssetType   string          `json:"asset_type"`
	TTLHours    int             `json:"ttl_hours"`
}

// SettingsRequest is the JSON body for PUT /portfolio/settings.
// Omitted fields keep their current value.
type SettingsRequest struct {
	SlippageBps        *decimal.Decimal `json:"slippage_bps"`
	CommissionPerShare *decimal.Decimal `json:"commission_per_share"`
}

// PricesRequest is the JSON body for POST /prices.
type PricesRequest struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}

// PricesResponse reports the outcome of a price push.
type PricesResponse struct {
	Updated int                   `json:"updated"`
	Fills   []portfolio.OrderFill `json:"fills"`
}

// PortfolioResponse is the GET /portfolio payload: account valuation
// plus the order-book state as of this read.
type PortfolioResponse struct {
	*portfolio.Summary
	PendingOrders []model.PendingOrder  `json:"pending_orders"`
	FilledOrders  []portfolio.OrderFill `json:"filled_orders"`
}

// --- HTTP Handlers ---

// GetPortfolio handles GET /api/v1/portfolio
// A read is a full valuation cycle: sweep the order book against the
// current feed, value the account, record the equity point and daily
// snapshot, and return the summary with the surviving pending orders
// and any fills the sweep produced.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prices := s.feed.Snapshot()

	fills, err := s.engine.CheckAndFill(ctx, prices)
	if err != nil {
		slog.Error("order sweep failed during portfolio read", "error", err)
	}
	if fills == nil {
		fills = []portfolio.OrderFill{}
	}

	summary, err := s.engine.Summary(ctx, prices)
	if err != nil {
		writeError(w, "failed to compute portfolio summary", http.StatusInternalServerError)
		return
	}
	if err := s.engine.RecordEquityPoint(ctx, summary.TotalValue, summary.Cash, summary.PositionsValue); err != nil {
		slog.Error("failed to record equity point", "error", err)
	}
	if err := s.engine.SaveDailySnapshot(ctx, summary.TotalValue, summary.Cash, summary.PositionsValue); err != nil {
		slog.Error("failed to save daily snapshot", "error", err)
	}

	pending, err := s.engine.PendingOrders(ctx)
	if err != nil {
		slog.Error("failed to list pending orders", "error", err)
	}
	if pending == nil {
		pending = []model.PendingOrder{}
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{
		Summary:       summary,
		PendingOrders: pending,
		FilledOrders:  fills,
	})
}

// Buy handles POST /api/v1/portfolio/buy
func (s *Service) Buy(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, func(req TradeRequest, price decimal.Decimal) (*portfolio.Fill, error) {
		return s.engine.Buy(r.Context(), req.Ticker, req.Shares, price, req.AssetType)
	})
}

// Sell handles POST /api/v1/portfolio/sell
func (s *Service) Sell(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, func(req TradeRequest, price decimal.Decimal) (*portfolio.Fill, error) {
		return s.engine.Sell(r.Context(), req.Ticker, req.Shares, price)
	})
}

// Short handles POST /api/v1/portfolio/short
func (s *Service) Short(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, func(req TradeRequest, price decimal.Decimal) (*portfolio.Fill, error) {
		return s.engine.ShortSell(r.Context(), req.Ticker, req.Shares, price, req.AssetType)
	})
}

// Cover handles POST /api/v1/portfolio/cover
func (s *Service) Cover(w http.ResponseWriter, r *http.Request) {
	s.executeTrade(w, r, func(req TradeRequest, price decimal.Decimal) (*portfolio.Fill, error) {
		return s.engine.CoverShort(r.Context(), req.Ticker, req.Shares, price)
	})
}

// executeTrade decodes the trade request, resolves the price, runs the
// engine operation, and writes the fill.
func (s *Service) executeTrade(w http.ResponseWriter, r *http.Request, exec func(TradeRequest, decimal.Decimal) (*portfolio.Fill, error)) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	price := req.Price
	if price.IsZero() {
		quoted, ok := s.feed.Get(req.Ticker)
		if !ok {
			writeError(w, "no price available for "+req.Ticker, http.StatusBadRequest)
			return
		}
		price = quoted
	}

	fill, err := exec(req, price)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if s.wsHub != nil {
		msg := WSMessage{
			Type:   "trade_executed",
			Ticker: fill.Ticker,
			Action: string(fill.Action),
			Shares: fill.Shares.String(),
			Price:  fill.Price.String(),
			Cash:   fill.RemainingCash.String(),
		}
		if fill.PnL != nil {
			msg.PnL = fill.PnL.String()
		}
		s.wsHub.Broadcast(msg)
	}

	writeJSON(w, http.StatusOK, fill)
}

// PlaceLimitOrder handles POST /api/v1/portfolio/limit-order
func (s *Service) PlaceLimitOrder(w http.ResponseWriter, r *http.Request) {
	s.placeOrder(w, r, s.engine.PlaceLimitOrder)
}

// PlaceStopOrder handles POST /api/v1/portfolio/stop-order
func (s *Service) PlaceStopOrder(w http.ResponseWriter, r *http.Request) {
	s.placeOrder(w, r, s.engine.PlaceStopOrder)
}

func (s *Service) placeOrder(w http.ResponseWriter, r *http.Request, place func(ctx context.Context, ticker string, side model.OrderSide, shares, target decimal.Decimal, assetType string, ttl time.Duration) (*model.PendingOrder, error)) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ttl := time.Duration(req.TTLHours) * time.Hour
	ord, err := place(r.Context(), req.Ticker, req.Side, req.Shares, req.TargetPrice, req.AssetType, ttl)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusCreated, ord)
}

// ListOrders handles GET /api/v1/portfolio/orders
func (s *Service) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.engine.PendingOrders(r.Context())
	if err != nil {
		writeError(w, "failed to list orders", http.StatusInternalServerError)
		return
	}
	if orders == nil {
		orders = []model.PendingOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// CancelOrder handles POST /api/v1/portfolio/orders/{orderID}/cancel
func (s *Service) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	ord, err := s.engine.CancelOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

// GetTransactions handles GET /api/v1/portfolio/transactions?limit=N
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.engine.Transactions(r.Context(), limitParam(r, 100))
	if err != nil {
		writeError(w, "failed to list transactions", http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

// GetEquityCurve handles GET /api/v1/portfolio/equity-curve?limit=N
func (s *Service) GetEquityCurve(w http.ResponseWriter, r *http.Request) {
	points, err := s.engine.EquityCurve(r.Context(), limitParam(r, 0))
	if err != nil {
		writeError(w, "failed to load equity curve", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.EquityPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

// GetAnalytics handles GET /api/v1/portfolio/analytics
func (s *Service) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Analytics(r.Context(), s.feed.Snapshot())
	if err != nil {
		writeError(w, "failed to compute analytics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// UpdateSettings handles PUT /api/v1/portfolio/settings
func (s *Service) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SlippageBps == nil && req.CommissionPerShare == nil {
		writeError(w, "no settings provided", http.StatusBadRequest)
		return
	}

	if err := s.engine.UpdateSettings(r.Context(), req.SlippageBps, req.CommissionPerShare); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	acct, err := s.engine.Account(r.Context())
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Reset handles POST /api/v1/portfolio/reset
func (s *Service) Reset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(r.Context()); err != nil {
		writeError(w, "reset failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "reset",
		"cash":   s.engine.InitialCash().String(),
	})
}

// GetPrices handles GET /api/v1/prices
func (s *Service) GetPrices(w http.ResponseWriter, r *http.Request) {
	quotes := s.feed.Quotes()
	if quotes == nil {
		quotes = []quote.Quote{}
	}
	writeJSON(w, http.StatusOK, quotes)
}

// PostPrices handles POST /api/v1/prices
// Records the quotes, then sweeps the order book against the updated
// feed so resting orders trigger off the freshest prints.
func (s *Service) PostPrices(w http.ResponseWriter, r *http.Request) {
	var req PricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Prices) == 0 {
		writeError(w, "prices are required", http.StatusBadRequest)
		return
	}

	for ticker, price := range req.Prices {
		s.feed.Set(ticker, price)
	}

	fills, err := s.engine.CheckAndFill(r.Context(), s.feed.Snapshot())
	if err != nil {
		writeError(w, "order sweep failed", http.StatusInternalServerError)
		return
	}
	if fills == nil {
		fills = []portfolio.OrderFill{}
	}

	if s.wsHub != nil {
		for _, f := range fills {
			if f.Fill == nil {
				continue
			}
			s.wsHub.Broadcast(WSMessage{
				Type:    "order_filled",
				OrderID: f.Order.ID,
				Ticker:  f.Fill.Ticker,
				Action:  string(f.Fill.Action),
				Shares:  f.Fill.Shares.String(),
				Price:   f.Fill.Price.String(),
			})
		}
	}

	writeJSON(w, http.StatusOK, PricesResponse{Updated: len(req.Prices), Fills: fills})
}

// --- helpers ---

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, portfolio.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, portfolio.ErrInsufficientPosition),
		errors.Is(err, risk.ErrPositionLimitExceeded),
		errors.Is(err, risk.ErrExposureLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, portfolio.ErrOrderNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
