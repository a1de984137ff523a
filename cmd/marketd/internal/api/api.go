package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/kimsuhan/cex-api/cmd/marketd/internal/gateway"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/hub"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/quotes"
	"github.com/kimsuhan/cex-api/cmd/marketd/internal/store"
)

// Server exposes the query surface over plain JSON and upgrades /ws
// connections into gateway sessions.
type Server struct {
	quotes       *quotes.Service
	store        store.PriceStore
	hub          *hub.Hub
	logger       *zap.Logger
	validSymbols map[string]bool
}

func NewServer(q *quotes.Service, priceStore store.PriceStore, h *hub.Hub, logger *zap.Logger, symbols []string) *Server {
	valid := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		valid[s] = true
	}
	return &Server{
		quotes:       q,
		store:        priceStore,
		hub:          h,
		logger:       logger,
		validSymbols: valid,
	}
}

func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/price", s.handlePrice)
	mux.HandleFunc("/prices", s.handlePrices)
	mux.HandleFunc("/chart", s.handleChart)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func symbolParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	// 0 means "no quote known", by contract
	price := s.quotes.CurrentPrice(r.Context(), symbol)
	writeJSON(w, map[string]float64{"price": price})
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.quotes.AllPrices(r.Context())
	if err != nil {
		s.logger.Error("Prices Query Error", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, prices)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}

	points, err := s.quotes.ChartPrices(r.Context(), symbol)
	if err != nil {
		s.logger.Error("Chart Query Error", zap.String("symbol", symbol), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, points)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	client := gateway.NewClient(conn, s.hub, s.logger, s.validSymbols)
	client.Start()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
