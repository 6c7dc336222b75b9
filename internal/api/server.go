// Package api provides the read-only HTTP surface of the daemon: health,
// cycle status, recent reservations and transactions, wallet lookups, and
// Prometheus metrics. All writes go through the engine, never through HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/studiomate/studiod/internal/app/engine"
	"github.com/studiomate/studiod/internal/domain"
	"github.com/studiomate/studiod/internal/infra/sqlite"
)

const defaultListLimit = 50

// Server serves the operator API.
type Server struct {
	db             *sqlite.DB
	engine         *engine.Engine
	version        string
	metricsEnabled bool
}

// NewServer creates the API server over the store and engine.
func NewServer(db *sqlite.DB, eng *engine.Engine, version string) *Server {
	return &Server{db: db, engine: eng, version: version}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/reservations", s.handleReservations)
		r.Get("/transactions", s.handleTransactions)
		r.Get("/wallets/{phone}", s.handleWallets)
		r.Get("/wallets/{phone}/ledger", s.handleLedger)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// handleStatus returns the daemon version and the last cycle report.
// GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.engine.LastReport()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    s.version,
		"last_cycle": report,
	})
}

// handleReservations lists recent reservations, optionally filtered.
// GET /api/reservations?status=APPLIED&limit=20
func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request) {
	var (
		rows []domain.Reservation
		err  error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		rows, err = s.db.ListByStatus(domain.ReservationStatus(status))
	} else {
		rows, err = s.db.ListRecentReservations(queryLimit(r))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": rows})
}

// handleTransactions lists recent bank transactions.
// GET /api/transactions?limit=20
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.ListRecentTransactions(queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": rows})
}

// handleWallets returns a customer's coupon wallets.
// GET /api/wallets/{phone}
func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")
	wallets, err := s.db.ListWallets(phone)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(wallets) == 0 {
		writeError(w, http.StatusNotFound, "no wallet for "+phone)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": wallets})
}

// handleLedger returns the full ledger of a customer's wallet.
// GET /api/wallets/{phone}/ledger?category=IMPORTED
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	var (
		wallet *domain.CouponWallet
		err    error
	)
	if category := r.URL.Query().Get("category"); category != "" {
		wallet, err = s.db.GetWallet(phone, domain.RoomCategory(category))
	} else {
		wallet, err = s.db.GetWalletAny(phone)
	}
	if errors.Is(err, domain.ErrWalletNotFound) {
		writeError(w, http.StatusNotFound, "no wallet for "+phone)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries, err := s.db.LedgerEntries(wallet.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"wallet": wallet,
		"ledger": entries,
	})
}

func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}
