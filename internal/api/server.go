package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kjannette/p2p-trade-client/internal/actions"
	"github.com/kjannette/p2p-trade-client/internal/external"
	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/kjannette/p2p-trade-client/internal/models"
	"github.com/kjannette/p2p-trade-client/internal/repository"
	"github.com/kjannette/p2p-trade-client/internal/roles"
	"github.com/kjannette/p2p-trade-client/internal/tradewatch"
	"github.com/kjannette/p2p-trade-client/internal/validation"
	"github.com/rs/zerolog"
)

const maxQueryLimit = 1000

// Backend is the subset of the API client the view server reads through.
type Backend interface {
	Authenticated() bool
	ListOffers(ctx context.Context, f external.OfferFilter) ([]models.Offer, error)
	GetOffer(ctx context.Context, id int64) (*models.Offer, error)
	GetTrade(ctx context.Context, id int64) (*models.Trade, error)
	GetPrices(ctx context.Context) (*models.PricesResponse, error)
}

type NameResolver interface {
	DisplayNames(ctx context.Context, ids []int64) map[int64]string
}

type RoleResolver interface {
	Participants(ctx context.Context, t *models.Trade) roles.Participants
}

type Dispatcher interface {
	Do(ctx context.Context, t *models.Trade, role roles.Role, a actions.Action, p actions.Params) (*actions.Result, error)
	StartTrade(ctx context.Context, offer *models.Offer, amount float64) (*actions.StartResult, error)
}

// Watcher hands out live subscribers. release must be called once the
// caller is done reading.
type Watcher interface {
	Watch(tradeID int64, seed *models.Trade) (sub *tradewatch.Subscriber, release func(), err error)
}

type SnapshotHistory interface {
	History(ctx context.Context, tradeID int64, limit int) ([]models.TradeSnapshot, error)
}

type PriceHistory interface {
	GetSince(ctx context.Context, token, fiat string, since time.Time) ([]repository.PricePoint, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the server. Journal, Prices and DB are optional.
type Deps struct {
	Backend Backend
	Names   NameResolver
	Roles   RoleResolver
	Actions Dispatcher
	Watcher Watcher
	Journal SnapshotHistory
	Prices  PriceHistory
	DB      Pinger
}

type Server struct {
	deps       Deps
	httpServer *http.Server
	apiKey     string
	log        zerolog.Logger
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string) *Server {
	s := &Server{
		deps:   deps,
		apiKey: apiKey,
		log:    logging.Component("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check (no auth required)
	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/offers", s.handleListOffers)
		r.Get("/offers/{id}", s.handleGetOffer)
		r.Post("/offers/{id}/trades", s.handleStartTrade)

		r.Get("/trades/{id}", s.handleGetTrade)
		r.Get("/trades/{id}/events", s.handleTradeEvents)
		r.Get("/trades/{id}/history", s.handleTradeHistory)
		r.Post("/trades/{id}/actions/{action}", s.handleAction)

		r.Get("/prices", s.handlePrices)
		r.Get("/prices/history", s.handlePriceHistory)
	})

	handler := s.authMiddleware(corsMiddleware(r, corsOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).
		Bool("auth", s.apiKey != "").
		Msgf("view server started on http://localhost%s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- request helpers ---

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps client and backend errors to a status code.
func (s *Server) writeFailure(w http.ResponseWriter, op string, err error) {
	var (
		verr    *validation.ValidationError
		httpErr *external.HTTPError
		status  int
	)
	switch {
	case errors.Is(err, external.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, actions.ErrActionNotAllowed):
		status = http.StatusConflict
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, validation.ErrTradeBlocked):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound:
		status = http.StatusNotFound
	default:
		status = http.StatusBadGateway
	}
	if status >= 500 {
		s.log.Error().Err(err).Str("op", op).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Str("op", op).Int("status", status).Msg("request rejected")
	}
	writeError(w, status, err.Error())
}
