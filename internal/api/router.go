package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"bankcore/internal/domain"
)

// Engine is the transactional operation surface the API exposes.
type Engine interface {
	MakePayment(ctx context.Context, amount decimal.Decimal, payerID, receiverID int64) error
	TopUp(ctx context.Context, accountID int64, amount decimal.Decimal) error
	IssueCard(ctx context.Context, ownerID, accountID int64, network domain.CardNetwork) (string, error)
	DeleteAccount(ctx context.Context, id int64) error
	DeletePerson(ctx context.Context, id int64) error
}

// Store is the repository surface the API serves from: reads, plus the
// status and profile updates that move no money and so bypass the
// transaction engine.
type Store interface {
	Ping(ctx context.Context) error
	AccountByID(ctx context.Context, id int64) (*domain.Account, error)
	ListAccountsByOwner(ctx context.Context, ownerID int64) ([]domain.Account, error)
	ListPaymentsByAccount(ctx context.Context, accountID int64, limit int) ([]domain.Payment, error)
	ListCardsByAccount(ctx context.Context, accountID int64) ([]domain.Card, error)
	SystemIncome(ctx context.Context) (decimal.Decimal, error)
	PersonByID(ctx context.Context, id int64) (*domain.Person, error)
	UpdatePersonProfile(ctx context.Context, p *domain.Person, expectedHash string) error
	UpdateAccountStatus(ctx context.Context, id int64, status domain.AccountStatus) error
	UpdateCardStatus(ctx context.Context, id string, status domain.CardStatus) error
}

// Server holds the HTTP server dependencies.
type Server struct {
	engine Engine
	store  Store
}

// NewServer creates a new API server.
func NewServer(engine Engine, store Store) *Server {
	return &Server{engine: engine, store: store}
}

// Router returns the configured chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", s.handleHealth)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Transactional operations
		r.Post("/payments", s.handleMakePayment)
		r.Post("/cards", s.handleIssueCard)
		r.Post("/accounts/{accountId}/topup", s.handleTopUp)
		r.Delete("/accounts/{accountId}", s.handleDeleteAccount)
		r.Delete("/persons/{personId}", s.handleDeletePerson)

		// Status and profile changes, no money movement
		r.Post("/accounts/{accountId}/status", s.handleSetAccountStatus)
		r.Post("/cards/{cardId}/status", s.handleSetCardStatus)
		r.Put("/persons/{personId}", s.handleUpdatePerson)

		// Read-only query endpoints
		r.Get("/accounts/{accountId}", s.handleGetAccount)
		r.Get("/accounts/{accountId}/payments", s.handleListPayments)
		r.Get("/accounts/{accountId}/cards", s.handleListCards)
		r.Get("/persons/{personId}", s.handleGetPerson)
		r.Get("/persons/{personId}/accounts", s.handleListAccounts)
		r.Get("/income", s.handleIncome)
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
