package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fincontrol/internal/cache"
	"fincontrol/internal/core"
	"fincontrol/internal/ledger"
	"fincontrol/internal/log"
	"fincontrol/internal/middleware/ratelimit"
	"fincontrol/internal/middleware/security"
	"fincontrol/internal/middleware/trace"
	"fincontrol/internal/services"
)

// RecurringSyncer creates the recurring occurrences of a month.
type RecurringSyncer interface {
	Sync(ctx context.Context, target core.Period) (services.SyncResult, error)
}

// Advisor produces financial advice for a ledger.
type Advisor interface {
	Advise(ctx context.Context, ledger []core.Transaction, balance decimal.Decimal) (string, error)
}

// Deps are the collaborators of the API server. Store is required; a nil
// Summaries gets a default cache, a nil Advisor disables advice.
type Deps struct {
	Store     *ledger.Store
	Summaries *cache.SummaryCache
	Recurring RecurringSyncer
	Advisor   Advisor
	Logger    *log.Logger

	// RateLimitPerMinute bounds mutating requests per client IP.
	RateLimitPerMinute int
	// Now defaults to time.Now; it picks the period when none is given.
	Now func() time.Time
}

type Server struct {
	http.Server
	store     *ledger.Store
	summaries *cache.SummaryCache
	recurring RecurringSyncer
	advisor   Advisor
	logger    *log.Logger
	now       func() time.Time

	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	cacheManager *cache.Manager
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. Call Shutdown to stop it and its background routines.
func NewServer(addr string, deps Deps) *Server {
	s := &Server{
		store:     deps.Store,
		summaries: deps.Summaries,
		recurring: deps.Recurring,
		advisor:   deps.Advisor,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if s.logger == nil {
		s.logger = log.Default(log.ComponentHTTP)
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.summaries == nil {
		s.summaries = cache.NewSummaryCache(128, 5*time.Minute)
	}

	s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.RateLimitPerMinute})
	s.tracer = trace.NewMiddleware(extractClientIP, s.logger)
	s.cacheManager = cache.NewManager()
	s.cacheManager.Register(s.summaries)
	s.cacheManager.StartCleanup(10 * time.Minute)

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = security.NewHeadersMiddleware(security.APIHeadersConfig()).Middleware(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = s.tracer.Middleware(handler)
	handler = log.Middleware(s.logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/summary", s.handleSummary)

	mux.HandleFunc("GET /api/transactions", s.handleListTransactions)
	mux.Handle("POST /api/transactions", s.mutating(s.handleCreateTransaction))
	mux.Handle("PUT /api/transactions/{id}", s.mutating(s.handleEditTransaction))
	mux.Handle("POST /api/transactions/{id}/toggle", s.mutating(s.handleToggleSettled))
	mux.Handle("DELETE /api/transactions/{id}", s.mutating(s.handleDeleteTransaction))
	mux.Handle("POST /api/installments", s.mutating(s.handleCreateInstallments))

	mux.HandleFunc("GET /api/cards", s.handleListCards)
	mux.Handle("POST /api/cards", s.mutating(s.handleCreateCard))
	mux.Handle("DELETE /api/cards/{id}", s.mutating(s.handleDeleteCard))

	mux.HandleFunc("GET /api/categories", s.handleListCategories)
	mux.HandleFunc("GET /api/categories/suggest", s.handleSuggestCategory)
	mux.Handle("POST /api/categories/rename", s.mutating(s.handleRenameCategory))
	mux.Handle("DELETE /api/categories/{name}", s.mutating(s.handleDeleteCategory))

	mux.Handle("POST /api/recurring/sync", s.mutating(s.handleRecurringSync))
	mux.Handle("POST /api/advice", s.mutating(s.handleAdvice))
}

// mutating rate limits a handler per client IP.
func (s *Server) mutating(h http.HandlerFunc) http.Handler {
	return s.limiter.Middleware(extractClientIP, s.onRateLimit)(h)
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, extractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, please try again later").Write(w)
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// Close stops background routines without serving. It is meant for servers
// that never called ListenAndServe, such as in tests.
func (s *Server) Close() {
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.limiter.Stop()
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	OK(map[string]string{"status": "ok"}).Write(w)
}

// handleReady reports ready once the store holds a loaded ledger.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil || s.store.Version() == 0 {
		ErrorResponse(http.StatusServiceUnavailable, "ledger not loaded").Write(w)
		return
	}
	OK(map[string]string{"status": "ready"}).Write(w)
}
