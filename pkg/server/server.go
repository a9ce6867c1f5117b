package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/ohmage/ohmage-oauth/pkg/db"
	"github.com/ohmage/ohmage-oauth/pkg/flow"
	"github.com/ohmage/ohmage-oauth/pkg/handlerutils"
	"github.com/ohmage/ohmage-oauth/pkg/metrics"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/authorization"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/authorize"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/authtoken"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/clients"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/codes"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/consent"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/token"
	"github.com/ohmage/ohmage-oauth/pkg/oauth/validate"
	"github.com/ohmage/ohmage-oauth/pkg/ratelimit"
	"github.com/ohmage/ohmage-oauth/pkg/registry"
	"github.com/ohmage/ohmage-oauth/pkg/scope"
	"github.com/ohmage/ohmage-oauth/pkg/types"
	"github.com/ohmage/ohmage-oauth/pkg/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	consentPath       = "/oauth/Authorize.html"
	authorizationPath = "/oauth/authorization"

	registryCacheTTL = time.Minute
	cleanupInterval  = time.Hour
)

type Server struct {
	db              *db.Store
	redis           *registry.Redis
	users           *users.Authenticator
	flow            *flow.Service
	metrics         *metrics.Metrics
	metricsRegistry *prometheus.Registry
	rateLimiter     *ratelimit.RateLimiter
	logger          *zap.Logger
	config          *types.Config
	accessLog       io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(ctx context.Context, config *types.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	databaseDSN := config.DatabaseDSN

	// Log database configuration
	if databaseDSN == "" {
		logger.Info("DATABASE_DSN not set, using SQLite database at data/ohmage_oauth.db")
	} else if strings.HasPrefix(databaseDSN, "postgres://") || strings.HasPrefix(databaseDSN, "postgresql://") {
		logger.Info("Using PostgreSQL database")
	} else {
		logger.Info("Using SQLite database", zap.String("path", databaseDSN))
	}

	if config.Port == "" {
		config.Port = "8080"
	}

	// Initialize database
	store, err := db.New(databaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := &Server{
		db:              store,
		users:           users.NewAuthenticator(store),
		metricsRegistry: prometheus.NewRegistry(),
		logger:          logger,
		config:          config,
		accessLog:       os.Stdout,
	}

	schemas, err := s.newRegistry(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	s.metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.New(s.metricsRegistry)

	if config.RateLimit > 0 {
		s.rateLimiter = ratelimit.NewRateLimiter(config.RateLimit, config.RateBurst)
	}

	s.flow = flow.NewService(flow.Deps{
		Clients: store,
		Codes:   store,
		Tokens:  store,
		Users:   s.users,
		Scopes:  scope.NewValidator(schemas),
	}, flow.Options{
		CodeTTL:      config.CodeTTL,
		TokenTTL:     config.TokenTTL,
		RequireHTTPS: config.RequireHTTPS,
		Logger:       logger,
		Metrics:      s.metrics,
	})

	return s, nil
}

// newRegistry returns the schema registry: Redis behind a cache when a URL is configured, otherwise the
// configured static lists.
func (s *Server) newRegistry(ctx context.Context) (scope.Registry, error) {
	if s.config.RedisURL != "" {
		r, err := registry.NewRedis(ctx, s.config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to schema registry: %w", err)
		}
		s.redis = r
		s.logger.Info("Using Redis schema registry")
		return registry.NewCached(r, registryCacheTTL), nil
	}

	static, err := registry.NewStatic(s.config.Streams, s.config.Surveys)
	if err != nil {
		return nil, fmt.Errorf("invalid schema configuration: %w", err)
	}
	s.logger.Info("Using static schema registry",
		zap.Int("streams", len(s.config.Streams)),
		zap.Int("surveys", len(s.config.Surveys)))
	return static, nil
}

// Users returns the account service, for provisioning accounts.
func (s *Server) Users() *users.Authenticator {
	return s.users
}

// Flow returns the authorization flow service.
func (s *Server) Flow() *flow.Service {
	return s.flow
}

func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	var errs []error
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Start runs background maintenance until ctx is done or Close is called.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func(ctx context.Context) {
		defer close(s.done)
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}(s.ctx)

	return nil
}

func (s *Server) cleanup() {
	deleted, err := s.db.CleanupExpiredCodes(s.ctx, time.Now())
	if err != nil {
		s.logger.Error("Failed to clean up expired authorization codes", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Debug("Cleaned up expired authorization codes", zap.Int64("count", deleted))
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	tokenValidator := validate.NewTokenValidator(s.flow)
	authorizeHandler := authorize.NewHandler(s.flow, consentPath)
	consentHandler := consent.NewHandler(s.flow, authorizationPath)
	authorizationHandler := authorization.NewHandler(s.flow)
	authorizationWithTokenHandler := authorization.NewTokenHandler(s.flow)
	tokenHandler := token.NewHandler(s.flow)
	authTokenHandler := authtoken.NewHandler(s.flow)
	clientsHandler := clients.NewHandler(s.flow)
	codesHandler := codes.NewHandler(s.flow)

	mux.HandleFunc("GET /health", s.withCORS(s.healthHandler))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", s.withCORS(s.oauthMetadataHandler))

	mux.HandleFunc("GET /oauth/authorize", s.withCORS(s.withRateLimit("authorize", authorizeHandler)))
	mux.HandleFunc("POST /oauth/authorize", s.withCORS(s.withRateLimit("authorize", authorizeHandler)))
	mux.HandleFunc("GET "+consentPath, s.withRateLimit("consent", consentHandler))
	mux.HandleFunc("GET "+authorizationPath, s.withRateLimit("authorization", authorizationHandler))
	mux.HandleFunc("POST "+authorizationPath, s.withRateLimit("authorization", authorizationHandler))
	mux.HandleFunc("POST /oauth/authorization_with_token", s.withCORS(s.withRateLimit("authorization", authorizationWithTokenHandler)))
	mux.HandleFunc("POST /oauth/token", s.withCORS(s.withRateLimit("token", tokenHandler)))

	mux.HandleFunc("POST /auth_token", s.withCORS(s.withRateLimit("auth_token", authTokenHandler)))
	mux.HandleFunc("DELETE /auth_token", s.withCORS(s.withRateLimit("auth_token", authTokenHandler)))

	mux.HandleFunc("POST /oauth/clients", s.withCORS(s.withRateLimit("clients", tokenValidator.WithTokenValidation(clientsHandler.Create))))
	mux.HandleFunc("GET /oauth/clients", s.withCORS(s.withRateLimit("clients", tokenValidator.WithTokenValidation(clientsHandler.List))))
	mux.HandleFunc("GET /oauth/clients/{id}", s.withCORS(s.withRateLimit("clients", http.HandlerFunc(clientsHandler.Get))))

	mux.HandleFunc("GET /oauth/codes", s.withCORS(s.withRateLimit("codes", tokenValidator.WithTokenValidation(codesHandler.List))))
	mux.HandleFunc("GET /oauth/codes/{code}", s.withCORS(s.withRateLimit("codes", tokenValidator.WithOptionalTokenValidation(codesHandler.Get))))
	mux.HandleFunc("DELETE /oauth/codes/{code}", s.withCORS(s.withRateLimit("codes", tokenValidator.WithTokenValidation(codesHandler.Invalidate))))
}

func (s *Server) GetHandler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	return handlers.CustomLoggingHandler(s.accessLog, handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
	)(s.withPreflight(mux)), writeAccessLog)
}

// writeAccessLog writes a common log format line without the query string,
// which can carry passwords and tokens.
func writeAccessLog(w io.Writer, params handlers.LogFormatterParams) {
	host, _, err := net.SplitHostPort(params.Request.RemoteAddr)
	if err != nil {
		host = params.Request.RemoteAddr
	}
	fmt.Fprintf(w, "%s - - [%s] \"%s %s %s\" %d %d\n",
		host,
		params.TimeStamp.Format("02/Jan/2006:15:04:05 -0700"),
		params.Request.Method,
		params.URL.EscapedPath(),
		params.Request.Proto,
		params.StatusCode,
		params.Size,
	)
}

// withPreflight answers CORS preflight requests for every route.
func (s *Server) withPreflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			s.withCORS(next.ServeHTTP)(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, "+clients.SecretHeader)
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func (s *Server) withRateLimit(route string, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter != nil {
			clientIP := handlerutils.GetClientIP(r)
			if !s.rateLimiter.Allow(clientIP) {
				s.metrics.RecordRateLimitHit(route)
				handlerutils.JSON(w, http.StatusTooManyRequests, types.OAuthError{
					Error:            "too_many_requests",
					ErrorDescription: "Rate limit exceeded",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		handlerutils.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) oauthMetadataHandler(w http.ResponseWriter, r *http.Request) {
	baseURL := handlerutils.GetBaseURL(r)

	handlerutils.JSON(w, http.StatusOK, types.OAuthMetadata{
		Issuer:                            baseURL,
		AuthorizationEndpoint:             baseURL + "/oauth/authorize",
		TokenEndpoint:                     baseURL + "/oauth/token",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
	})
}
