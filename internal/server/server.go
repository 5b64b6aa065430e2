package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/backend/memory"
	"github.com/2beens/gymlog/internal/backend/postgrest"
	"github.com/2beens/gymlog/internal/backend/psql"
	"github.com/2beens/gymlog/internal/config"
	"github.com/2beens/gymlog/internal/db"
	"github.com/2beens/gymlog/internal/middleware"
	"github.com/2beens/gymlog/internal/session"
	"github.com/2beens/gymlog/internal/telemetry/metrics"
	"github.com/2beens/gymlog/internal/telemetry/tracing"
	"github.com/2beens/gymlog/internal/tracker"
	"github.com/2beens/gymlog/pkg"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	serviceName       = "gymlog"
	scanCleanInterval = 8 * time.Hour
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config         *config.Config
	dbPool         *pgxpool.Pool
	backendClient  backend.Client
	sessionManager *session.Manager

	redisClient *redis.Client
	// nil when redis is not reachable; sign in is then not rate limited
	rateLimiter middleware.RequestRateLimiter

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()

	stopSessionTracking func()
	cancelBackground    context.CancelFunc
}

type NewServerParams struct {
	Config                  *config.Config
	VersionInfo             string
	SupabaseAnonKey         string
	RedisPassword           string
	PostgresPassword        string
	HoneycombTracingEnabled bool
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	rdb := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
		Password: params.RedisPassword,
		DB:       0, // use default DB
	})
	redisOK := true
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Errorf("--> failed to ping redis: %s", err)
		redisOK = false
	}

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.HoneycombTracingEnabled, serviceName, rdb)
	if err != nil {
		return nil, err
	}

	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.HttpTimeout(),
	}

	var (
		dbPool     *pgxpool.Pool
		collectors []prometheus.Collector
	)
	if cfg.Backend == config.BackendPsql {
		dbPool, err = db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         cfg.PostgresUser,
			DBPassword:     params.PostgresPassword,
			TracingEnabled: params.HoneycombTracingEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		collectors = append(collectors, pgxpoolprometheus.NewCollector(
			dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	}

	backendClient, backendAuth, err := newBackend(ctx, cfg, params.SupabaseAnonKey, dbPool, tracedHttpClient)
	if err != nil {
		return nil, fmt.Errorf("new backend: %w", err)
	}

	promRegistry := metrics.SetupPrometheus(collectors...)
	metricsManager := metrics.NewManager("gymlog", "main", promRegistry)
	metricsManager.GaugeLifeSignal.Set(0)

	var (
		sessionStore session.Store
		rateLimiter  middleware.RequestRateLimiter
	)
	if redisOK {
		sessionStore = session.NewRedisStore(rdb, cfg.SessionTTL(), session.DefaultFlowTTL)
		rateLimiter = redis_rate.NewLimiter(rdb)
	} else {
		log.Warnln("redis not available, sessions are kept in process memory")
		sessionStore = session.NewCacheStore(cfg.SessionTTL(), session.DefaultFlowTTL)
	}

	sessionManager := session.NewManager(session.ManagerParams{
		Auth:         backendAuth,
		Store:        sessionStore,
		CallbackURL:  strings.TrimSuffix(cfg.PublicURL, "/") + session.CallbackPath,
		UserCacheTTL: cfg.UserCacheTTL(),
	})

	s := &Server{
		config:         cfg,
		versionInfo:    params.VersionInfo,
		dbPool:         dbPool,
		backendClient:  backendClient,
		sessionManager: sessionManager,
		redisClient:    rdb,
		rateLimiter:    rateLimiter,
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBackground = cancel
	go s.scanAndCleanSessions(bgCtx)

	return s, nil
}

// newBackend selects the data backend and identity service for cfg.Backend.
func newBackend(
	ctx context.Context,
	cfg *config.Config,
	anonKey string,
	dbPool *pgxpool.Pool,
	httpClient *http.Client,
) (backend.Client, backend.Auth, error) {
	switch cfg.Backend {
	case config.BackendPostgrest:
		client, err := postgrest.NewClient(cfg.SupabaseURL, anonKey, httpClient)
		if err != nil {
			return nil, nil, err
		}
		auth, err := postgrest.NewAuth(cfg.SupabaseURL, anonKey, httpClient)
		if err != nil {
			return nil, nil, err
		}
		return client, auth, nil
	case config.BackendPsql:
		if err := psql.ApplySchema(ctx, dbPool); err != nil {
			return nil, nil, fmt.Errorf("apply schema: %w", err)
		}
		if cfg.SupabaseURL == "" {
			log.Warnln("no supabase_url set, using the in-memory identity service")
			return psql.NewClient(dbPool), devAuth(), nil
		}
		auth, err := postgrest.NewAuth(cfg.SupabaseURL, anonKey, httpClient)
		if err != nil {
			return nil, nil, err
		}
		return psql.NewClient(dbPool), auth, nil
	case config.BackendMemory:
		return NewMemoryStore(), devAuth(), nil
	default:
		return nil, nil, fmt.Errorf("unknown backend: %q", cfg.Backend)
	}
}

// NewMemoryStore returns an in-process store with the constraints of the real schema.
func NewMemoryStore() *memory.Store {
	return memory.NewStore(
		memory.WithUUIDKeys("records"),
		memory.WithUniqueColumn("profile", "user_id"),
	)
}

func devAuth() *memory.Auth {
	return memory.NewAuth(&backend.User{
		ID:          "00000000-0000-0000-0000-000000000001",
		Email:       "dev@gymlog.local",
		AppMetadata: map[string]any{"provider": "google"},
	})
}

func (s *Server) scanAndCleanSessions(ctx context.Context) {
	ticker := time.NewTicker(scanCleanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sessionManager.ScanAndClean(ctx)
		}
	}
}

// trackSessionChanges keeps the active sessions gauge current and writes an audit log line per session change.
func (s *Server) trackSessionChanges(ctx context.Context) func() {
	if count, err := s.sessionManager.ActiveSessions(ctx); err != nil {
		log.Warnf("count active sessions: %s", err)
	} else {
		s.metricsManager.GaugeActiveSessions.Set(float64(count))
	}

	return s.sessionManager.OnSessionChange(func(c session.Change) {
		s.metricsManager.CounterSessionEvents.With(prometheus.Labels{"event": string(c.Event)}).Inc()
		switch c.Event {
		case session.EventSignedIn:
			s.metricsManager.GaugeActiveSessions.Inc()
		case session.EventSignedOut:
			s.metricsManager.GaugeActiveSessions.Dec()
		}

		entry := log.WithField("event", c.Event)
		if c.User != nil {
			entry = entry.WithFields(log.Fields{"user_id": c.User.ID, "provider": c.User.Provider()})
		}
		entry.Info("session change")
	})
}

func (s *Server) routerSetup() (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("gymlog-router"))

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET").Name("healthz")
	r.HandleFunc("/version", s.handleVersion).Methods("GET").Name("version")

	var signInMiddlewares []mux.MiddlewareFunc
	if s.rateLimiter != nil {
		signInMiddlewares = append(signInMiddlewares,
			middleware.RateLimit(s.rateLimiter, "signin", s.config.SignInRequestsPerMin, s.metricsManager),
		)
	}
	sessionHandler := session.NewHandler(
		s.sessionManager,
		s.config.OAuthProvider,
		s.config.SessionTTL(),
		strings.HasPrefix(s.config.PublicURL, "https://"),
	)
	sessionHandler.SetupRoutes(r, signInMiddlewares...)

	trackerHandler := tracker.NewHandler(
		s.backendClient,
		s.sessionManager,
		s.metricsManager,
		s.config.Location(),
	).WithProfileSaveMode(s.config.ProfileSaveMode)
	trackerHandler.SetupRoutes(r)

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "PUT", "DELETE", "OPTIONS").Name("unknown")

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.sessionManager)

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins))
	r.Use(authMiddleware.AuthCheck())
	r.Use(middleware.DrainAndCloseRequest())

	return r, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, "ok")
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, s.versionInfo)
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	router, err := s.routerSetup()
	if err != nil {
		log.Fatalf("failed to setup router: %s", err)
	}

	s.stopSessionTracking = s.trackSessionChanges(ctx)

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{Registry: s.promRegistry},
	))
	metricsAddr := net.JoinHostPort(host, strconv.Itoa(s.config.MetricsPort))
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	if s.cancelBackground != nil {
		s.cancelBackground()
	}
	if s.stopSessionTracking != nil {
		s.stopSessionTracking()
	}
	s.sessionManager.Close()

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown http server")
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Error(" >>> failed to gracefully shutdown metrics http server")
		}
		log.Warnln("metrics server shut down")
	}

	if s.otelShutdown != nil {
		s.otelShutdown()
		log.Trace("otel shut down ...")
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
