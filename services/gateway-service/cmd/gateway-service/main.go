package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/odontocare/odontocare/libs/auth"
	"github.com/odontocare/odontocare/libs/config"
	"github.com/odontocare/odontocare/libs/grpcx"
	"github.com/odontocare/odontocare/libs/httpx"
	otelx "github.com/odontocare/odontocare/libs/otel"
	"github.com/odontocare/odontocare/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	headerUserID = "X-User-Id"
	headerRole   = "X-Role"
)

// identityHeaders are trusted by the backend only when the gateway set them.
// Inbound copies are dropped. X-Center-Id is never forwarded.
var identityHeaders = []string{headerUserID, headerRole, "X-Center-Id"}

type gatewayConfig struct {
	Port            string
	AppointmentURL  *url.URL
	AppointmentGRPC string
	JWTSecret       string
	JWKSURL         string
	JWKSTTL         time.Duration
	BodyLimit       int
	RequestTimeout  time.Duration
	RateLimit       int
	RedisAddr       string
	RedisDB         int
	RateLimitPrefix string
	RateLimitFailOK bool
	CORSOrigins     []string
	CORSMethods     []string
	CORSHeaders     []string
	CORSCredentials bool
	CORSMaxAge      time.Duration
	ShutdownDrain   time.Duration
}

func loadConfig() (gatewayConfig, error) {
	cfg := gatewayConfig{
		AppointmentGRPC: config.String("APPOINTMENT_GRPC_ADDR", ""),
		JWTSecret:       config.String("JWT_SECRET", ""),
		JWKSURL:         config.String("JWKS_URL", ""),
		RedisAddr:       strings.TrimSpace(config.String("REDIS_ADDR", "")),
		RateLimitPrefix: config.String("RATE_LIMIT_PREFIX", "rl"),
		RateLimitFailOK: config.Bool("RATE_LIMIT_FAIL_OPEN", true),
		CORSOrigins:     config.List("CORS_ALLOWED_ORIGINS", ""),
		CORSMethods:     config.List("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS"),
		CORSHeaders:     config.List("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id"),
		CORSCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
	}
	var err error
	if cfg.Port, err = config.Port("PORT", "8080"); err != nil {
		return cfg, err
	}
	if cfg.AppointmentURL, err = url.Parse(config.String("APPOINTMENT_URL", "http://appointment-service:8001")); err != nil {
		return cfg, err
	}
	if cfg.JWKSTTL, err = config.Duration("JWKS_CACHE_SECONDS", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.BodyLimit, err = config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = config.Duration("REQUEST_TIMEOUT_SECONDS", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateLimit, err = config.Int("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		return cfg, err
	}
	if cfg.RedisDB, err = strconv.Atoi(config.String("REDIS_DB", "0")); err != nil || cfg.RedisDB < 0 {
		return cfg, fmt.Errorf("REDIS_DB must be a non-negative integer")
	}
	if cfg.CORSMaxAge, err = config.Duration("CORS_MAX_AGE_SECONDS", 10*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ShutdownDrain, err = config.Duration("SHUTDOWN_DRAIN", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func main() {
	service := config.String("SERVICE_NAME", "gateway-service")
	logger := runtime.NewLogger(service)
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		panic(err)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var checks []runtime.ReadyCheck
	if cfg.AppointmentGRPC != "" {
		conn, err := grpcx.Dial(cfg.AppointmentGRPC, grpcx.DialOptions{})
		if err != nil {
			logger.Error("appointment grpc dial failed", "err", err)
			panic(err)
		}
		defer func() { _ = conn.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "appointment-service", Check: grpcx.HealthReadyCheck(conn, "appointment-service")})
	}

	var keys auth.KeyIDFunc
	if cfg.JWKSURL != "" {
		keys = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSTTL).Get
	}
	if cfg.JWTSecret == "" && keys == nil {
		logger.Warn("neither JWT_SECRET nor JWKS_URL is set; every authenticated route will answer 401")
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	registerRoutes(mux, newProxy(cfg.AppointmentURL, otelhttp.NewTransport(http.DefaultTransport)), cfg.JWTSecret, keys)

	var rateLimitMW httpx.Middleware
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, time.Minute, cfg.RateLimitPrefix)
		rateLimitMW = rl.Middleware(logger, cfg.RateLimitFailOK)
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimit, "redis_addr", cfg.RedisAddr)
	} else {
		rateLimitMW = httpx.NewRateLimiter(cfg.RateLimit, time.Minute).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimit)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   cfg.CORSMethods,
			AllowedHeaders:   cfg.CORSHeaders,
			AllowCredentials: cfg.CORSCredentials,
			MaxAge:           cfg.CORSMaxAge,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(cfg.BodyLimit)),
		httpx.WithTimeout(cfg.RequestTimeout),
		rateLimitMW,
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "gateway"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := runtime.RunHTTPServer(ctx, logger, srv, cfg.ShutdownDrain); err != nil {
		panic(err)
	}
}

func registerRoutes(mux *http.ServeMux, appointments http.Handler, jwtSecret string, keys auth.KeyIDFunc) {
	protected := requireAuth(appointments, jwtSecret, keys)
	registerProxy(mux, "/api/v1/appointments", protected)
	registerProxy(mux, "/api/v1/availability", protected)
}

func newProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = transport
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.Header().Set("Retry-After", "5")
		httpx.WriteErrorBody(w, http.StatusBadGateway, httpx.ErrorBody{
			Kind:      "upstream_unavailable",
			Message:   "appointment service unavailable",
			Retryable: true,
		})
	}
	return proxy
}

func registerProxy(mux *http.ServeMux, prefix string, handler http.Handler) {
	if !strings.HasSuffix(prefix, "/") {
		mux.Handle(prefix, handler)
		mux.Handle(prefix+"/", handler)
		return
	}
	mux.Handle(prefix, handler)
}

func requireAuth(next http.Handler, jwtSecret string, keys auth.KeyIDFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing or invalid Authorization header")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := auth.Verify(token, jwtSecret, keys)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
			return
		}

		for _, h := range identityHeaders {
			r.Header.Del(h)
		}
		r.Header.Set(headerUserID, claims.Subject)
		r.Header.Set(headerRole, claims.Role)
		next.ServeHTTP(w, r)
	})
}
