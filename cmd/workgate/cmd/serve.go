package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/psantana5/workgate/internal/config"
	"github.com/psantana5/workgate/pkg/api"
	"github.com/psantana5/workgate/pkg/auth"
	"github.com/psantana5/workgate/pkg/gate"
	"github.com/psantana5/workgate/pkg/logging"
	"github.com/psantana5/workgate/pkg/metrics"
	"github.com/psantana5/workgate/pkg/ratelimit"
	"github.com/psantana5/workgate/pkg/shutdown"
	"github.com/psantana5/workgate/pkg/timed"
	"github.com/psantana5/workgate/pkg/tlsutil"
	"github.com/psantana5/workgate/pkg/tracing"
	"github.com/psantana5/workgate/pkg/work"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

const limiterMaxAge = 10 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Starts the API server (GET /test, GET /health) and, unless disabled, a
separate Prometheus metrics server. SIGINT or SIGTERM drains in-flight
requests before exiting.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("host", "0.0.0.0", "listen address")
	f.Int("port", 8000, "API port")
	f.Duration("work-duration", work.DefaultDuration, "duration of one unit of work")
	f.Bool("log-file", false, "also write logs under /var/log/workgate (or ./logs)")
	f.Bool("metrics", true, "enable the Prometheus metrics server")
	f.Int("metrics-port", 9090, "Prometheus metrics port")
	f.Float64("rate-limit", 0, "requests per second per client IP (0 disables)")
	f.Bool("trust-proxy", false, "rate-limit on X-Forwarded-For (only behind a proxy that sets it)")
	f.String("api-key", "", "require this bearer token on /test")
	f.Bool("tracing", false, "export OpenTelemetry traces over OTLP/HTTP")
	f.String("tracing-endpoint", "localhost:4318", "OTLP/HTTP collector endpoint")
	f.Bool("tls", false, "serve HTTPS")
	f.String("cert", "certs/workgate.crt", "TLS certificate file")
	f.String("key", "certs/workgate.key", "TLS key file")
	f.String("ca", "", "CA used to verify client certificates")
	f.Bool("mtls", false, "require client certificates")

	for key, flag := range map[string]string{
		"server.host":           "host",
		"server.port":           "port",
		"work.duration":         "work-duration",
		"log.file":              "log-file",
		"metrics.enabled":       "metrics",
		"metrics.port":          "metrics-port",
		"ratelimit.rps":         "rate-limit",
		"ratelimit.trust_proxy": "trust-proxy",
		"auth.api_key":          "api-key",
		"tracing.enabled":       "tracing",
		"tracing.endpoint":      "tracing-endpoint",
		"tls.enabled":           "tls",
		"tls.cert":              "cert",
		"tls.key":               "key",
		"tls.ca":                "ca",
		"tls.mtls":              "mtls",
	} {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log, "server")
	mgr := shutdown.New(cfg.Server.ShutdownTimeout.Std(), logger)
	// Registered first so it runs last
	mgr.Register("logger", func(ctx context.Context) error { return logger.Close() })

	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "workgate",
		ServiceVersion: Version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", map[string]interface{}{"error": err.Error()})
	}
	mgr.Register("tracer", tp.Shutdown)

	g := gate.New()
	mw := api.Middleware{
		Tracing: tp,
		Limiter: ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
	if cfg.RateLimit.TrustProxy {
		mw.LimitKey = ratelimit.ForwardedKeyFunc
	}

	var opts []timed.Option
	if cfg.Metrics.Enabled {
		collector := metrics.NewCollector(g)
		opts = append(opts, timed.WithObserver(collector))
		mw.Metrics = collector
		startMetricsServer(cfg, collector, g, logger, mgr)
	}

	if cfg.Auth.APIKey != "" {
		a, err := auth.NewAPIKeyAuth(cfg.Auth.APIKey, bcrypt.DefaultCost, "/health")
		if err != nil {
			logger.Fatal("Failed to set up authentication", map[string]interface{}{"error": err.Error()})
		}
		mw.Auth = a
		logger.Info("API key authentication enabled")
	} else {
		logger.Warn("No API key configured, /test is open")
	}

	op := timed.New(g, work.NewSleep(cfg.Work.Duration.Std()), opts...)
	handler := api.NewHandler(op, logger)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler.Router(mw),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
		IdleTimeout:  cfg.Server.IdleTimeout.Std(),
	}

	if cfg.TLS.Enabled {
		if err := ensureCertificate(cfg.TLS, logger); err != nil {
			logger.Fatal("Failed to prepare certificate", map[string]interface{}{"error": err.Error()})
		}
		tlsConfig, err := tlsutil.LoadServerConfig(cfg.TLS.Cert, cfg.TLS.Key, cfg.TLS.CA, cfg.TLS.MTLS)
		if err != nil {
			logger.Fatal("Failed to load TLS config", map[string]interface{}{"error": err.Error()})
		}
		srv.TLSConfig = tlsConfig
	}
	mgr.Register("api-server", shutdown.StopHTTPServer(srv))

	if mw.Limiter.Enabled() {
		go sweepLimiters(mw.Limiter, mgr.Done(), logger)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API server listening", map[string]interface{}{
			"addr":          srv.Addr,
			"tls":           cfg.TLS.Enabled,
			"work_duration": cfg.Work.Duration.Std().String(),
		})
		var err error
		if cfg.TLS.Enabled {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		mgr.Trigger()
	}()

	mgr.Wait(cmd.Context())

	var startErr error
	select {
	case startErr = <-serveErr:
		logger.Error("API server failed", map[string]interface{}{"error": startErr.Error()})
	default:
	}

	if err := mgr.Shutdown(); err != nil {
		return errors.Join(startErr, err)
	}
	return startErr
}

func startMetricsServer(cfg *config.Config, collector *metrics.Collector, g *gate.Gate, logger *logging.Logger, mgr *shutdown.Manager) {
	r := mux.NewRouter()
	r.Handle("/metrics", collector).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","held":%t,"waiting":%d}`, g.Held(), g.Waiting())
	}).Methods("GET")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	mgr.Register("metrics-server", shutdown.StopHTTPServer(srv))

	go func() {
		logger.Info("Metrics server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// ensureCertificate generates a self-signed pair when the configured
// certificate is missing and generation is allowed
func ensureCertificate(cfg config.TLSConfig, logger *logging.Logger) error {
	if _, err := os.Stat(cfg.Cert); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	if !cfg.Generate {
		return fmt.Errorf("certificate %s not found", cfg.Cert)
	}

	hostname, _ := os.Hostname()
	sans := []string{"localhost", "127.0.0.1"}
	if hostname != "" {
		sans = append(sans, hostname)
	}
	logger.Info("Generating self-signed certificate", map[string]interface{}{"cert": cfg.Cert, "key": cfg.Key})
	return tlsutil.GenerateSelfSignedCert(cfg.Cert, cfg.Key, "workgate", sans...)
}

func sweepLimiters(l *ratelimit.Limiter, done <-chan struct{}, logger *logging.Logger) {
	ticker := time.NewTicker(limiterMaxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.CleanupOldLimiters(limiterMaxAge); n > 0 {
				logger.Debug("Removed idle rate limiters", map[string]interface{}{"count": n})
			}
		case <-done:
			return
		}
	}
}
