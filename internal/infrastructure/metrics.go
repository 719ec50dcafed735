package infrastructure

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/negroni/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/internal/config"
)

// MetricsModule provides the Prometheus registry and serves it over HTTP
// when metrics.listen is configured.
var MetricsModule = fx.Module("metrics",
	fx.Provide(
		NewRegistry,
		func(r *prometheus.Registry) prometheus.Registerer { return r },
		func(r *prometheus.Registry) prometheus.Gatherer { return r },
	),
	fx.Invoke(RegisterMetricsServer),
)

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// BasicAuth rejects requests without the given credentials.
func BasicAuth(username, password string) negroni.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			rw.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(rw, r)
	}
}

// NewMetricsHandler serves gatherer on cfg.Path, behind basic auth when
// credentials are configured.
func NewMetricsHandler(gatherer prometheus.Gatherer, cfg config.MetricsConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	n := negroni.New(negroni.NewRecovery())
	if cfg.Username != "" {
		n.Use(BasicAuth(cfg.Username, cfg.Password))
	}
	n.UseHandler(mux)

	return n
}

// RegisterMetricsServer ties the metrics HTTP server to the application
// lifecycle.
func RegisterMetricsServer(lc fx.Lifecycle, cfg *config.Config, gatherer prometheus.Gatherer, logger *zap.Logger) {
	mc := cfg.Metrics
	if mc.Listen == "" {
		logger.Info("Metrics endpoint disabled")
		return
	}

	server := &http.Server{
		Addr:              mc.Listen,
		Handler:           NewMetricsHandler(gatherer, mc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", mc.Listen)
			if err != nil {
				return err
			}

			logger.Info("Serving metrics",
				zap.String("addr", ln.Addr().String()),
				zap.String("path", mc.Path),
				zap.Bool("basic_auth", mc.Username != ""))

			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server stopped", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
