// Command jsonrpc serves a small JSON-RPC API with its OpenAPI document.
//
//	go run ./example/jsonrpc -config onerpc.yaml
//
//	curl -s localhost:8080/api/v1/jsonrpc -H 'Content-Type: application/json' \
//	  -d '{"jsonrpc":"2.0","id":1,"method":"probe","params":{"data":["1","2"],"amount":10}}'
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mnehpets/onerpc/config"
	"github.com/mnehpets/onerpc/endpoint"
	"github.com/mnehpets/onerpc/jsonrpc"
	"github.com/mnehpets/onerpc/middleware"
	"github.com/mnehpets/onerpc/openapi"
)

func main() {
	path := flag.String("config", envOr("ONERPC_CONFIG", "onerpc.yaml"), "YAML config file (optional)")
	flag.Parse()

	cfg, logger := loadConfig(zap.Must(zap.NewProduction()), *path)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, shutdownTracing, err := cfg.Tracer.Setup(ctx)
	if err != nil {
		logger.Fatal("set up tracing", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("shut down tracing", zap.Error(err))
		}
	}()

	handler, err := newServer(cfg, logger, tp, newBank(1000))
	if err != nil {
		logger.Fatal("build server", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("rpc", cfg.Server.RPCPath),
		zap.String("docs", cfg.Server.DocsPath))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}

// loadConfig reads the configuration and builds the configured logger.
// Failures before that logger exists are reported through boot, which exits.
func loadConfig(boot *zap.Logger, path string) (*config.Config, *zap.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		boot.Fatal("load config", zap.Error(err))
	}
	logger, err := cfg.Logger.NewLogger()
	if err != nil {
		boot.Fatal("build logger", zap.Error(err))
	}
	return cfg, logger
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// newServer registers the example methods and wires the RPC endpoint, the
// documentation and the middleware described by cfg.
func newServer(cfg *config.Config, logger *zap.Logger, tp trace.TracerProvider, bank *bank) (http.Handler, error) {
	reg := jsonrpc.NewRegistry()
	if err := registerMethods(reg, bank); err != nil {
		return nil, err
	}

	d, err := jsonrpc.NewDispatcher(reg,
		jsonrpc.WithLogger(logger),
		jsonrpc.WithTracerProvider(tp),
		jsonrpc.WithBatchConcurrency(cfg.RPC.BatchConcurrency),
		jsonrpc.WithMaxBatchSize(cfg.RPC.MaxBatchSize),
		jsonrpc.WithLogFields(middleware.RequestIDFields),
	)
	if err != nil {
		return nil, err
	}

	var headerOpts []middleware.HeadersOption
	if !cfg.Server.HSTS {
		headerOpts = append(headerOpts, middleware.WithoutHSTS())
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		headerOpts = append(headerOpts, middleware.WithCORS(middleware.CORSConfig{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         600,
		}))
	}

	processors := []endpoint.Processor{
		middleware.NewAPIHeadersProcessor(headerOpts...),
		middleware.NewRequestIDProcessor(),
	}
	if cfg.RateLimit.RPS > 0 {
		rl := middleware.NewRateLimitProcessor(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		rl.KeyFunc = middleware.ClientIP
		processors = append(processors, rl)
	}
	processors = append(processors,
		middleware.NewTimeoutProcessor(cfg.Server.RequestTimeout),
		middleware.BodyLimit(cfg.Server.MaxBodyBytes),
	)

	mux := http.NewServeMux()
	jsonrpc.NewEndpoint(d).Mount(mux, cfg.Server.RPCPath, processors...)

	if cfg.Server.DocsPath != "" {
		set := jsonrpc.Synthesize(reg)
		doc := openapi.Build(set, openapi.Options{
			Title:       "onerpc example",
			Version:     "0.1.0",
			Description: "Probe, bank and math methods served over JSON-RPC 2.0.",
			Path:        cfg.Server.RPCPath,
		})
		docs, err := openapi.NewServer(doc, set, cfg.Server.DocsPath+"/openapi.json")
		if err != nil {
			return nil, err
		}
		docs.Mount(mux, cfg.Server.DocsPath,
			middleware.NewAPIHeadersProcessor(headerOpts...),
			middleware.NewRequestIDProcessor())
	}
	return mux, nil
}
