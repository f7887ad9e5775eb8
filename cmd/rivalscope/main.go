package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/rivalscope/rivalscope/capture"
	"github.com/rivalscope/rivalscope/dbopen"
	"github.com/rivalscope/rivalscope/mcpquic"
	"github.com/rivalscope/rivalscope/observability"
	"github.com/rivalscope/rivalscope/report"
	"github.com/rivalscope/rivalscope/shield"
)

func main() {
	cfg, err := LoadAppConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Application DB.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Observability DB: events, metrics, heartbeats.
	obsDB, err := dbopen.Open(cfg.ObsPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	events := observability.NewEventLogger(obsDB)
	metrics := observability.NewMetricsManager(obsDB, 256, 30*time.Second)
	defer metrics.Close()
	heartbeat := observability.NewHeartbeatWriter(obsDB, "rivalscope", time.Minute)
	heartbeat.Start()
	defer heartbeat.Stop()

	opts := []report.Option{
		report.WithLogger(logger),
		report.WithEventLogger(events),
	}

	// Rendered-capture tier: shared Chrome behind a session pool.
	if cfg.Browser.Enabled {
		manager := capture.NewManager(capture.ManagerConfig{
			RemoteURL: cfg.Browser.RemoteURL,
			Logger:    logger,
		})
		if err := manager.Start(ctx); err != nil {
			slog.Error("browser start", "error", err)
			os.Exit(1)
		}
		defer manager.Close()
		pool := capture.NewPool(capture.Config{Sessions: cfg.Browser.Sessions}, manager)
		defer pool.Close()
		opts = append(opts, report.WithCapturePool(pool))
	} else {
		slog.Info("browser disabled, fresh captures unavailable")
	}

	svcCfg := report.Config{}
	svcCfg.AI.APIKey = cfg.Analysis.APIKey
	svcCfg.AI.BaseURL = cfg.Analysis.BaseURL
	svcCfg.AI.Model = cfg.Analysis.Model

	svc, err := report.New(db, svcCfg, opts...)
	if err != nil {
		slog.Error("report service", "error", err)
		os.Exit(1)
	}
	svc.Start(ctx)
	defer svc.Close()

	// Queue gauges, sampled on the metrics flush cadence.
	go pollQueueMetrics(ctx, svc, metrics)

	// Optional MCP over QUIC.
	if cfg.MCP.Transport == "quic" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "rivalscope",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)

		var tlsCfg *tls.Config
		if cfg.MCP.TLSCert != "" && cfg.MCP.TLSKey != "" {
			tlsCfg, err = mcpquic.ServerTLSConfig(cfg.MCP.TLSCert, cfg.MCP.TLSKey)
		} else {
			tlsCfg, err = mcpquic.SelfSignedTLSConfig()
		}
		if err != nil {
			slog.Error("MCP QUIC TLS", "error", err)
		} else {
			ql, qErr := mcpquic.NewListener(cfg.MCP.QUICAddr, tlsCfg, mcpSrv, logger)
			if qErr != nil {
				slog.Error("MCP QUIC listener", "error", qErr)
			} else {
				go func() {
					slog.Info("MCP QUIC starting", "addr", cfg.MCP.QUICAddr)
					if sErr := ql.Serve(ctx); sErr != nil && ctx.Err() == nil {
						slog.Error("MCP QUIC", "error", sErr)
					}
				}()
			}
		}
	}

	// Router with the hardening stack.
	if err := shield.Init(db); err != nil {
		slog.Error("shield init", "error", err)
		os.Exit(1)
	}
	r := chi.NewRouter()
	stack, limiter := shield.APIStack(db)
	limiter.StartReloader(ctx.Done())
	for _, mw := range stack {
		r.Use(mw)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		if cfg.AuthPasswordHash != "" {
			r.Use(basicAuth(cfg.AuthPasswordHash))
		}
		svc.Routes(r)
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// pollQueueMetrics samples queue depth into the metrics store.
func pollQueueMetrics(ctx context.Context, svc *report.Service, mm *observability.MetricsManager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h, err := svc.GetQueueHealth(ctx)
			if err != nil {
				continue
			}
			mm.RecordSimple("queue_waiting", float64(h.Waiting), "tasks")
			mm.RecordSimple("queue_active", float64(h.Active), "tasks")
			mm.RecordSimple("tasks_completed", float64(h.Completed), "tasks")
			mm.RecordSimple("tasks_failed", float64(h.Failed), "tasks")
		}
	}
}

// basicAuth guards the API with a single bcrypt-hashed password. The
// username is ignored; clients send any name with the shared password.
func basicAuth(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, pass, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="rivalscope"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
