package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/rjsadow/relayhub/internal/config"
	"github.com/rjsadow/relayhub/internal/db"
	"github.com/rjsadow/relayhub/internal/janitor"
	"github.com/rjsadow/relayhub/internal/ratelimit"
	"github.com/rjsadow/relayhub/internal/registry"
	"github.com/rjsadow/relayhub/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	port := flag.Int("port", config.DefaultPort, "Port to listen on")
	flag.Parse()

	appConfig, err := config.LoadWithFlags(*port)
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	var stats *db.DB
	stats, err = db.Open(appConfig.StatsDBPath)
	if err != nil {
		slog.Warn("stats/feedback database unavailable, continuing without it", "error", err)
		stats = nil
	} else {
		defer stats.Close()
	}

	reg := registry.New(statsRecorder(stats), logger)

	jan := janitor.New(reg, appConfig.FileTTL, appConfig.JanitorInterval, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go jan.Run(ctx)

	rl := ratelimit.NewRateLimiter(rate.Limit(appConfig.RateLimitPerSecond), appConfig.RateLimitBurst)

	app := &server.App{
		Registry:        reg,
		Janitor:         jan,
		Stats:           stats,
		Port:            appConfig.Port,
		MaxSessionBytes: appConfig.MaxSessionBytes,
		RateLimiter:     rl,
		Log:             logger,
	}

	addr := fmt.Sprintf(":%d", appConfig.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: app.Handler(),
	}

	go func() {
		slog.Info("relay hub starting", "addr", "http://localhost"+addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// statsRecorder adapts a possibly-nil *db.DB to registry.StatsRecorder,
// returning a nil interface value when stats is nil so the registry skips
// counter updates entirely.
func statsRecorder(d *db.DB) registry.StatsRecorder {
	if d == nil {
		return nil
	}
	return d
}
