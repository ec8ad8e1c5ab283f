package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/kstaniek/go-mscan/internal/logging"
	"github.com/kstaniek/go-mscan/internal/metrics"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("mscan-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	p, err := loadPlan(cfg)
	if err != nil {
		l.Error("objects_error", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, err := newGateway(ctx, cfg, p, l)
	if err != nil {
		l.Error("gateway_init_error", "error", err)
		os.Exit(1)
	}
	go runMetricsLogger(ctx, cfg.logMetricsEvery, l)

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-g.srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil && g.ctrl.Enabled()
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr, g.debugRoute())
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	go advertise(ctx, g, p)

	err = g.run(ctx)
	if err != nil {
		l.Error("gateway_error", "error", err)
	} else {
		l.Info("shutdown_signal")
	}
	stop()
	g.close()
	if err != nil {
		os.Exit(1)
	}
}

func setupLogger(format, level string) *slog.Logger {
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	l := logging.New(format, lvl, os.Stderr).With("app", "mscan-server")
	logging.Set(l)
	return l
}

// listenPort extracts the port of a bound host:port address, 0 if none.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0
	}
	return n
}
