package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bobmcallan/vire-analytics/internal/app"
	"github.com/bobmcallan/vire-analytics/internal/common"
)

type workerCmd struct {
	port int
}

func (*workerCmd) Name() string     { return "worker" }
func (*workerCmd) Synopsis() string { return "run the job manager and the health/metrics listener" }
func (*workerCmd) Usage() string {
	return `vire-analytics worker [-port 8090]

  Processes queued snapshot and roll-up jobs, keeps the latest trading day
  current for every active account, and serves /api/health, /api/version,
  /metrics and the /api/jobs/ws event stream until interrupted.
`
}

func (c *workerCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.port, "port", 0, "listen port (defaults to server.port)")
}

func (c *workerCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := openApp()
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	if c.port > 0 {
		a.Config.Server.Port = c.port
	}
	common.PrintBanner(a.Config, a.Logger)

	if a.Config.Jobs.Enabled {
		a.JobManager.Start()
	} else {
		a.Logger.Warn().Msg("Job processing disabled by config")
	}

	host := a.Config.Server.Host
	port := a.Config.Server.Port
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      buildMux(a),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info().Int("port", port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	status := subcommands.ExitSuccess
	select {
	case <-ctx.Done():
		a.Logger.Info().Msg("Shutdown signal received")
	case err := <-serveErr:
		a.Logger.Error().Err(err).Msg("HTTP server failed")
		status = subcommands.ExitFailure
	}

	common.PrintShutdownBanner(a.Logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	if a.Config.Jobs.Enabled {
		a.JobManager.Stop()
	}
	a.Logger.Info().Msg("Worker stopped")
	return status
}

// buildMux creates the worker's HTTP mux.
func buildMux(a *app.App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", healthHandler)
	mux.HandleFunc("/api/version", versionHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/jobs/ws", a.JobManager.Hub().ServeWS)
	return mux
}

// healthHandler responds to GET/HEAD /api/health with {"status":"ok"}.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// versionHandler responds to GET/HEAD /api/version with version info.
func versionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(common.CurrentBuild())
}
