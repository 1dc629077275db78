package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/traderepublic/broker-session/health"
	"github.com/traderepublic/broker-session/internal/logger"
	"github.com/traderepublic/broker-session/internal/metrics"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Authenticate, hold the session open, and serve /health and /metrics",
	Long: `Runs the same login+dial sequence as "login", then serves an HTTP endpoint
exposing liveness checks for the stream connection, the auth state, and
the key store, plus the Prometheus metrics registered by internal/metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (defaults to the configured port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	live, err := authenticate(ctx)
	if err != nil {
		return err
	}
	defer live.conn.Close()

	checker := health.NewHealthChecker(5 * time.Second)
	checker.SetLogger(log)
	checker.RegisterCheck("stream", health.ConnectionHealthCheck(func() string {
		return live.conn.State().String()
	}))
	checker.RegisterCheck("auth", health.AuthHealthCheck(func() string {
		return live.handshake.State().String()
	}))
	checker.RegisterCheck("keystore", health.KeyStoreHealthCheck(func() error {
		_, err := live.keys.Load()
		return err
	}))

	port := servePort
	if port == 0 {
		port = cfg.Port
	}
	addr := fmt.Sprintf(":%d", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		sysHealth := checker.GetSystemHealth(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if sysHealth.Status != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(sysHealth)
	})

	log.Info("serving health and metrics", logger.String("addr", addr))

	server := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- live.conn.Wait() }()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", logger.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		live.conn.Close()
		return nil
	case err := <-errCh:
		return err
	}
}
