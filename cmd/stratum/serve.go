package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/havenvirt/stratum/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve metrics and health endpoints",
	Long: `Serve Prometheus metrics and health endpoints for the managed pools.

Pool capacity and volume counts are sampled periodically. The listen
address comes from the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("registry", true, "")
		metrics.RegisterComponent("lvm", true, "")

		collector := metrics.NewCollector(a.pools, a.store)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())

		server := &http.Server{
			Addr:              a.cfg.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()

		fmt.Printf("Serving metrics on %s. Press Ctrl+C to stop.\n", a.cfg.Listen)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
