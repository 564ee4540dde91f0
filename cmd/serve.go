package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"jstool.dev/pkg/jstool/internal/domain"
	"jstool.dev/pkg/jstool/internal/metrics"
)

// serveCmd represents the serve command.
var serveCmd = newServeCmd()

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "serve [suite.yml...]",
		Short:        "Serve test suites for manual browsing",
		Long:         serveLongDescription,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr := viper.GetString(metricsAddrKey); addr != "" {
				shutdown := startMetricsServer(addr)
				defer shutdown()
			}

			return workflow.Serve(ctx, domain.ServeArgs{
				SuitePaths: parseSuitePaths(args),
				Coverage:   coverageEnabled(),
			})
		},
	}

	cmd.Flags().String(metricsAddrFlagName, viper.GetString(metricsAddrKey), "serve Prometheus metrics at this address, e.g. 127.0.0.1:9090")
	bindFlagToConfig(cmd.Flags().Lookup(metricsAddrFlagName), metricsAddrKey)

	return cmd
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func newMetricsRouter() *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return router
}

// startMetricsServer serves /metrics on addr until the returned func is called.
func startMetricsServer(addr string) func() {
	server := &http.Server{
		Addr:              addr,
		Handler:           newMetricsRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to serve metrics", "addr", addr, "error", err)
		}
	}()

	slog.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("Failed to stop metrics server", "error", err)
		}
	}
}
