// =============================================================================
// Payment Import - Serve Command
// =============================================================================
//
// Runs the operator HTTP boundary together with the scheduled health probe.
// SIGINT/SIGTERM close every open session (stopping running batches before
// their next row) and shut the server down gracefully.
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ginjaninja78/payment-import/internal/api"
	"github.com/ginjaninja78/payment-import/internal/logger"
	"github.com/ginjaninja78/payment-import/internal/session"
	"github.com/spf13/cobra"
)

// addr overrides server.addr from the configuration.
var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Named("serve")

	a, err := newApp(mainConfig, true)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}

	sessions := api.NewRegistry()
	defer sessions.CloseAll()

	a.orch.OnComplete = func(s *session.Session) {
		c := s.Counts()
		log.Info().Str("session", s.ID()).Int("saved", c.SavedCount).Int("routed", c.Routed).Msg("import complete")
	}
	h := api.NewHandlers(a.pipeline, a.orch, a.monitor, a.queue, sessions, mainConfig.Import.MaxFileBytes)
	router := api.NewRouter(h, api.Options{SlowRequest: 2 * time.Second})

	listen := mainConfig.Server.Addr
	if addr != "" {
		listen = addr
	}
	log.Info().Str("addr", listen).Str("service", mainConfig.Service.BaseURL).Msg("starting operator api")
	return api.NewServer(listen, router).Run(ctx)
}
