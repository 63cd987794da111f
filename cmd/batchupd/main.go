// Command batchupd serves the session HTTP surface: a stateless gateway
// that buffers uploaded files per session and pushes them to object storage
// through the coordinating service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/packlane/batchup"
	"github.com/packlane/batchup/server"
	"github.com/packlane/batchup/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen     string
		workerURL  string
		uploader   string
		sessionTTL time.Duration
		grace      time.Duration
	)

	cmd := &cobra.Command{
		Use:           "batchupd",
		Short:         "Session gateway for batch uploads",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workerURL == "" {
				return fmt.Errorf("worker URL is required (--worker-url or BATCHUP_WORKER_URL)")
			}

			log, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return serve(cmd.Context(), log, listen, workerURL, uploader, sessionTTL, grace)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", envOr("BATCHUP_LISTEN", ":8080"),
		"address to listen on")
	cmd.Flags().StringVar(&workerURL, "worker-url", os.Getenv("BATCHUP_WORKER_URL"),
		"base URL of the coordinating service")
	cmd.Flags().StringVar(&uploader, "uploader", envOr("BATCHUP_UPLOADER", "batchupd"),
		"uploader identity reported to the coordinating service")
	cmd.Flags().DurationVar(&sessionTTL, "session-ttl", session.DefaultTTL,
		"hard ceiling on session lifetime")
	cmd.Flags().DurationVar(&grace, "session-grace", session.DefaultGrace,
		"how long finished sessions stay readable")

	return cmd
}

func serve(ctx context.Context, log *zap.Logger, listen, workerURL, uploader string, ttl, grace time.Duration) error {
	client, err := batchup.New(workerURL, batchup.WithUploader(uploader))
	if err != nil {
		return err
	}

	manager := session.NewManager(session.NewMemoryStore(), client,
		session.WithTTL(ttl),
		session.WithGrace(grace),
		session.WithLogger(log),
	)
	go manager.Run(ctx)

	srv := &http.Server{
		Addr:              listen,
		Handler:           server.New(manager, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
