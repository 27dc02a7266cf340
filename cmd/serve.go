package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve exposes the ZIP index and the variable fetch service over HTTP:

  GET    /health
  GET    /api/zips/{zip}
  GET    /api/search?state=&city=&county=&limit=
  GET    /api/radius?lat=&lng=&km=&limit=
  GET    /api/bbox?min_lat=&min_lng=&max_lat=&max_lng=&limit=
  GET    /api/stats
  POST   /api/variables
  GET    /api/cache/stats
  DELETE /api/cache

The server shuts down gracefully on SIGINT and SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (0 = config default)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate("serve"); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idx, err := openIndex(ctx)
	if err != nil {
		return err
	}

	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	env, err := initFetchEnv(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	port := servePort
	if port == 0 {
		port = cfg.Server.Port
	}

	handler := newRouter(&apiServer{
		idx:          idx,
		svc:          env.Service,
		cat:          cat,
		defaultLimit: cfg.Index.DefaultLimit,
	}, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown failed", zap.Error(err))
		}
	}()

	zap.L().Info("http server listening", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "http server")
	}
	zap.L().Info("http server stopped")
	return nil
}
