package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/mockserver"
	"github.com/matheus3301/glide/internal/wire"
)

func main() {
	var (
		addr    string
		users   []string
		verbose bool
	)

	root := &cobra.Command{
		Use:   "glide-mock",
		Short: "Run an in-memory messaging backend for local development",
		Long: "Serves the REST API under /api and the push channel on /ws.\n" +
			"Each --user is id:name:token; the token is what glidectl init --token expects.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, users, verbose)
		},
	}
	root.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	root.Flags().StringSliceVar(&users, "user", []string{
		"alice:Alice:alice-token",
		"bob:Bob:bob-token",
		"carol:Carol:carol-token",
	}, "seeded user as id:name:token (repeatable)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every request")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(addr string, users []string, verbose bool) error {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv := mockserver.New(mockserver.Options{Logger: logger})
	for _, entry := range users {
		u, token, err := parseUser(entry)
		if err != nil {
			return err
		}
		srv.AddUser(u, token)
		logger.Info("seeded user", zap.String("id", u.ID), zap.String("name", u.FullName))
	}

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr),
			zap.String("base_url", "http://"+addr+"/api"))
		errCh <- httpSrv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(ctx)
}

func parseUser(entry string) (wire.User, string, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return wire.User{}, "", fmt.Errorf("invalid --user %q, want id:name:token", entry)
	}
	name := parts[1]
	if name == "" {
		name = parts[0]
	}
	return wire.User{ID: parts[0], FullName: name}, parts[2], nil
}
