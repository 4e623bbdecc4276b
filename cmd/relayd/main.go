package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/quizparty/relay/cmd/config"
	"github.com/quizparty/relay/cmd/relayd/api"
	"github.com/quizparty/relay/lib/logger"
	"github.com/quizparty/relay/lib/options"
	"github.com/quizparty/relay/lib/saves"
	"github.com/quizparty/relay/lib/session"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Optional .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	config, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slogger.Info("relay configuration", "config", config)

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := saves.Open(config.SavesPath)
	if err != nil {
		slogger.Error("failed to open save store", "err", err)
		os.Exit(1)
	}

	relay := session.NewRelay(config.UpstreamURL, store, slogger)

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				ctxWithLogger := logger.AddToContext(req.Context(), slogger)
				next.ServeHTTP(w, req.WithContext(ctxWithLogger))
			})
		},
	)
	api.New(relay, store).Routes(r)

	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", config.Port),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		err := options.Watch(gctx, config.OptionsPath, slogger, relay.NotifyOptionsChanged)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		slogger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slogger.Error("relay exited", "err", err)
		os.Exit(1)
	}
}
