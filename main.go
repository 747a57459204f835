// Package main runs the autemo.com shoutbox sync service: a polling engine
// that mirrors the shoutbox into Postgres, plus an HTTP/websocket surface
// for reading messages and sending shouts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"autemo-sync/account"
	"autemo-sync/autemo"
	"autemo-sync/compose"
	"autemo-sync/poll"
	"autemo-sync/server"
	"autemo-sync/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	baseURL := os.Getenv("AUTEMO_BASE_URL")
	if baseURL == "" {
		baseURL = autemo.DefaultBaseURL
	}

	credsPath := os.Getenv("CREDENTIALS_FILE")
	if credsPath == "" {
		credsPath = "./account.json"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(dsn, logger)
	if err != nil {
		logger.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	}()

	client := autemo.New(&http.Client{Timeout: autemo.Timeout}, baseURL, logger)
	accounts := account.NewManager(client, credsPath, logger)

	// Seed the credentials file from the environment when provided. Useful
	// for container deployments where no file is mounted.
	if email := os.Getenv("AUTEMO_EMAIL"); email != "" {
		creds := account.Credentials{Email: email, Password: os.Getenv("AUTEMO_PASSWORD")}
		if err := accounts.Save(creds); err != nil {
			logger.Error("Failed to save credentials", "error", err)
			os.Exit(1)
		}
	}

	if _, err := accounts.Credentials(); errors.Is(err, account.ErrNoAccount) {
		logger.Warn("No account configured; polling will idle until credentials are saved",
			"path", credsPath)
	}

	hub := server.NewHub(logger)
	go hub.Run(ctx)

	engine := poll.New(client, st, accounts, logger)
	engine.OnFetching(func(fetching bool) {
		hub.Publish(server.Event{Entity: "engine", Fetching: fetching})
	})
	forwardChanges(ctx, st, hub, store.EntityMessages)
	forwardChanges(ctx, st, hub, store.EntityAuthors)

	engine.Start(ctx)
	defer engine.Stop()

	composer := compose.New(client, accounts, engine, logger)

	srv := server.New(&server.Config{
		Messages: st,
		Roster:   client,
		Composer: composer,
		Hub:      hub,
		Logger:   logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(port)
	}()

	select {
	case err := <-errCh:
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	case <-ctx.Done():
		logger.Info("Shutting down")
	}
}

// forwardChanges bridges store change notifications onto the websocket hub.
func forwardChanges(ctx context.Context, st *store.Store, hub *server.Hub, entity string) {
	ch, cancel := st.Subscribe(entity)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case name, ok := <-ch:
				if !ok {
					return
				}
				hub.Publish(server.Event{Entity: name})
			}
		}
	}()
}
