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

	"golang.org/x/sync/errgroup"

	"directmsg/internal/app"
	"directmsg/internal/config"
	"directmsg/internal/identity"
	"directmsg/internal/metrics"
	"directmsg/internal/server"
	"directmsg/internal/usertoken"
	"directmsg/internal/util"
	"directmsg/pkg/queue"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.InitLogger(cfg.LogLevel)
	metrics.Register()

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		util.Fatal("failed to parse jwt leeway", "err", err)
	}
	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:    cfg.JWKSURL,
		Issuer:     cfg.JWTIssuer,
		Audience:   cfg.JWTAudience,
		Leeway:     jwtLeeway,
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	})
	if err != nil {
		util.Fatal("failed to init jwks verifier", "err", err)
	}

	appCfg := app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Profiles:    identity.NewClient(cfg.IdentityServiceURL, cfg.IdentityToken),
	}
	// Without Redis the service still runs; message events are simply not
	// published.
	var events *queue.RedisEventQueue
	if cfg.RedisAddr != "" {
		events, err = queue.NewRedisEventQueue(queue.RedisQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventStream,
		})
		if err != nil {
			util.Fatal("failed to init event queue", "err", err)
		}
		appCfg.Events = events
	} else {
		slog.Warn("redis not configured, message events disabled")
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer := server.New(server.Config{
		App:           appCore,
		TokenVerifier: tokenVerifier,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	if events != nil {
		events.Start(groupCtx, 1, deliverNotification)
	}
	group.Go(func() error {
		slog.Info("messaging server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// deliverNotification is the notification sink. Push-provider integration
// hangs off this handler; returning an error keeps the event pending for
// retry.
func deliverNotification(_ context.Context, event queue.MessageEvent) error {
	slog.Info("message notification",
		"conversation_id", event.ConversationID,
		"message_id", event.MessageID,
		"receiver_id", event.ReceiverID,
	)
	return nil
}
