package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/gorilla/mux"

	"github.com/RustamovAkrom/minichat/internal/auth"
	"github.com/RustamovAkrom/minichat/internal/bus"
	"github.com/RustamovAkrom/minichat/internal/config"
	"github.com/RustamovAkrom/minichat/internal/handler"
	"github.com/RustamovAkrom/minichat/internal/presence"
	"github.com/RustamovAkrom/minichat/internal/registry"
	"github.com/RustamovAkrom/minichat/internal/roster"
	"github.com/RustamovAkrom/minichat/internal/service"
	"github.com/RustamovAkrom/minichat/internal/store"
	"github.com/RustamovAkrom/minichat/pkg/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()
	l.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chatd")

	db, err := pebble.Open(cfg.Store.Path, &pebble.Options{})
	if err != nil {
		l.Fatal().Str("path", cfg.Store.Path).Err(err).Msg("failed to open store")
	}
	defer db.Close()
	l.Info().Str("path", cfg.Store.Path).Msg("store opened")

	rst := roster.NewPebbleRoster(db)
	msgStore := store.NewPebbleStore(db, rst)
	reg := registry.New()
	tracker := presence.NewTracker()

	var fabric bus.Bus
	switch cfg.Bus.Kind {
	case "redis":
		fabric, err = bus.NewRedisBus(cfg.Bus)
		if err != nil {
			l.Fatal().Str("address", cfg.Bus.Redis.Address).Err(err).Msg("failed to connect to redis")
		}
		l.Info().Str("address", cfg.Bus.Redis.Address).Msg("redis bus connected")
	default:
		fabric = bus.NewMemoryBus(reg, cfg.Bus.SubscriberBuffer)
	}
	defer fabric.Close()

	chat := service.NewChat(msgStore, fabric, reg, tracker, rst)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	wsHandler := handler.NewWSHandler(chat, verifier, cfg.WebSocket, cfg.Limits)

	router := mux.NewRouter()
	wsHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info().Str("addr", server.Addr).Msg("chatd listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down chatd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("forced shutdown")
	}

	l.Info().Msg("chatd stopped")
}
