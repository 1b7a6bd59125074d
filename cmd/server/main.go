package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"glucolink/internal/config"
	httpapi "glucolink/internal/http"
	"glucolink/internal/integrations/telegram"
	"glucolink/internal/librelinkup"
	"glucolink/internal/security/secretbox"
	"glucolink/internal/service/fetcher"
	"glucolink/internal/service/poller"
	storepkg "glucolink/internal/store"
	"glucolink/internal/store/memory"
	"glucolink/internal/store/postgres"
)

func main() {
	_ = godotenv.Load(".env")
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg := config.Load()
	if cfg.LinkUpUsername == "" || cfg.LinkUpPassword == "" {
		log.Fatal().Msg("LINK_UP_USERNAME and LINK_UP_PASSWORD are required")
	}

	var box *secretbox.Box
	if cfg.SessionEncryptionKey != "" {
		var err error
		box, err = secretbox.New(cfg.SessionEncryptionKey)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid session encryption key")
		}
	} else {
		log.Warn().Msg("SESSION_ENCRYPTION_KEY unset, vendor session will not be persisted")
	}

	store := openStore(cfg, box)

	session := librelinkup.NewSession()
	if persisted, err := store.LoadVendorSession(); err == nil {
		session.Restore(persisted)
		log.Info().Time("expires_at", persisted.ExpiresAt).Msg("restored persisted vendor session")
	} else if !errors.Is(err, storepkg.ErrNotFound) {
		log.Warn().Err(err).Msg("load persisted vendor session failed")
	}

	client, err := librelinkup.NewClient(cfg.LinkUpRegion, cfg.LinkUpUsername, cfg.LinkUpPassword, session, cfg.FetchTimeout)
	if err != nil {
		log.Fatal().Err(err).Strs("known_regions", librelinkup.Regions()).Msg("invalid LibreLinkUp region")
	}

	notifier := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.AlertLowMgdl, cfg.AlertHighMgdl)
	cycle := fetcher.New(client, session, cfg.LinkUpConnection, store)
	p := poller.New(cycle, store, notifier, cfg.FetchInterval, uint(cfg.FetchMaxAttempts), cfg.FetchRetryBase)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpapi.NewServer(cfg, store, p).Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

// openStore prefers postgres and falls back to the in-memory store so the
// poller keeps serving fresh readings even when the database is down.
func openStore(cfg config.Config, box *secretbox.Box) storepkg.Store {
	if cfg.StoreMode == "memory" || cfg.DatabaseURL == "" {
		log.Info().Msg("using in-memory store")
		return memory.NewStore()
	}
	st, err := postgres.NewStore(cfg.DatabaseURL, box)
	if err != nil {
		log.Warn().Err(err).Msg("postgres unavailable, falling back to in-memory store")
		return memory.NewStore()
	}
	log.Info().Msg("using postgres store")
	return st
}
