package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trailmap/api/internal/app"
	"trailmap/api/internal/authpw"
	"trailmap/api/internal/config"
	"trailmap/api/internal/email"
	"trailmap/api/internal/guest"
	"trailmap/api/internal/search"
	"trailmap/api/internal/session"
	"trailmap/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	var redisStore *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, refresh tokens fall back to PostgreSQL: %v", err)
			redisStore = nil
		} else {
			defer redisStore.Close()
		}
	}

	var guestCache guest.Cache
	if redisStore != nil {
		guestCache = redisStore
	}
	guestManager := guest.NewManager(dataStore, guestCache, cfg.GuestTTL)

	emailService := email.NewService(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		From:      cfg.SMTPFrom,
		FromName:  cfg.SMTPFromName,
		EnableTLS: true,
	})
	if !emailService.IsConfigured() {
		log.Printf("SMTP not configured, outbound email disabled")
	}

	authService := authpw.NewService(dataStore)

	service := app.New(cfg, dataStore, guestManager, authService, emailService, searchService, redisStore)

	// Expired guest identities are swept in the background; the admin
	// endpoint triggers the same sweep on demand.
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
				removed, err := service.CleanupGuests(sweepCtx)
				cancel()
				if err != nil {
					log.Printf("guest cleanup failed: %v", err)
				} else if removed > 0 {
					log.Printf("guest cleanup removed %d expired identities", removed)
				}
			case <-cleanupDone:
				return
			}
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Trailmap API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(cleanupDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
