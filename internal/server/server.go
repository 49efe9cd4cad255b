// Package server wires the dependency graph and runs the HTTP server with
// graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tourneyhub/identity/internal/auth"
	"github.com/tourneyhub/identity/internal/config"
	"github.com/tourneyhub/identity/internal/handler"
	"github.com/tourneyhub/identity/internal/middleware"
	"github.com/tourneyhub/identity/internal/provider"
	sqliteRepo "github.com/tourneyhub/identity/internal/repository/sqlite"
	"github.com/tourneyhub/identity/internal/service"
	"github.com/tourneyhub/identity/internal/session"
)

// Server owns the router, the database handle and the shared HTTP client
// used for provider calls.
type Server struct {
	router *chi.Mux
	config config.Config
	logger *slog.Logger
	db     *sqliteRepo.DB
}

// New builds the full dependency graph: database, cookie jar, provider
// adapters, resolvers, account service, handlers, routes.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}
	if err := s.setupRoutes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

func (s *Server) setupRoutes() error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	jar, err := session.NewJar(
		[]byte(s.config.CookieHashKey),
		[]byte(s.config.CookieBlockKey),
		s.config.SecureCookies,
	)
	if err != nil {
		return fmt.Errorf("creating cookie jar: %w", err)
	}
	stateSvc, err := auth.NewStateService(s.config.StateSecret)
	if err != nil {
		return fmt.Errorf("creating state service: %w", err)
	}

	// One pooled client for all provider calls.
	client := &http.Client{Timeout: 30 * time.Second}

	racetime := provider.NewRaceTime(
		s.config.RaceTime.ClientID, s.config.RaceTime.ClientSecret,
		s.config.RaceTime.RedirectURL, s.config.RaceTimeHost, client,
	)
	discord := provider.NewDiscord(
		s.config.Discord.ClientID, s.config.Discord.ClientSecret,
		s.config.Discord.RedirectURL, client,
	)
	challonge := provider.NewChallonge(
		s.config.Challonge.ClientID, s.config.Challonge.ClientSecret,
		s.config.Challonge.RedirectURL, client,
	)
	startgg := provider.NewStartGG(
		s.config.StartGG.ClientID, s.config.StartGG.ClientSecret,
		s.config.StartGG.RedirectURL, client,
	)

	creds := auth.NewCredentialResolver(racetime, discord, jar, s.logger)
	resolver := auth.NewUserResolver(creds, s.db.Users(), s.logger)
	accounts := service.NewAccountService(s.db, s.logger)

	authHandler := handler.NewAuthHandler(
		racetime, discord, challonge, startgg,
		stateSvc, jar, creds, resolver, accounts, s.db.Users(), s.logger,
	)
	userHandler := handler.NewUserHandler(s.db.Users(), resolver, s.logger)

	s.router.Get("/login/{provider}", authHandler.HandleLogin)
	s.router.Get("/auth/{provider}", authHandler.HandleCallback)
	s.router.Get("/register/racetime", authHandler.HandleRegisterRaceTime)
	s.router.Get("/register/discord", authHandler.HandleRegisterDiscord)
	s.router.Get("/merge-accounts", authHandler.HandleMerge)
	s.router.Get("/logout", authHandler.HandleLogout)

	s.router.Get("/me", userHandler.HandleMe)
	s.router.Get("/user/{id}", userHandler.HandleGet)

	return nil
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped")
	}
	return nil
}
