package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpapi "github.com/immxrtalbeast/mockmeet/internal/api/http"
	"github.com/immxrtalbeast/mockmeet/internal/config"
	"github.com/immxrtalbeast/mockmeet/internal/domain"
	"github.com/immxrtalbeast/mockmeet/internal/repository"
	"github.com/immxrtalbeast/mockmeet/internal/repository/model"
	"github.com/immxrtalbeast/mockmeet/internal/service"
	"github.com/immxrtalbeast/mockmeet/lib/logger/sl"
	"github.com/immxrtalbeast/mockmeet/lib/logger/slogpretty"
)

type repositories struct {
	sessions repository.SessionRepository
	meetings repository.MeetingRepository
	accounts repository.AccountRepository
	profiles repository.ProfileRepository
}

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	repos, err := setupRepositories(cfg, log)
	if err != nil {
		log.Error("failed to connect database", sl.Err(err))
		os.Exit(1)
	}

	auth := service.NewAuthorizer(repos.accounts, repos.profiles, log)
	meetingService := service.NewMeetingService(repos.sessions, repos.meetings, auth, service.MeetingPolicy{
		EarlyJoin:   cfg.Meeting.EarlyJoin,
		ReopenGrace: cfg.Meeting.ReopenGrace,
		MaxReopens:  cfg.Meeting.MaxReopens,
	}, log)
	coordinator := service.NewCoordinator(meetingService, cfg.Meeting.ReadyDelay, domain.ParseEndPolicy(cfg.Meeting.EndPolicy), log)
	iceService := service.NewICEService(cfg.WebRTC.STUNServers, cfg.WebRTC.TURN.URLs, cfg.WebRTC.TURN.Secret, cfg.WebRTC.TURN.TTL)

	meetingController := httpapi.NewMeetingController(meetingService, coordinator, iceService, log)
	signalingController := httpapi.NewSignalingController(coordinator, cfg.HTTP.AllowedOrigins, log)

	router := httpapi.SetupRouter(httpapi.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		JWTSecret:      cfg.Auth.JWTSecret,
	}, meetingController, signalingController)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go coordinator.RunSweeper(ctx, cfg.Meeting.SweepInterval)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	go func() {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", sl.Err(err))
		os.Exit(1)
	}
	log.Info("application stopped")
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func setupRepositories(cfg *config.Config, log *slog.Logger) (*repositories, error) {
	if cfg.Database.DSN == "" {
		log.Warn("database dsn is empty, using in-memory storage")
		return inMemoryRepositories(cfg.Env, log), nil
	}

	db, err := connectDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	accounts := repository.NewPostgresAccountRepository(db)
	return &repositories{
		sessions: repository.NewPostgresSessionRepository(db),
		meetings: repository.NewPostgresMeetingRepository(db),
		accounts: accounts,
		profiles: accounts,
	}, nil
}

// inMemoryRepositories seeds a demo session in local mode so the server is
// usable without a booking backend.
func inMemoryRepositories(env string, log *slog.Logger) *repositories {
	sessions := repository.NewInMemorySessionRepository()
	accounts := repository.NewInMemoryAccountRepository()

	if env == envLocal {
		now := time.Now().UTC()
		sessions.Put(&domain.Session{
			ID:           "demo",
			ParticipantA: "host-1",
			ParticipantB: "guest-1",
			StartTime:    now,
			EndTime:      now.Add(time.Hour),
			Status:       domain.SessionStatusConfirmed,
		})
		log.Info("seeded demo session", slog.String("session_id", "demo"))
	}

	return &repositories{
		sessions: sessions,
		meetings: repository.NewInMemoryMeetingRepository(),
		accounts: accounts,
		profiles: accounts,
	}
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&model.Session{},
		&model.Meeting{},
		&model.MeetingParticipant{},
		&model.Account{},
		&model.Profile{},
	); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}
