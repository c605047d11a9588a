package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpapi "github.com/avelichka/streamcast/internal/api/http"
	"github.com/avelichka/streamcast/internal/config"
	"github.com/avelichka/streamcast/internal/repository"
	"github.com/avelichka/streamcast/internal/repository/model"
	"github.com/avelichka/streamcast/internal/service"
	"github.com/avelichka/streamcast/lib/logger/slogpretty"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	rooms, err := setupRepository(cfg.Database, log)
	if err != nil {
		log.Error("failed to set up storage", slog.Any("error", err))
		os.Exit(1)
	}

	roomService := service.NewRoomService(rooms, log)
	roomController := httpapi.NewRoomController(roomService)

	router := httpapi.SetupRouter(roomController)

	log.Info("starting relay", slog.String("addr", cfg.HTTP.Address))
	if err := router.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", slog.Any("error", err))
		os.Exit(1)
	}
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

// setupRepository picks postgres when a DSN is configured and falls back to
// the in-memory store otherwise, so the relay runs standalone out of the box.
func setupRepository(cfg config.DatabaseConfig, log *slog.Logger) (repository.RoomRepository, error) {
	if cfg.DSN == "" {
		log.Info("no database dsn configured, using in-memory room store")
		return repository.NewInMemoryRoomRepository(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&model.Room{}, &model.Peer{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return repository.NewPostgresRoomRepository(db), nil
}
