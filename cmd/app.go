package cmd

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"crowd-radio/internal/config"
	"crowd-radio/internal/db"
	"crowd-radio/internal/logging"
	"crowd-radio/internal/station"
	"crowd-radio/internal/storage"
)

// app holds what every command needs: configuration, logger, station
// database and file store.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *sql.DB
	store    *storage.Store
	stations *station.SQLiteRepository
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open station database: %w", err)
	}

	return &app{
		cfg:      cfg,
		log:      logger,
		db:       database,
		store:    storage.NewStore(cfg.Layout(), cfg.Storage.MaxSlots, logger),
		stations: station.NewSQLiteRepository(database),
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to close station database")
	}
}
