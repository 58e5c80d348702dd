package main

import (
	"report_engine/internal/config"
	"report_engine/internal/database"

	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}

	db, err := database.NewDatabase(database.FromAppConfig(cfg))
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	if err := database.AutoMigrate(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	logger.Info("Migrations completed successfully")
}
