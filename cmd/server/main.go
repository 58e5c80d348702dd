package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"report_engine/internal/config"
	"report_engine/internal/database"
	"report_engine/internal/engine"
	"report_engine/internal/provider"
	"report_engine/internal/server"
	"report_engine/internal/service"
	"report_engine/internal/storage"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		// Поставщики зависимостей
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDatabase,
			provideStorage,
			provideDataSources,
			provideProperties,
			provideEngine,
			service.NewGormReportRepository,
			provideReportService,
			provideServer,
		),

		// Хуки жизненного цикла
		fx.Invoke(registerLifecycleHooks),
	)

	// Запуск приложения с остановкой
	runWithGracefulShutdown(app)
}

// provideConfig загружает и предоставляет конфигурацию приложения
func provideConfig() (config.Config, error) {
	return config.Load()
}

// provideLogger создает и настраивает логгер на основе конфигурации
func provideLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	// Устанавливаем уровень логирования
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Неверный уровень логирования, используется info")
	}
	logger.SetLevel(level)

	// Устанавливаем формат вывода
	switch cfg.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	logger.WithField("config", cfg.String()).Info("Запуск сервиса отчетов")
	return logger
}

// provideDatabase открывает БД метаданных отчетов
func provideDatabase(cfg config.Config, lc fx.Lifecycle) (*gorm.DB, error) {
	db, err := database.NewDatabase(database.FromAppConfig(cfg))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

// provideStorage создает хранилище шаблонов
func provideStorage(cfg config.Config, logger *logrus.Logger) (storage.Storage, error) {
	return storage.New(cfg.Storage, storage.DefaultOptions(), logger)
}

// provideDataSources создает пулы подключений к источникам данных отчетов
func provideDataSources(db *gorm.DB, logger *logrus.Logger, lc fx.Lifecycle) *provider.DataSources {
	pools := provider.NewDataSources(db, logger)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Закрытие пулов подключений к источникам данных")
			return pools.Close()
		},
	})
	return pools
}

func provideProperties(db *gorm.DB, cfg config.Config) *provider.Properties {
	return provider.NewProperties(db, cfg.Property)
}

// provideEngine выбирает движок рендеринга по конфигурации
func provideEngine(
	cfg config.Config,
	store storage.Storage,
	pools *provider.DataSources,
	props *provider.Properties,
	logger *logrus.Logger,
) (engine.Engine, error) {
	return engine.New(cfg.Engine.Backend, engine.Dependencies{
		Directory:   provider.NewDirectory(store, cfg.Engine.ReportDir),
		Templates:   store,
		Connections: pools,
		Properties:  props,
		Logger:      logger,
	})
}

func provideReportService(
	cfg config.Config,
	repo service.ReportRepository,
	eng engine.Engine,
	store storage.Storage,
	logger *logrus.Logger,
) service.ReportService {
	return service.NewReportService(repo, eng, store, cfg.Engine.ReportDir, logger)
}

func provideServer(cfg config.Config, svc service.ReportService, props *provider.Properties, logger *logrus.Logger) *server.Server {
	return server.NewServer(cfg, svc, props, logger)
}

// registerLifecycleHooks настраивает хуки жизненного цикла приложения
func registerLifecycleHooks(
	srv *server.Server,
	cfg config.Config,
	logger *logrus.Logger,
	lc fx.Lifecycle,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Запуск HTTP сервера")
			go func() {
				if err := srv.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("Не удалось запустить HTTP сервер")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Завершение работы HTTP сервера")
			return srv.Shutdown(ctx)
		},
	})
}

// runWithGracefulShutdown обрабатывает жизненный цикл приложения с обработкой сигналов
func runWithGracefulShutdown(app *fx.App) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Настраиваем обработку сигналов
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		logrus.WithError(err).Fatal("Не удалось запустить приложение")
	}

	<-quit
	logrus.Info("Получен сигнал завершения работы")

	// Грациозное завершение с таймаутом
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		logrus.WithError(err).Error("Ошибка при завершении работы")
		os.Exit(1)
	}

	logrus.Info("Сервис отчетов остановлен корректно")
}
