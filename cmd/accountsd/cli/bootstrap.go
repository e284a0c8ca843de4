package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/viper"
	"github.com/uptrace/bun"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/activitymap"
	"github.com/goliatone/go-accounts/config"
	"github.com/goliatone/go-accounts/database"
	"github.com/goliatone/go-accounts/logging"
	"github.com/goliatone/go-accounts/mailer/smtp"
	"github.com/goliatone/go-accounts/observability"
)

// runtime is everything a command needs once configuration is loaded
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *bun.DB
	repo      accounts.RepositoryManager
	telemetry *observability.Telemetry
	service   *accounts.Service
}

func loadViper() (*viper.Viper, error) {
	return config.New(cfgFile)
}

func bootstrap(ctx context.Context, v *viper.Viper) (*runtime, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}

	logger := logging.Setup(logging.Options{
		Service: "accountsd",
		Version: appVersion,
		Format:  cfg.Server.LogFormat,
		Level:   logging.ParseLevel(cfg.Server.LogLevel),
	})
	slog.SetDefault(logger)
	printf := logging.NewPrintf(logger)

	db, err := database.Open(ctx, database.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", "driver", cfg.Database.Driver)

	mailer, err := newMailer(cfg, printf)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	repo := accounts.NewRepositoryManager(db)
	repo.MustValidate()

	telemetry := observability.New(observability.Options{
		MetricsAddr: cfg.Telemetry.MetricsAddr,
		Logger:      logger,
	})

	service := accounts.NewService(accounts.Dependencies{
		Repo:   repo,
		Hasher: accounts.NewBcryptHasher(cfg.Auth.BcryptCost),
		Mailer: mailer,
		Config: cfg,
		Logger: printf,
		Activity: accounts.MultiActivitySink{
			telemetry.Metrics().ActivitySink(),
			activitymap.LogSink(logger, slog.LevelDebug),
		},
	})

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		repo:      repo,
		telemetry: telemetry,
		service:   service,
	}, nil
}

func (r *runtime) Close() error {
	return r.db.Close()
}

func newMailer(cfg *config.Config, logger accounts.Logger) (accounts.Mailer, error) {
	if cfg.Mail.Driver != "smtp" {
		return accounts.NewLogMailer(logger, nil), nil
	}
	return smtp.New(smtp.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		TLS:      cfg.Mail.TLS,
	})
}
