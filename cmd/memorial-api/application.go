package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/memorial/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/changerequests"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/config"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/database"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/filestore"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/memories"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/money"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/payments"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/server"
	"github.com/MarcoPoloResearchLab/memorial/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the wired services shared by the server and the maintenance commands.
type application struct {
	config   config.AppConfig
	logger   *zap.Logger
	db       *gorm.DB
	users    *users.Service
	memories *memories.Service
	ledger   *payments.Ledger
	recorder *changerequests.Recorder
}

func openApplication(ctx context.Context, appConfig config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, appConfig)
	if err != nil {
		return nil, err
	}
	files, err := filestore.NewFiles(filestore.FilesConfig{Store: store, PublicPrefix: appConfig.PublicPrefix})
	if err != nil {
		return nil, err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:  db,
		CacheSize: appConfig.CacheSize,
		CacheTTL:  appConfig.CacheTTL,
	})
	if err != nil {
		return nil, err
	}

	attachments, err := memories.NewAttachments(memories.AttachmentsConfig{
		Files: files,
		Quota: memories.QuotaPolicy{
			FreeLimit: appConfig.FreeArchiveLimit,
			Price:     money.FromUnits(appConfig.ExtensionPrice),
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	// Photo writes and balance charges serialize on the same per-memory locks.
	locks := memories.NewKeyedLocks()
	memoryService, err := memories.NewService(memories.ServiceConfig{
		Database:    db,
		Users:       userService,
		Attachments: attachments,
		Locks:       locks,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	ledger, err := payments.NewLedger(payments.LedgerConfig{
		Database:   db,
		Locks:      locks,
		IDProvider: payments.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	primary, err := changerequests.NewDatabaseStore(db)
	if err != nil {
		return nil, err
	}
	fallback, err := changerequests.NewFileStore(appConfig.FallbackDir)
	if err != nil {
		return nil, err
	}
	recorder, err := changerequests.NewRecorder(changerequests.RecorderConfig{
		Primary:  primary,
		Fallback: fallback,
		Files:    files,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		config:   appConfig,
		logger:   logger,
		db:       db,
		users:    userService,
		memories: memoryService,
		ledger:   ledger,
		recorder: recorder,
	}, nil
}

func openStore(ctx context.Context, appConfig config.AppConfig) (filestore.Store, error) {
	switch appConfig.StorageDriver {
	case config.StorageDriverLocal:
		return filestore.NewLocalStore(appConfig.StorageRoot)
	case config.StorageDriverS3:
		return filestore.NewS3Store(ctx, filestore.S3Config{
			Bucket:          appConfig.S3.Bucket,
			Region:          appConfig.S3.Region,
			Endpoint:        appConfig.S3.Endpoint,
			AccessKeyID:     appConfig.S3.AccessKeyID,
			SecretAccessKey: appConfig.S3.SecretAccessKey,
			PathStyle:       appConfig.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", appConfig.StorageDriver)
	}
}

func (a *application) httpHandler() (http.Handler, error) {
	sessions, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(a.config.SessionSigningSecret),
		Issuer:        a.config.SessionIssuer,
		CookieName:    a.config.SessionCookieName,
	})
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(a.config.SessionSigningSecret),
		Issuer:        a.config.SessionIssuer,
		SessionTTL:    a.config.SessionTTL,
		LoginLinkTTL:  a.config.LoginLinkTTL,
	})
	if err != nil {
		return nil, err
	}

	dependencies := server.Dependencies{
		Memories:      a.memories,
		Ledger:        a.ledger,
		Recorder:      a.recorder,
		Users:         a.users,
		Sessions:      sessions,
		Tokens:        tokens,
		Notifier:      server.NewLogNotifier(a.logger),
		PublicBaseURL: a.config.PublicBaseURL,
		Logger:        a.logger,
	}
	if a.config.StorageDriver == config.StorageDriverLocal {
		dependencies.StaticPrefix = a.config.PublicPrefix
		dependencies.StaticRoot = a.config.StorageRoot
	}
	return server.NewHTTPHandler(dependencies)
}

// Close flushes the logger and releases the database handle.
func (a *application) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
