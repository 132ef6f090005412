package main

import (
	"context"
	"time"

	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/config"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/database"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/localstore"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/logging"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/remote"
	"github.com/Zideooop/Equipments-Management-Lite-sub000/internal/syncengine"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// clientApp holds the local stores and, when requested, the remote wiring.
type clientApp struct {
	cfg         config.ClientConfig
	logger      *zap.Logger
	db          *gorm.DB
	store       *localstore.Store
	states      *localstore.StateStore
	remote      *remote.Client
	coordinator *syncengine.Coordinator
}

func openClientApp(withRemote bool) (*clientApp, error) {
	cfg, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if withRemote {
		if err := cfg.RequireRemote(); err != nil {
			return nil, err
		}
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenLocal(cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	store, err := localstore.NewStore(db, time.Now, logger)
	if err != nil {
		return nil, err
	}
	states, err := localstore.NewStateStore(db)
	if err != nil {
		return nil, err
	}

	app := &clientApp{cfg: cfg, logger: logger, db: db, store: store, states: states}
	if !withRemote {
		return app, nil
	}

	order, err := syncengine.ParseOrder(cfg.SyncOrder)
	if err != nil {
		return nil, err
	}
	client, err := remote.NewClient(remote.Config{
		BaseURL: cfg.RemoteURL,
		Token:   cfg.RemoteToken,
		Timeout: cfg.RemoteTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	app.remote = client
	app.coordinator = syncengine.NewCoordinator(syncengine.CoordinatorConfig{
		Push: syncengine.NewPushEngine(syncengine.PushConfig{
			Store:     store,
			Authority: client,
			ChunkSize: cfg.ChunkSize,
			Logger:    logger,
		}),
		Pull: syncengine.NewPullEngine(syncengine.PullConfig{
			Store:     store,
			States:    states,
			Authority: client,
			Logger:    logger,
		}),
		States: states,
		Order:  order,
		Logger: logger,
	})
	return app, nil
}

// recoverInterrupted clears a syncing state left by a process that died mid-cycle.
func (a *clientApp) recoverInterrupted(ctx context.Context) error {
	if a.coordinator == nil {
		return nil
	}
	return a.coordinator.Recover(ctx)
}

func (a *clientApp) Close() {
	_ = a.logger.Sync()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
