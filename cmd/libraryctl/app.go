package main

import (
	"context"

	"github.com/angelmondragon/bookitzzz-backend/internal/audit"
	"github.com/angelmondragon/bookitzzz-backend/pkg/bootstrap"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db"
	"github.com/angelmondragon/bookitzzz-backend/pkg/logger"
	"github.com/angelmondragon/bookitzzz-backend/pkg/outbox"
)

// app is the shared state every subcommand runs against.
type app struct {
	cfg     *config.Config
	logg    *logger.Logger
	db      *db.Client
	audit   *audit.Repository
	emitter *outbox.Service
	// ownsDB is false when the connection is shared with the caller.
	ownsDB bool
}

func (a *app) Close() error {
	if a == nil || a.db == nil || !a.ownsDB {
		return nil
	}
	return a.db.Close()
}

type bootstrapFunc func(ctx context.Context) (*app, error)

func defaultBootstrap(ctx context.Context) (*app, error) {
	cfg, logg, err := bootstrap.Load("libraryctl")
	if err != nil {
		return nil, err
	}
	dbClient, err := bootstrap.OpenDB(ctx, cfg, logg)
	if err != nil {
		return nil, err
	}

	conn := dbClient.DB()
	return &app{
		cfg:     cfg,
		logg:    logg,
		db:      dbClient,
		audit:   audit.NewRepository(conn),
		emitter: outbox.NewService(outbox.NewRepository(conn), logg),
		ownsDB:  true,
	}, nil
}
