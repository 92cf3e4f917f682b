package main

import (
	"context"
	"database/sql"
	"log/slog"

	"callcenter-dispatch/internal/activity"
	"callcenter-dispatch/internal/agents"
	"callcenter-dispatch/internal/calls"
	"callcenter-dispatch/internal/config"
	"callcenter-dispatch/internal/contacts"
	"callcenter-dispatch/internal/queues"
	"callcenter-dispatch/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// stores are the repositories behind the dispatch services.
type stores struct {
	agents   agents.Repository
	calls    calls.Repository
	queues   queues.Repository
	activity activity.Repository
	contacts contacts.Directory

	db *sql.DB
}

func (s stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, error) {
	if cfg.Storage.Driver != config.StoragePostgres {
		log.Warn("using in-memory storage; state is lost on restart")
		return stores{
			agents:   agents.NewMemoryRepo(),
			calls:    calls.NewMemoryRepo(),
			queues:   queues.NewMemoryRepo(),
			activity: activity.NewMemoryRepo(),
			contacts: contacts.NewMemoryDirectory(),
		}, nil
	}

	db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return stores{}, err
	}
	return stores{
		agents:   agents.NewPostgresRepo(db),
		calls:    calls.NewPostgresRepo(db),
		queues:   queues.NewPostgresRepo(db),
		activity: activity.NewPostgresRepo(db),
		contacts: contacts.NewPostgresDirectory(db),
		db:       db,
	}, nil
}
