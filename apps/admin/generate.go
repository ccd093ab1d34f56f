package main

import (
	"context"
	"time"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/identity"
	"github.com/trezcool/mahudhurio/core/schedule"
	"github.com/trezcool/mahudhurio/core/session"
	logsvc "github.com/trezcool/mahudhurio/services/logger"
	"github.com/trezcool/mahudhurio/storage/database/sqlxstore"
)

// generate materializes a day's sessions out of band, typically to backfill a
// day the scheduler missed.
func (cli *commandLine) generate(dateStr string) error {
	date := time.Now()
	if dateStr != "" {
		var err error
		if date, err = core.ParseDate(dateStr); err != nil {
			return err
		}
	}

	db, err := cli.openDB()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	coreLogger := logsvc.NewRollbarLogger(logger, cli.conf)
	coreLogger.Enable(false)

	store := sqlxstore.New(db, cli.conf.Database.Engine)
	registry := session.NewRegistry(
		store,
		schedule.NewService(store),
		identity.NewResolver(store),
		attendance.NewLedger(store, coreLogger),
		nil,
		coreLogger,
		cli.conf,
	)

	created, err := registry.MaterializeDaily(context.Background(), date)
	if err != nil {
		return err
	}
	logger.Printf("%s: %d sessions materialized\n", core.FormatDate(date), created)
	return nil
}
