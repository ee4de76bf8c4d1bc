package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"strata/internal/bus"
	"strata/internal/config"
	"strata/internal/dsl"
	"strata/internal/engine"
	"strata/internal/logging"
	"strata/internal/model"
	"strata/internal/pg"
	"strata/internal/store"
	"strata/internal/store/memory"
)

// app — собранные зависимости одного запуска
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	storage store.Storage
	bus     bus.Bus
	eng     *engine.Engine
	closers []func() error
}

func newApp(cfg config.Config) (*app, error) {
	log, closeLog := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	a := &app{cfg: cfg, log: log, closers: []func() error{closeLog}}

	// 1. DSL-сущности и enum-справочники
	decls, err := dsl.LoadAllEntities(cfg.DSLDir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load dsl: %w", err)
	}
	if cfg.EnumsDir != "" {
		cats, err := dsl.LoadEnumCatalogs(cfg.EnumsDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load enums: %w", err)
		}
		if err := dsl.ApplyEnums(decls, cats); err != nil {
			a.Close()
			return nil, err
		}
	}
	reg := model.NewRegistry(cfg.DefaultSchema, cfg.AdminSchema)
	types, err := reg.Load(decls)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load entities: %w", err)
	}
	log.Info().Int("entities", len(types)).Str("dir", cfg.DSLDir).Msg("entities loaded")

	// 2. хранилище
	if cfg.DBURL == "" {
		a.storage = memory.New(log, cfg.DefaultSchema, cfg.AdminSchema)
		log.Warn().Msg("db_url is empty, using in-memory storage")
	} else {
		db, err := pg.Open(cfg.DBURL, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.storage = pg.New(db, reg, log)
	}
	a.closers = append(a.closers, a.storage.Close)

	// 3. шина уведомлений
	if a.bus, err = bus.New(cfg.BusDriver, cfg.RedisURL, log); err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.bus.Close)

	// 4. движок
	a.eng, err = engine.New(reg, a.storage, a.bus, engine.Config{
		Multitenant:  cfg.Multitenant,
		TenantEntity: cfg.TenantEntity,
		Separator:    cfg.OperatorSeparator,
		ListLimit:    cfg.ListLimit,
	}, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.eng.Close(); return nil })
	return a, nil
}

// Close закрывает ресурсы в обратном порядке
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
