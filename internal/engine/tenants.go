package engine

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
	"strata/internal/tenant"
)

// tenantType — сущность-реестр арендаторов; только в многоарендном режиме
func (e *Engine) tenantType() *model.EntityType {
	if !e.cfg.Multitenant || e.cfg.TenantEntity == "" {
		return nil
	}
	et, ok := e.reg.Lookup(e.cfg.TenantEntity)
	if !ok {
		return nil
	}
	return et
}

func (e *Engine) isTenant(et *model.EntityType) bool {
	t := e.tenantType()
	return t != nil && t == et
}

// tenantSchemas — ключи схем всех зарегистрированных арендаторов
func (e *Engine) tenantSchemas(ctx context.Context) ([]string, error) {
	et := e.tenantType()
	pk := et.PrimaryKey().Name
	var rows []store.Row
	err := e.step(ctx, Options{}, func(tx store.Tx) error {
		var err error
		rows, err = tx.Find(ctx, e.x.Table(et), et, store.Find{Order: []query.Order{{Field: pk}}})
		return err
	})
	if err != nil {
		return nil, wrap(et, "list tenants", err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if s, ok := r[pk].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// tenantKey выводит ключ схемы из имени, если вызывающий не просил сохранить свой
func (e *Engine) tenantKey(et *model.EntityType, dto Entity, o Options) error {
	pk := et.PrimaryKey().Name
	if o.KeepTenantID && dto[pk] != nil {
		return nil
	}
	name, _ := dto["name"].(string)
	key := tenant.SchemaKey(name)
	if key == "" {
		return invalid(et, "create", []model.FieldError{
			model.Ferr(model.ErrRequired, "name", "Field 'name' is required", ""),
		})
	}
	dto[pk] = key
	return nil
}

// createTenantSchema создаёт схему арендатора и таблицы в ней.
// Для admin синхронизируются только закреплённые за admin типы.
func (e *Engine) createTenantSchema(ctx context.Context, schema string) error {
	types := e.reg.TypesFor(schema)
	err := e.schemaStep(ctx, func() error {
		if err := e.storage.CreateSchema(ctx, schema); err != nil {
			return err
		}
		return e.storage.Sync(ctx, schema, types)
	})
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	e.log.Info().Str("schema", schema).Int("tables", len(types)).Msg("schema created")
	return nil
}

// createTenantSchemas создаёт схемы для ключей, которых ещё нет в реестре арендаторов,
// и возвращает только созданные. При ошибке созданные схемы удаляются.
func (e *Engine) createTenantSchemas(ctx context.Context, et *model.EntityType, rows []store.Row, o Options) ([]string, error) {
	pk := et.PrimaryKey().Name
	keys := lo.Uniq(lo.Map(rows, func(r store.Row, _ int) string { return fmt.Sprint(r[pk]) }))

	var existing []store.Row
	err := e.step(ctx, o, func(tx store.Tx) error {
		var err error
		existing, err = tx.Find(ctx, e.x.Table(et), et, store.Find{
			Where: store.NormalizeWhere(et, query.Where{pk: query.In(lo.ToAnySlice(keys))}),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	known := lo.SliceToMap(existing, func(r store.Row) (string, bool) { return fmt.Sprint(r[pk]), true })

	var created []string
	for _, k := range keys {
		if known[k] {
			continue
		}
		if err := e.createTenantSchema(ctx, k); err != nil {
			e.dropTenantSchemas(ctx, created)
			return nil, err
		}
		// admin и схема по умолчанию живут независимо от записей арендаторов
		if k != e.reg.AdminSchema() && k != e.reg.DefaultSchema() {
			created = append(created, k)
		}
	}
	return created, nil
}

// dropTenantSchemas откатывает схемы, созданные неудавшейся операцией
func (e *Engine) dropTenantSchemas(ctx context.Context, schemas []string) {
	for _, schema := range schemas {
		if err := e.dropTenantSchema(ctx, schema); err != nil {
			e.log.Warn().Err(err).Str("schema", schema).Msg("orphan schema left behind")
		}
	}
}

func (e *Engine) renameTenantSchema(ctx context.Context, from, to string) error {
	if err := e.schemaStep(ctx, func() error { return e.storage.RenameSchema(ctx, from, to) }); err != nil {
		return fmt.Errorf("rename schema %s: %w", from, err)
	}
	e.log.Info().Str("from", from).Str("schema", to).Msg("schema renamed")
	return nil
}

func (e *Engine) dropTenantSchema(ctx context.Context, schema string) error {
	if schema == e.reg.AdminSchema() || schema == e.reg.DefaultSchema() {
		return fmt.Errorf("schema %s cannot be dropped", schema)
	}
	if err := e.schemaStep(ctx, func() error { return e.storage.DropSchema(ctx, schema) }); err != nil {
		return fmt.Errorf("drop schema %s: %w", schema, err)
	}
	e.log.Info().Str("schema", schema).Msg("schema dropped")
	return nil
}

// retargetTenant: при смене имени ключ выводится заново и схема переименовывается.
// Новый ключ записывается в attrs.
func (e *Engine) retargetTenant(ctx context.Context, et *model.EntityType, previous Entity, attrs Entity, o Options) error {
	pk := et.PrimaryKey().Name
	oldKey, _ := previous[pk].(string)
	newKey := oldKey

	if o.KeepTenantID {
		if s, ok := attrs[pk].(string); ok && s != "" {
			newKey = s
		}
	} else {
		delete(attrs, pk)
		if name, ok := attrs["name"].(string); ok && name != previous["name"] {
			newKey = tenant.SchemaKey(name)
		}
	}
	if newKey == "" || newKey == oldKey {
		return nil
	}
	if oldKey == e.reg.AdminSchema() {
		return invalid(et, "update", []model.FieldError{
			model.Ferr(model.ErrReadOnly, "name", "Admin tenant cannot be renamed", ""),
		})
	}
	if err := e.renameTenantSchema(ctx, oldKey, newKey); err != nil {
		return err
	}
	attrs[pk] = newKey
	return nil
}
