// Package engine — CRUD-движок над реестром сущностей: трансляция фильтров,
// компенсирующие выборки, изменение связей и жизненный цикл схем арендаторов.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"strata/internal/bus"
	"strata/internal/dsl"
	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
	"strata/internal/tenant"
)

// Entity — нормализованная запись, которую отдаёт движок
type Entity = map[string]any

// Options — параметры одного вызова. Нулевое значение даёт поведение по умолчанию:
// автоинкрементные ключи из DTO отбрасываются, связи из DTO применяются.
type Options struct {
	TransactionID        string
	Tenant               string
	Scope                string
	KeepAutoID           bool
	CreateNestedEntities bool
	SkipAssociations     bool
	KeepTenantID         bool
}

// ListOptions — сортировка и пагинация в сыром виде плюс необязательная замена include
type ListOptions struct {
	Order   string
	Limit   string
	Offset  string
	Include []query.IncludeSpec
}

type Config struct {
	Multitenant bool
	// TenantEntity — сущность, записи которой владеют схемами
	TenantEntity string
	Separator    string
	ListLimit    int
}

var actions = []query.Action{query.ActionList, query.ActionRead, query.ActionCreate, query.ActionUpdate, query.ActionDelete}

type Engine struct {
	reg     *model.Registry
	storage store.Storage
	txs     *store.Transactions
	x       *store.Executor
	tr      *query.Translator
	res     *query.Resolver
	ser     *tenant.Serializer
	events  *notifier
	cfg     Config
	log     zerolog.Logger

	mu       sync.RWMutex
	includes map[int]map[query.Action][]*query.IncludeNode // индекс типа -> действие -> дерево
}

// New собирает движок и разрешает include всех зарегистрированных типов.
// Ошибка разрешения — ошибка конфигурации, движок не создаётся. b может быть nil.
func New(reg *model.Registry, s store.Storage, b bus.Bus, cfg Config, log zerolog.Logger) (*Engine, error) {
	log = log.With().Str("component", "engine").Logger()
	e := &Engine{
		reg:      reg,
		storage:  s,
		txs:      store.NewTransactions(s),
		x:        store.NewExecutor(reg, log),
		tr:       query.NewTranslator(reg, cfg.Separator, cfg.ListLimit),
		res:      query.NewResolver(reg),
		ser:      tenant.NewSerializer(cfg.Multitenant),
		events:   &notifier{bus: b, log: log},
		cfg:      cfg,
		log:      log,
		includes: make(map[int]map[query.Action][]*query.IncludeNode),
	}
	if err := e.resolveIncludes(reg.All()); err != nil {
		e.ser.Close()
		return nil, err
	}
	if et := e.tenantType(); et != nil {
		if pk := et.PrimaryKey(); pk == nil || pk.Type != "string" {
			e.ser.Close()
			return nil, &Error{Kind: Configuration, Entity: et.Name, Op: "new", Err: fmt.Errorf("tenant entity needs a string primary key")}
		}
	}
	return e, nil
}

// Close останавливает сериализатор; хранилище закрывает владелец
func (e *Engine) Close() { e.ser.Close() }

func (e *Engine) Registry() *model.Registry { return e.reg }

// Separator — разделитель поля и оператора в ключах фильтра
func (e *Engine) Separator() string { return e.tr.Separator() }

func (e *Engine) resolveIncludes(types []*model.EntityType) error {
	resolved := make(map[int]map[query.Action][]*query.IncludeNode, len(types))
	for _, et := range types {
		byAction := make(map[query.Action][]*query.IncludeNode, len(actions))
		for _, act := range actions {
			nodes, err := e.res.Resolve(query.ParseIncludeString(et.Include(string(act))), et)
			if err != nil {
				return wrap(et, "resolve include", err)
			}
			byAction[act] = nodes
		}
		resolved[et.Index()] = byAction
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, m := range resolved {
		e.includes[i] = m
	}
	return nil
}

// include — разрешённое дерево действия; вызывающий получает общую копию и обязан её клонировать
func (e *Engine) include(et *model.EntityType, act query.Action) []*query.IncludeNode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.includes[et.Index()][act]
}

func (e *Engine) entity(name, op string) (*model.EntityType, error) {
	et, ok := e.reg.Lookup(name)
	if !ok {
		return nil, &Error{Kind: NotFound, Entity: name, Op: op, Err: fmt.Errorf("unknown entity %q", name)}
	}
	return et, nil
}

func (e *Engine) scope(et *model.EntityType, name, op string) (model.Scope, error) {
	sc, ok := et.Scope(name)
	if !ok {
		return model.Scope{}, invalid(et, op, []model.FieldError{
			model.Ferr(model.ErrUnknownScope, "scope", "Scope '"+name+"' is not defined", name),
		})
	}
	return sc, nil
}

// schemaFor — схема, в которую переключается реестр для вызова
func (e *Engine) schemaFor(o Options) string {
	if o.Tenant != "" {
		return o.Tenant
	}
	return e.reg.DefaultSchema()
}

// step выполняет одно обращение к хранилищу под билетом сериализатора:
// переключение схемы, затем fn. Без TransactionID шаг идёт в собственной транзакции.
func (e *Engine) step(ctx context.Context, o Options, fn func(tx store.Tx) error) error {
	return e.ser.Do(ctx, func() error {
		if e.cfg.Multitenant {
			e.reg.ChangeTenant(e.schemaFor(o))
		}
		if o.TransactionID != "" {
			tx, ok := e.txs.Get(o.TransactionID)
			if !ok {
				return fmt.Errorf("%s: %w", o.TransactionID, store.ErrUnknownTransaction)
			}
			return fn(tx)
		}
		tx, err := e.storage.Begin(ctx)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			if rerr := tx.Rollback(ctx); rerr != nil {
				e.log.Warn().Err(rerr).Msg("rollback failed")
			}
			return err
		}
		return tx.Commit(ctx)
	})
}

// schemaStep — операция над схемами хранилища под тем же билетом
func (e *Engine) schemaStep(ctx context.Context, fn func() error) error {
	return e.ser.Do(ctx, fn)
}

// StartTransaction открывает транзакцию, которую можно передавать в Options.TransactionID
func (e *Engine) StartTransaction(ctx context.Context) (string, error) {
	id, err := e.txs.Start(ctx)
	if err != nil {
		return "", wrap(nil, "start transaction", err)
	}
	return id, nil
}

func (e *Engine) Commit(ctx context.Context, id string) error {
	return e.finish(ctx, id, "commit", e.txs.Commit)
}

func (e *Engine) Rollback(ctx context.Context, id string) error {
	return e.finish(ctx, id, "rollback", e.txs.Rollback)
}

func (e *Engine) finish(ctx context.Context, id, op string, fn func(context.Context, string) error) error {
	if err := fn(ctx, id); err != nil {
		if err == store.ErrUnknownTransaction {
			return &Error{Kind: NotFound, Op: op, Err: fmt.Errorf("%s: %w", id, err)}
		}
		return wrap(nil, op, err)
	}
	return nil
}

// Register добавляет типы во время работы: реестр, include, таблицы во всех схемах
func (e *Engine) Register(ctx context.Context, decls []*dsl.Entity) ([]*model.EntityType, error) {
	types, err := e.reg.Load(decls)
	if err != nil {
		return nil, &Error{Kind: Configuration, Op: "register", Err: err}
	}
	if err := e.resolveIncludes(types); err != nil {
		return nil, err
	}
	if err := e.syncTypes(ctx, types); err != nil {
		return nil, err
	}
	for _, et := range types {
		e.log.Info().Str("entity", et.Name).Int("index", et.Index()).Msg("entity registered")
	}
	return types, nil
}

// Migrate создаёт схемы и недостающие таблицы всех типов
func (e *Engine) Migrate(ctx context.Context) error {
	return e.syncTypes(ctx, e.reg.All())
}

func (e *Engine) syncTypes(ctx context.Context, types []*model.EntityType) error {
	bySchema := map[string][]*model.EntityType{}
	var shared []*model.EntityType
	for _, et := range types {
		if et.Pinned != "" {
			bySchema[et.Pinned] = append(bySchema[et.Pinned], et)
			continue
		}
		shared = append(shared, et)
	}
	if len(shared) > 0 {
		bySchema[e.reg.DefaultSchema()] = append(bySchema[e.reg.DefaultSchema()], shared...)
	}

	// закреплённые схемы первыми: список арендаторов читается из admin
	schemas := make([]string, 0, len(bySchema))
	for s := range bySchema {
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool {
		di, dj := schemas[i] == e.reg.DefaultSchema(), schemas[j] == e.reg.DefaultSchema()
		if di != dj {
			return dj
		}
		return schemas[i] < schemas[j]
	})
	for _, s := range schemas {
		if err := e.syncSchema(ctx, s, bySchema[s]); err != nil {
			return err
		}
	}

	if len(shared) == 0 || e.tenantType() == nil {
		return nil
	}
	tenants, err := e.tenantSchemas(ctx)
	if err != nil {
		return err
	}
	for _, s := range tenants {
		if s == e.reg.AdminSchema() || s == e.reg.DefaultSchema() {
			continue
		}
		if err := e.syncSchema(ctx, s, shared); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncSchema(ctx context.Context, schema string, types []*model.EntityType) error {
	err := e.schemaStep(ctx, func() error {
		if err := e.storage.CreateSchema(ctx, schema); err != nil {
			return err
		}
		return e.storage.Sync(ctx, schema, types)
	})
	if err != nil {
		return wrap(nil, "sync "+schema, err)
	}
	e.log.Debug().Str("schema", schema).Int("types", len(types)).Msg("schema synced")
	return nil
}
