package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
)

// List возвращает страницу корней с деревом include.
// ListOptions.Include заменяет объявленное для list дерево.
func (e *Engine) List(ctx context.Context, entity string, filter map[string]any, opts ListOptions, o Options) (out []Entity, err error) {
	defer func() { e.events.emit(ctx, entity, "list", o, out, err) }()

	et, err := e.entity(entity, "list")
	if err != nil {
		return nil, err
	}
	sc, err := e.scope(et, o.Scope, "list")
	if err != nil {
		return nil, err
	}
	base := e.include(et, query.ActionList)
	if opts.Include != nil {
		base, err = e.res.Resolve(opts.Include, et)
		if err != nil {
			return nil, invalid(et, "list", []model.FieldError{
				model.Ferr(model.ErrInvalid, "include", err.Error(), ""),
			})
		}
	}

	spec, flagged := e.tr.Translate(et, filter, base, query.ListOptions{Order: opts.Order, Limit: opts.Limit, Offset: opts.Offset}, query.ActionList)
	rows, err := e.fetch(ctx, o, spec, flagged, base, dropEmptyBranches(spec.Include))
	if err != nil {
		return nil, wrap(et, "list", err)
	}
	store.ApplyScope(rows, sc)
	return rows, nil
}

// Read — первая запись, подходящая под фильтр
func (e *Engine) Read(ctx context.Context, entity string, filter map[string]any, o Options) (out Entity, err error) {
	defer func() { e.events.emit(ctx, entity, "read", o, out, err) }()

	et, err := e.entity(entity, "read")
	if err != nil {
		return nil, err
	}
	sc, err := e.scope(et, o.Scope, "read")
	if err != nil {
		return nil, err
	}
	rows, err := e.first(ctx, et, filter, o, query.ActionRead, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(et, "read", "entity %s does not exist", describe(filter))
	}
	store.ApplyScope(rows[:1], sc)
	return rows[0], nil
}

// first — выборка по фильтру с деревом действия и компенсацией; limit 0 — без ограничения
func (e *Engine) first(ctx context.Context, et *model.EntityType, filter map[string]any, o Options, act query.Action, limit int) ([]store.Row, error) {
	base := e.include(et, act)
	spec, flagged := e.tr.Translate(et, filter, base, query.ListOptions{}, act)
	if limit > 0 {
		spec.Limit = &limit
	}
	rows, err := e.fetch(ctx, o, spec, flagged, base, nil)
	if err != nil {
		return nil, wrap(et, string(act), err)
	}
	return rows, nil
}

// Count — число корней. Фильтр по связям считается полной выборкой:
// простой подсчёт под to-many include размножил бы строки.
func (e *Engine) Count(ctx context.Context, entity string, filter map[string]any, o Options) (int64, error) {
	et, err := e.entity(entity, "count")
	if err != nil {
		return 0, err
	}
	dotted := lo.Filter(lo.Keys(filter), func(k string, _ int) bool { return strings.Contains(k, ".") })
	if len(dotted) == 0 {
		spec, _ := e.tr.Translate(et, filter, nil, query.ListOptions{}, query.ActionRead)
		var n int64
		err := e.step(ctx, o, func(tx store.Tx) error {
			var err error
			n, err = e.x.Count(ctx, tx, spec)
			return err
		})
		return n, wrap(et, "count", err)
	}

	spec, _ := e.tr.Translate(et, filter, e.countInclude(et, dotted), query.ListOptions{}, query.ActionRead)
	var rows []store.Row
	err = e.step(ctx, o, func(tx store.Tx) error {
		var err error
		rows, err = e.x.Fetch(ctx, tx, spec)
		return err
	})
	if err != nil {
		return 0, wrap(et, "count", err)
	}
	return int64(len(rows)), nil
}

// countInclude строит дерево из префиксов ключей фильтра: "a.b.c" -> include "a.b".
// Пути, которые не разрешаются, пропускаются так же, как их игнорирует транслятор.
func (e *Engine) countInclude(et *model.EntityType, keys []string) []*query.IncludeNode {
	var nodes []*query.IncludeNode
	for _, p := range lo.Uniq(lo.Map(keys, func(k string, _ int) string { return k[:strings.LastIndex(k, ".")] })) {
		resolved, err := e.res.Resolve(query.ParseIncludeString(p), et)
		if err != nil {
			e.log.Debug().Str("entity", et.Name).Str("path", p).Msg("count path skipped")
			continue
		}
		nodes = append(nodes, resolved...)
	}
	return query.Aggregate(nodes)
}

// Validate проверяет DTO без записи; partial — только переданные поля
func (e *Engine) Validate(ctx context.Context, entity string, dto Entity, partial bool, o Options) ([]model.FieldError, error) {
	et, err := e.entity(entity, "validate")
	if err != nil {
		return nil, err
	}
	attrs, _, _ := splitDTO(et, dto)
	return model.Validate(et, attrs, partial), nil
}

// Create вставляет запись и возвращает её с деревом include для create
func (e *Engine) Create(ctx context.Context, entity string, dto Entity, o Options) (out Entity, err error) {
	defer func() { e.events.emit(ctx, entity, "create", o, out, err) }()

	et, err := e.entity(entity, "create")
	if err != nil {
		return nil, err
	}
	sc, err := e.scope(et, o.Scope, "create")
	if err != nil {
		return nil, err
	}
	out, err = e.create(ctx, et, dto, o)
	if err != nil {
		return nil, err
	}
	store.ApplyScope([]store.Row{out}, sc)
	return out, nil
}

func (e *Engine) create(ctx context.Context, et *model.EntityType, dto Entity, o Options) (Entity, error) {
	attrs, links, nested := splitDTO(et, dto)
	keepSeq := stripAutoID(et, attrs, o)
	if o.SkipAssociations {
		links = map[string]any{}
	}

	if o.CreateNestedEntities && len(nested) > 0 {
		if _, err := e.createNested(ctx, et, nested, attrs, o, true); err != nil {
			return nil, err
		}
	}

	if errs := model.Validate(et, attrs, false); len(errs) > 0 {
		return nil, invalid(et, "create", errs)
	}

	var schema string
	if e.isTenant(et) {
		if err := e.tenantKey(et, attrs, o); err != nil {
			return nil, err
		}
		pk := et.PrimaryKey().Name
		// существующего арендатора не трогаем: его схему нельзя удалить при откате
		var n int64
		err := e.step(ctx, o, func(tx store.Tx) error {
			var err error
			n, err = tx.Count(ctx, e.x.Table(et), et, store.NormalizeWhere(et, query.Where{pk: attrs[pk]}))
			return err
		})
		if err != nil {
			return nil, wrap(et, "create", err)
		}
		if n > 0 {
			return nil, invalid(et, "create", []model.FieldError{
				model.Ferr(model.ErrUniqueViolation, pk, fmt.Sprintf("Tenant '%v' already exists", attrs[pk]), ""),
			})
		}
		schema = fmt.Sprint(attrs[pk])
		if err := e.createTenantSchema(ctx, schema); err != nil {
			return nil, wrap(et, "create", err)
		}
	}
	model.ApplyDefaults(et, attrs)

	var inserted store.Row
	err := e.step(ctx, o, func(tx store.Tx) error {
		got, err := tx.Insert(ctx, e.x.Table(et), et, []store.Row{attrs}, false)
		if err != nil {
			return err
		}
		inserted = got[0]
		if r, ok := tx.(store.SequenceResetter); ok && keepSeq {
			return r.ResetSequence(ctx, e.x.Table(et), et)
		}
		return nil
	})
	if err != nil {
		if schema != "" {
			e.dropTenantSchemas(ctx, []string{schema})
		}
		return nil, wrap(et, "create", err)
	}

	out, err := e.reload(ctx, et, inserted, o, query.ActionCreate)
	if err != nil {
		return nil, fmt.Errorf("entity %v could not be created: %w", inserted[et.PrimaryKey().Name], err)
	}

	if o.CreateNestedEntities && len(nested) > 0 {
		after, err := e.createNested(ctx, et, nested, attrs, o, false)
		if err != nil {
			return nil, err
		}
		for k, v := range after {
			links[k] = v
		}
	}
	if len(links) > 0 {
		return e.associate(ctx, et, out, links, o, query.ActionCreate)
	}
	return out, nil
}

// Update меняет первую подходящую запись и возвращает её новое и прежнее состояние.
// Новое состояние ищется по фильтру, в который подставлены значения из DTO,
// и по первичному ключу обновлённой записи.
func (e *Engine) Update(ctx context.Context, entity string, filter map[string]any, dto Entity, o Options) (updated, previous Entity, err error) {
	defer func() { e.events.emit(ctx, entity, "update", o, []Entity{updated, previous}, err) }()

	et, err := e.entity(entity, "update")
	if err != nil {
		return nil, nil, err
	}
	sc, err := e.scope(et, o.Scope, "update")
	if err != nil {
		return nil, nil, err
	}
	prev, err := e.first(ctx, et, filter, o, query.ActionUpdate, 1)
	if err != nil {
		return nil, nil, err
	}
	if len(prev) == 0 {
		return nil, nil, notFound(et, "update", "entity %s does not exist", describe(filter))
	}

	rows, err := e.update(ctx, et, filter, dto, prev, o)
	if err != nil {
		return nil, nil, err
	}
	store.ApplyScope(rows, sc)
	store.ApplyScope(prev, sc)
	return rows[0], prev[0], nil
}

// BulkUpdate меняет все подходящие записи
func (e *Engine) BulkUpdate(ctx context.Context, entity string, filter map[string]any, dto Entity, o Options) (updated, previous []Entity, err error) {
	defer func() { e.events.emit(ctx, entity, "bulk update", o, [][]Entity{updated, previous}, err) }()

	et, err := e.entity(entity, "bulk update")
	if err != nil {
		return nil, nil, err
	}
	sc, err := e.scope(et, o.Scope, "bulk update")
	if err != nil {
		return nil, nil, err
	}
	prev, err := e.first(ctx, et, filter, o, query.ActionUpdate, 0)
	if err != nil {
		return nil, nil, err
	}
	if len(prev) == 0 {
		return nil, nil, notFound(et, "bulk update", "no entity matches query criteria")
	}

	rows, err := e.update(ctx, et, filter, dto, prev, o)
	if err != nil {
		return nil, nil, err
	}
	store.ApplyScope(rows, sc)
	store.ApplyScope(prev, sc)
	return rows, prev, nil
}

// update — общая часть Update и BulkUpdate: запись по ключам prev, повторная выборка, связи
func (e *Engine) update(ctx context.Context, et *model.EntityType, filter map[string]any, dto Entity, prev []store.Row, o Options) ([]store.Row, error) {
	pk := et.PrimaryKey().Name
	attrs, links, _ := splitDTO(et, dto)
	keepSeq := stripAutoID(et, attrs, o)
	if o.SkipAssociations {
		links = map[string]any{}
	}

	errs := model.CheckReadonly(et, attrs)
	errs = append(errs, model.Validate(et, attrs, true)...)
	if len(errs) > 0 {
		return nil, invalid(et, "update", errs)
	}
	// ключ арендатора выводится из имени записи, поэтому менять имя или ключ можно только по одной
	var renamed [2]string
	if e.isTenant(et) {
		if len(prev) > 1 {
			if _, ok := attrs["name"]; ok {
				return nil, invalid(et, "update", []model.FieldError{
					model.Ferr(model.ErrReadOnly, "name", "Tenants can be renamed one at a time", ""),
				})
			}
			if _, ok := attrs[pk]; ok {
				return nil, invalid(et, "update", []model.FieldError{
					model.Ferr(model.ErrReadOnly, pk, "Tenant keys can be changed one at a time", ""),
				})
			}
		} else {
			if err := e.retargetTenant(ctx, et, prev[0], attrs, o); err != nil {
				return nil, wrap(et, "update", err)
			}
			if k, ok := attrs[pk].(string); ok && k != fmt.Sprint(prev[0][pk]) {
				renamed = [2]string{fmt.Sprint(prev[0][pk]), k}
			}
		}
	}

	keys := store.Pluck(prev, pk)
	if len(attrs) > 0 {
		err := e.step(ctx, o, func(tx store.Tx) error {
			tb := e.x.Table(et)
			if _, err := tx.Update(ctx, tb, et, store.NormalizeWhere(et, query.Where{pk: query.In(keys)}), attrs); err != nil {
				return err
			}
			if r, ok := tx.(store.SequenceResetter); ok && keepSeq {
				return r.ResetSequence(ctx, tb, et)
			}
			return nil
		})
		if err != nil {
			if renamed[1] != "" {
				if rerr := e.renameTenantSchema(ctx, renamed[1], renamed[0]); rerr != nil {
					e.log.Warn().Err(rerr).Str("schema", renamed[1]).Msg("schema rename not reverted")
				}
			}
			return nil, wrap(et, "update", err)
		}
	}
	if v, ok := attrs[pk]; ok {
		keys = []any{v}
	}

	// фильтр мог ссылаться на изменённые поля: подставляем записанные значения
	merged := lo.Assign(map[string]any{}, filter)
	for k := range merged {
		if v, ok := attrs[k]; ok {
			merged[k] = v
		}
	}
	base := e.include(et, query.ActionUpdate)
	spec, flagged := e.tr.Translate(et, merged, base, query.ListOptions{}, query.ActionUpdate)
	spec.Where.Add(pk, query.In(keys))
	rows, err := e.fetch(ctx, o, spec, flagged, base, nil)
	if err != nil {
		return nil, wrap(et, "update", err)
	}
	if len(rows) == 0 {
		return nil, notFound(et, "update", "entity %s does not exist", describe(merged))
	}
	rows = inOrderOf(rows, keys, pk)

	if len(links) == 0 {
		return rows, nil
	}
	for i, r := range rows {
		next, err := e.associate(ctx, et, r, links, o, query.ActionUpdate)
		if err != nil {
			return nil, err
		}
		rows[i] = next
	}
	return rows, nil
}

// Delete удаляет первую подходящую запись и возвращает её состояние до удаления.
// Удаление арендатора удаляет и его схему.
func (e *Engine) Delete(ctx context.Context, entity string, filter map[string]any, o Options) (out Entity, err error) {
	defer func() { e.events.emit(ctx, entity, "delete", o, out, err) }()

	et, err := e.entity(entity, "delete")
	if err != nil {
		return nil, err
	}
	sc, err := e.scope(et, o.Scope, "delete")
	if err != nil {
		return nil, err
	}
	rows, err := e.first(ctx, et, filter, o, query.ActionDelete, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(et, "delete", "entity %s does not exist", describe(filter))
	}
	out = rows[0]
	pk := et.PrimaryKey().Name

	if e.isTenant(et) {
		if err := e.dropTenantSchema(ctx, fmt.Sprint(out[pk])); err != nil {
			return nil, wrap(et, "delete", err)
		}
	}
	err = e.step(ctx, o, func(tx store.Tx) error {
		_, err := tx.Delete(ctx, e.x.Table(et), et, store.NormalizeWhere(et, query.Where{pk: out[pk]}))
		return err
	})
	if err != nil {
		return nil, wrap(et, "delete", err)
	}
	store.ApplyScope(rows[:1], sc)
	return out, nil
}

// BulkCreate вставляет записи, молча пропуская дубликаты ключей.
// Для пропущенных записей с ключом в DTO возвращается уже существующая запись.
func (e *Engine) BulkCreate(ctx context.Context, entity string, dtos []Entity, o Options) (out []Entity, err error) {
	defer func() { e.events.emit(ctx, entity, "bulk create", o, out, err) }()

	et, err := e.entity(entity, "bulk create")
	if err != nil {
		return nil, err
	}
	sc, err := e.scope(et, o.Scope, "bulk create")
	if err != nil {
		return nil, err
	}
	pk := et.PrimaryKey().Name

	rows := make([]store.Row, len(dtos))
	links := make([]map[string]any, len(dtos))
	keepSeq := false
	var errs []model.FieldError
	for i, dto := range dtos {
		attrs, l, _ := splitDTO(et, dto)
		keepSeq = stripAutoID(et, attrs, o) || keepSeq
		if !o.SkipAssociations {
			links[i] = l
		}
		if e.isTenant(et) {
			if err := e.tenantKey(et, attrs, o); err != nil {
				return nil, err
			}
		}
		for _, fe := range model.Validate(et, attrs, false) {
			fe.Field = fmt.Sprintf("%d.%s", i, fe.Field)
			errs = append(errs, fe)
		}
		model.ApplyDefaults(et, attrs)
		rows[i] = attrs
	}
	if len(errs) > 0 {
		return nil, invalid(et, "bulk create", errs)
	}

	var created []string
	if e.isTenant(et) {
		if created, err = e.createTenantSchemas(ctx, et, rows, o); err != nil {
			return nil, wrap(et, "bulk create", err)
		}
	}

	var inserted []store.Row
	err = e.step(ctx, o, func(tx store.Tx) error {
		got, err := tx.Insert(ctx, e.x.Table(et), et, rows, true)
		if err != nil {
			return err
		}
		inserted = got
		if r, ok := tx.(store.SequenceResetter); ok && keepSeq {
			return r.ResetSequence(ctx, e.x.Table(et), et)
		}
		return nil
	})
	if err != nil {
		e.dropTenantSchemas(ctx, created)
		return nil, wrap(et, "bulk create", err)
	}

	keys := make([]any, len(rows))
	for i := range rows {
		switch {
		case inserted[i] != nil:
			keys[i] = inserted[i][pk]
		default:
			keys[i] = rows[i][pk]
		}
	}
	out, err = e.byKeys(ctx, et, lo.Filter(keys, func(k any, _ int) bool { return k != nil }), o, query.ActionCreate)
	if err != nil {
		return nil, err
	}
	if skipped := len(rows) - lo.CountBy(inserted, func(r store.Row) bool { return r != nil }); skipped > 0 {
		e.log.Debug().Str("entity", et.Name).Int("skipped", skipped).Msg("duplicates ignored")
	}

	byKey := make(map[string]int, len(keys))
	for i, k := range keys {
		if k != nil {
			byKey[fmt.Sprint(k)] = i
		}
	}
	for i, r := range out {
		j, ok := byKey[fmt.Sprint(r[pk])]
		if !ok || len(links[j]) == 0 {
			continue
		}
		next, err := e.associate(ctx, et, r, links[j], o, query.ActionCreate)
		if err != nil {
			return nil, err
		}
		out[i] = next
	}
	store.ApplyScope(out, sc)
	return out, nil
}

// describe — фильтр для текста ошибки
func describe(filter map[string]any) string {
	if len(filter) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(filter))
	for k, v := range filter {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ", ") + "}"
}
