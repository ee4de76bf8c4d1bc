package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
)

// Storage — store.Storage поверх PostgreSQL: схема на арендатора, таблица на тип
type Storage struct {
	db  *gorm.DB
	reg *model.Registry
	log zerolog.Logger
}

func New(db *gorm.DB, reg *model.Registry, log zerolog.Logger) *Storage {
	return &Storage{db: db, reg: reg, log: log.With().Str("component", "pg").Logger()}
}

func (s *Storage) Begin(ctx context.Context) (store.Tx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &pgTx{db: tx}, nil
}

func (s *Storage) CreateSchema(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Exec("create schema if not exists " + sqlIdent(name)).Error
	return classify(err, store.Table{Schema: name})
}

func (s *Storage) DropSchema(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).Exec("drop schema if exists " + sqlIdent(name) + " cascade").Error
	return classify(err, store.Table{Schema: name})
}

func (s *Storage) RenameSchema(ctx context.Context, from, to string) error {
	err := s.db.WithContext(ctx).Exec(fmt.Sprintf("alter schema %s rename to %s", sqlIdent(from), sqlIdent(to))).Error
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "3F000" {
		return classify(err, store.Table{Schema: from})
	}
	return classify(err, store.Table{Schema: to})
}

// Sync создаёт недостающие таблицы, индексы и внешние ключи типов в существующей схеме
func (s *Storage) Sync(ctx context.Context, schema string, types []*model.EntityType) error {
	var n int64
	err := s.db.WithContext(ctx).
		Raw("select count(*) from information_schema.schemata where schema_name = ?", schema).
		Scan(&n).Error
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", schema, store.ErrSchemaNotFound)
	}
	ddl, err := GenerateDDL(schema, types, s.reg.Lookup)
	if err != nil {
		return err
	}
	delete(ddl, "000_schema")
	s.log.Debug().Str("schema", schema).Int("types", len(types)).Msg("sync schema")
	return ApplyDDL(ctx, s.db, ddl, s.log)
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type pgTx struct {
	db *gorm.DB
}

func (t *pgTx) scoped(ctx context.Context, tb store.Table, where query.Where) *gorm.DB {
	q := t.db.WithContext(ctx).Table(tb.String())
	if exprs := whereExprs(where); len(exprs) > 0 {
		q = q.Clauses(clause.Where{Exprs: exprs})
	}
	return q
}

func (t *pgTx) Find(ctx context.Context, tb store.Table, et *model.EntityType, f store.Find) ([]store.Row, error) {
	q := t.scoped(ctx, tb, f.Where)
	for _, o := range f.Order {
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: o.Field}, Desc: o.Desc})
	}
	if f.Limit != nil {
		q = q.Limit(*f.Limit)
	}
	if f.Offset != nil {
		q = q.Offset(*f.Offset)
	}
	var raw []map[string]any
	if err := q.Find(&raw).Error; err != nil {
		return nil, classify(err, tb)
	}
	out := make([]store.Row, len(raw))
	for i, r := range raw {
		out[i] = decodeRow(et, r)
	}
	return out, nil
}

func (t *pgTx) Count(ctx context.Context, tb store.Table, et *model.EntityType, where query.Where) (int64, error) {
	var n int64
	if err := t.scoped(ctx, tb, where).Count(&n).Error; err != nil {
		return 0, classify(err, tb)
	}
	return n, nil
}

func (t *pgTx) Insert(ctx context.Context, tb store.Table, et *model.EntityType, rows []store.Row, ignoreDuplicates bool) ([]store.Row, error) {
	out := make([]store.Row, len(rows))
	target := qualified(tb.Schema, tb.Name)
	for i, in := range rows {
		cols, vals, err := encodeRow(et, in)
		if err != nil {
			return nil, classify(err, tb)
		}
		var sql strings.Builder
		sql.WriteString("INSERT INTO " + target)
		if len(cols) == 0 {
			sql.WriteString(" DEFAULT VALUES")
		} else {
			quoted := make([]string, len(cols))
			for j, c := range cols {
				quoted[j] = sqlIdent(c)
			}
			sql.WriteString(" (" + strings.Join(quoted, ", ") + ") VALUES (?)")
		}
		if ignoreDuplicates {
			sql.WriteString(" ON CONFLICT DO NOTHING")
		}
		sql.WriteString(" RETURNING *")

		var args []any
		if len(cols) > 0 {
			args = []any{vals}
		}
		var got []map[string]any
		if err := t.db.WithContext(ctx).Raw(sql.String(), args...).Scan(&got).Error; err != nil {
			return nil, classify(err, tb)
		}
		if len(got) > 0 {
			out[i] = decodeRow(et, got[0])
		}
	}
	return out, nil
}

func (t *pgTx) Update(ctx context.Context, tb store.Table, et *model.EntityType, where query.Where, values store.Row) (int64, error) {
	cols, vals, err := encodeRow(et, values)
	if err != nil {
		return 0, classify(err, tb)
	}
	if len(cols) == 0 {
		return 0, nil
	}
	set := make(map[string]any, len(cols))
	for i, c := range cols {
		set[c] = vals[i]
	}
	q := t.scoped(ctx, tb, where)
	if len(where) == 0 {
		q = q.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := q.Updates(set)
	if res.Error != nil {
		return 0, classify(res.Error, tb)
	}
	return res.RowsAffected, nil
}

func (t *pgTx) Delete(ctx context.Context, tb store.Table, et *model.EntityType, where query.Where) (int64, error) {
	q := t.scoped(ctx, tb, where)
	if len(where) == 0 {
		q = q.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := q.Delete(map[string]any{})
	if res.Error != nil {
		return 0, classify(res.Error, tb)
	}
	return res.RowsAffected, nil
}

// ResetSequence подтягивает serial-последовательность к максимальному ключу таблицы
func (t *pgTx) ResetSequence(ctx context.Context, tb store.Table, et *model.EntityType) error {
	pk := et.PrimaryKey()
	if pk == nil || !pk.AutoIncrement {
		return nil
	}
	col := sqlIdent(pk.Name)
	sql := fmt.Sprintf(
		"SELECT setval(pg_get_serial_sequence(?, ?), GREATEST(COALESCE(MAX(%s), 0), 1), COALESCE(MAX(%s), 0) > 0) FROM %s",
		col, col, qualified(tb.Schema, tb.Name))
	return classify(t.db.WithContext(ctx).Exec(sql, qualified(tb.Schema, tb.Name), pk.Name).Error, tb)
}

func (t *pgTx) Commit(ctx context.Context) error { return t.db.Commit().Error }

func (t *pgTx) Rollback(ctx context.Context) error { return t.db.Rollback().Error }

// encodeRow отбирает колонки типа в порядке объявления; json и array уходят строкой jsonb
func encodeRow(et *model.EntityType, row store.Row) ([]string, []any, error) {
	var cols []string
	var vals []any
	for _, a := range et.Attributes {
		v, ok := row[a.Name]
		if !ok {
			continue
		}
		if v != nil && (a.Type == "json" || a.Type == "array") {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, nil, &store.ConstraintError{Kind: store.ConstraintData, Column: a.Name, Message: err.Error()}
			}
			v = string(b)
		}
		cols = append(cols, a.Name)
		vals = append(vals, v)
	}
	return cols, vals, nil
}

// decodeRow приводит значения драйвера к представлению движка (как в памяти)
func decodeRow(et *model.EntityType, raw map[string]any) store.Row {
	out := make(store.Row, len(raw))
	for k, v := range raw {
		a, ok := et.Attribute(k)
		if !ok || v == nil {
			out[k] = v
			continue
		}
		if b, isBytes := v.([]byte); isBytes {
			v = string(b)
		}
		switch a.Type {
		case "json", "array":
			if s, isStr := v.(string); isStr {
				var dec any
				if err := json.Unmarshal([]byte(s), &dec); err == nil {
					v = dec
				}
			}
		case "date", "datetime", "int", "float", "money":
			if n, err := model.Coerce(a, v); err == nil {
				v = n
			}
		}
		out[k] = v
	}
	return out
}
