// Package memory — хранилище в памяти для разработки и тестов.
// Таблицы после фиксации не изменяются на месте: транзакция копирует таблицу
// при первой записи и подменяет её при Commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/huandu/go-clone"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
)

var errTxDone = errors.New("transaction already finished")

type table struct {
	Rows []store.Row
	Seq  int64
}

type Storage struct {
	mu      sync.RWMutex
	schemas map[string]map[string]*table // схема -> таблица -> данные
	entropy io.Reader
	emu     sync.Mutex
	log     zerolog.Logger
}

// New создаёт хранилище с заранее существующими схемами
func New(log zerolog.Logger, schemas ...string) *Storage {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	s := &Storage{
		schemas: make(map[string]map[string]*table),
		entropy: ulid.Monotonic(src, 0),
		log:     log.With().Str("component", "memory").Logger(),
	}
	for _, name := range schemas {
		s.schemas[name] = make(map[string]*table)
	}
	return s
}

func (s *Storage) newID() string {
	s.emu.Lock()
	defer s.emu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Storage) Begin(ctx context.Context) (store.Tx, error) {
	return &tx{s: s, local: make(map[store.Table]*table)}, nil
}

func (s *Storage) CreateSchema(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[name]; !ok {
		s.schemas[name] = make(map[string]*table)
		s.log.Debug().Str("schema", name).Msg("schema created")
	}
	return nil
}

func (s *Storage) DropSchema(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schemas, name)
	return nil
}

func (s *Storage) RenameSchema(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schemas[from]
	if !ok {
		return fmt.Errorf("%s: %w", from, store.ErrSchemaNotFound)
	}
	if _, exists := s.schemas[to]; exists {
		return fmt.Errorf("%s: %w", to, store.ErrSchemaExists)
	}
	s.schemas[to] = sch
	delete(s.schemas, from)
	return nil
}

func (s *Storage) Sync(ctx context.Context, schema string, types []*model.EntityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sch, ok := s.schemas[schema]
	if !ok {
		return fmt.Errorf("%s: %w", schema, store.ErrSchemaNotFound)
	}
	for _, et := range types {
		if _, exists := sch[et.Table]; !exists {
			sch[et.Table] = &table{}
		}
	}
	return nil
}

func (s *Storage) Close() error { return nil }

// HasSchema / HasTable — для проверок жизненного цикла схем
func (s *Storage) HasSchema(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.schemas[name]
	return ok
}

func (s *Storage) HasTable(schema, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.schemas[schema][name]
	return ok
}

type tx struct {
	s     *Storage
	local map[store.Table]*table
	done  bool
}

// view отдаёт таблицу; для записи — локальную копию
func (t *tx) view(tb store.Table, write bool) (*table, error) {
	if t.done {
		return nil, errTxDone
	}
	if tab, ok := t.local[tb]; ok {
		return tab, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	sch, ok := t.s.schemas[tb.Schema]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tb.Schema, store.ErrSchemaNotFound)
	}
	tab, ok := sch[tb.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tb, store.ErrTableNotFound)
	}
	if !write {
		return tab, nil
	}
	cp := clone.Clone(tab).(*table)
	t.local[tb] = cp
	return cp, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for tb, tab := range t.local {
		sch, ok := t.s.schemas[tb.Schema]
		if !ok {
			continue
		}
		if _, ok := sch[tb.Name]; ok {
			sch[tb.Name] = tab
		}
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return errTxDone
	}
	t.done = true
	t.local = nil
	return nil
}

func (t *tx) Find(ctx context.Context, tb store.Table, et *model.EntityType, f store.Find) ([]store.Row, error) {
	tab, err := t.view(tb, false)
	if err != nil {
		return nil, err
	}
	out := make([]store.Row, 0)
	for _, r := range tab.Rows {
		if store.Match(et, r, f.Where) {
			out = append(out, copyRow(r))
		}
	}
	if len(f.Order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range f.Order {
				a, _ := et.Attribute(o.Field)
				c := store.Compare(a, out[i][o.Field], out[j][o.Field])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if f.Offset != nil {
		if *f.Offset >= len(out) {
			return []store.Row{}, nil
		}
		out = out[*f.Offset:]
	}
	if f.Limit != nil && *f.Limit < len(out) {
		out = out[:*f.Limit]
	}
	return out, nil
}

func (t *tx) Count(ctx context.Context, tb store.Table, et *model.EntityType, where query.Where) (int64, error) {
	tab, err := t.view(tb, false)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range tab.Rows {
		if store.Match(et, r, where) {
			n++
		}
	}
	return n, nil
}

func (t *tx) Insert(ctx context.Context, tb store.Table, et *model.EntityType, rows []store.Row, ignoreDuplicates bool) ([]store.Row, error) {
	tab, err := t.view(tb, true)
	if err != nil {
		return nil, err
	}
	out := make([]store.Row, len(rows))
	for i, in := range rows {
		row, err := t.prepare(tb, et, tab, in)
		if err != nil {
			return nil, err
		}
		if cols := conflict(et, tab, row, -1); cols != "" {
			if ignoreDuplicates {
				continue
			}
			return nil, &store.ConstraintError{Kind: store.ConstraintUnique, Table: tb.String(), Column: cols,
				Constraint: et.Table + "_" + strings.ReplaceAll(cols, ",", "_") + "_key"}
		}
		tab.Rows = append(tab.Rows, row)
		out[i] = copyRow(row)
	}
	return out, nil
}

// prepare приводит значения к типам колонок и подставляет то, что подставила бы СУБД
func (t *tx) prepare(tb store.Table, et *model.EntityType, tab *table, in store.Row) (store.Row, error) {
	row := make(store.Row, len(et.Attributes))
	for _, a := range et.Attributes {
		v, ok := in[a.Name]
		if !ok || v == nil {
			switch {
			case a.PrimaryKey && a.AutoIncrement:
				tab.Seq++
				v = tab.Seq
			case a.PrimaryKey && a.Type == "string":
				v = t.s.newID()
			case ok:
				v = nil
			case a.HasDefault && a.Default != "uuid" && a.Default != "now":
				v, _ = model.Coerce(a, a.Default)
			}
		} else {
			norm, err := model.Coerce(a, v)
			if err != nil {
				return nil, &store.ConstraintError{Kind: store.ConstraintData, Table: tb.String(), Column: a.Name,
					Message: fmt.Sprintf("invalid input for %s: %v", a.Name, err)}
			}
			v = norm
		}
		if v == nil && (a.Required || a.PrimaryKey) {
			return nil, &store.ConstraintError{Kind: store.ConstraintNotNull, Table: tb.String(), Column: a.Name}
		}
		row[a.Name] = v
	}
	return row, nil
}

func (t *tx) Update(ctx context.Context, tb store.Table, et *model.EntityType, where query.Where, values store.Row) (int64, error) {
	tab, err := t.view(tb, true)
	if err != nil {
		return 0, err
	}
	set := make(store.Row, len(values))
	for k, v := range values {
		a, ok := et.Attribute(k)
		if !ok {
			continue
		}
		if v != nil {
			norm, err := model.Coerce(a, v)
			if err != nil {
				return 0, &store.ConstraintError{Kind: store.ConstraintData, Table: tb.String(), Column: k,
					Message: fmt.Sprintf("invalid input for %s: %v", k, err)}
			}
			v = norm
		} else if a.Required || a.PrimaryKey {
			return 0, &store.ConstraintError{Kind: store.ConstraintNotNull, Table: tb.String(), Column: k}
		}
		set[k] = v
	}

	var n int64
	for i, r := range tab.Rows {
		if !store.Match(et, r, where) {
			continue
		}
		next := copyRow(r)
		for k, v := range set {
			next[k] = v
		}
		if cols := conflict(et, tab, next, i); cols != "" {
			return 0, &store.ConstraintError{Kind: store.ConstraintUnique, Table: tb.String(), Column: cols,
				Constraint: et.Table + "_" + strings.ReplaceAll(cols, ",", "_") + "_key"}
		}
		tab.Rows[i] = next
		n++
	}
	return n, nil
}

func (t *tx) Delete(ctx context.Context, tb store.Table, et *model.EntityType, where query.Where) (int64, error) {
	tab, err := t.view(tb, true)
	if err != nil {
		return 0, err
	}
	kept := tab.Rows[:0]
	var n int64
	for _, r := range tab.Rows {
		if store.Match(et, r, where) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	tab.Rows = kept
	return n, nil
}

// ResetSequence подтягивает счётчик автоинкремента к максимальному ключу
func (t *tx) ResetSequence(ctx context.Context, tb store.Table, et *model.EntityType) error {
	pk := et.PrimaryKey()
	if pk == nil || !pk.AutoIncrement {
		return nil
	}
	tab, err := t.view(tb, true)
	if err != nil {
		return err
	}
	for _, r := range tab.Rows {
		if n, ok := r[pk.Name].(int64); ok && n > tab.Seq {
			tab.Seq = n
		}
	}
	return nil
}

// conflict возвращает колонки нарушенного ограничения уникальности; skip — индекс самой строки
func conflict(et *model.EntityType, tab *table, row store.Row, skip int) string {
	var sets [][]string
	var pks []string
	for _, a := range et.PrimaryKeys() {
		pks = append(pks, a.Name)
	}
	if len(pks) > 0 {
		sets = append(sets, pks)
	}
	for _, a := range et.Attributes {
		if a.Unique && !a.PrimaryKey {
			sets = append(sets, []string{a.Name})
		}
	}
	sets = append(sets, et.Unique...)

	for _, cols := range sets {
		for i, other := range tab.Rows {
			if i == skip {
				continue
			}
			if sameTuple(row, other, cols) {
				return strings.Join(cols, ",")
			}
		}
	}
	return ""
}

// sameTuple: NULL не совпадает ни с чем, как в SQL
func sameTuple(a, b store.Row, cols []string) bool {
	for _, c := range cols {
		if a[c] == nil || b[c] == nil {
			return false
		}
		if store.Compare(nil, a[c], b[c]) != 0 {
			return false
		}
	}
	return true
}

func copyRow(r store.Row) store.Row {
	out := make(store.Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
