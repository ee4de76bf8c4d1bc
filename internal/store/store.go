// Package store описывает примитивы хранилища, которыми пользуется движок,
// и исполняет над ними дерево include.
package store

import (
	"context"

	"strata/internal/model"
	"strata/internal/query"
)

// Row — одна запись таблицы: колонка -> значение
type Row = map[string]any

// Table — таблица в конкретной схеме
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Find — параметры выборки
type Find struct {
	Where  query.Where
	Order  []query.Order
	Limit  *int
	Offset *int
}

// Tx — операции внутри одной транзакции.
// Where передаётся уже нормализованным (см. NormalizeWhere).
type Tx interface {
	Find(ctx context.Context, t Table, et *model.EntityType, f Find) ([]Row, error)
	Count(ctx context.Context, t Table, et *model.EntityType, where query.Where) (int64, error)
	// Insert возвращает срез той же длины, что rows; при ignoreDuplicates
	// пропущенные дубликаты дают nil на своей позиции.
	Insert(ctx context.Context, t Table, et *model.EntityType, rows []Row, ignoreDuplicates bool) ([]Row, error)
	Update(ctx context.Context, t Table, et *model.EntityType, where query.Where, values Row) (int64, error)
	Delete(ctx context.Context, t Table, et *model.EntityType, where query.Where) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// SequenceResetter — Tx, умеющий подтянуть последовательность автоинкремента к максимуму таблицы
type SequenceResetter interface {
	ResetSequence(ctx context.Context, t Table, et *model.EntityType) error
}

// Storage — движок хранения: транзакции и жизненный цикл схем
type Storage interface {
	Begin(ctx context.Context) (Tx, error)
	CreateSchema(ctx context.Context, name string) error
	DropSchema(ctx context.Context, name string) error
	RenameSchema(ctx context.Context, from, to string) error
	// Sync создаёт недостающие таблицы типов в схеме
	Sync(ctx context.Context, schema string, types []*model.EntityType) error
	Close() error
}
