package store

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrUnknownTransaction = errors.New("unknown transaction")

// Transactions — реестр открытых транзакций, адресуемых по ulid.
// Движок только ищет транзакции по id, открывает и закрывает их вызывающая сторона.
type Transactions struct {
	storage Storage

	mu      sync.Mutex
	open    map[string]Tx
	entropy io.Reader
}

func NewTransactions(s Storage) *Transactions {
	return &Transactions{
		storage: s,
		open:    make(map[string]Tx),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (t *Transactions) Start(ctx context.Context) (string, error) {
	tx, err := t.storage.Begin(ctx)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), t.entropy).String()
	t.open[id] = tx
	return id, nil
}

func (t *Transactions) Get(id string) (Tx, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.open[id]
	return tx, ok
}

func (t *Transactions) take(id string) (Tx, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, ok := t.open[id]
	if !ok {
		return nil, ErrUnknownTransaction
	}
	delete(t.open, id)
	return tx, nil
}

func (t *Transactions) Commit(ctx context.Context, id string) error {
	tx, err := t.take(id)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (t *Transactions) Rollback(ctx context.Context, id string) error {
	tx, err := t.take(id)
	if err != nil {
		return err
	}
	return tx.Rollback(ctx)
}

// Len — число открытых транзакций
func (t *Transactions) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
