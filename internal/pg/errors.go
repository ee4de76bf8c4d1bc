package pg

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"

	"strata/internal/store"
)

var detailKey = regexp.MustCompile(`Key \(([^)]+)\)`)

// classify переводит ошибки PostgreSQL в ошибки хранилища; остальное возвращается как есть
func classify(err error, tb store.Table) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	cerr := &store.ConstraintError{
		Table:      tb.String(),
		Column:     pgErr.ColumnName,
		Constraint: pgErr.ConstraintName,
		Message:    pgErr.Message,
		Err:        err,
	}
	switch pgErr.Code {
	case "23505":
		cerr.Kind = store.ConstraintUnique
		if m := detailKey.FindStringSubmatch(pgErr.Detail); m != nil {
			cerr.Column = m[1]
		}
	case "23502":
		cerr.Kind = store.ConstraintNotNull
	case "23503":
		cerr.Kind = store.ConstraintForeignKey
		if m := detailKey.FindStringSubmatch(pgErr.Detail); m != nil {
			cerr.Column = m[1]
		}
	case "23514":
		cerr.Kind = store.ConstraintCheck
	case "22001", "22P02", "22007", "22008", "22003":
		cerr.Kind = store.ConstraintData
	case "42P01":
		return fmt.Errorf("%s: %w", tb, store.ErrTableNotFound)
	case "3F000":
		return fmt.Errorf("%s: %w", tb.Schema, store.ErrSchemaNotFound)
	case "42P06":
		return fmt.Errorf("%s: %w", tb.Schema, store.ErrSchemaExists)
	default:
		return err
	}
	return cerr
}
