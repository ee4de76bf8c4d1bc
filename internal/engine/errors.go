package engine

import (
	"errors"
	"fmt"
	"strings"

	"strata/internal/model"
	"strata/internal/query"
	"strata/internal/store"
)

// Kind — класс ошибки движка; от него зависит ответ внешнего слоя
type Kind int

const (
	Storage Kind = iota + 1
	NotFound
	ValidationFailed
	Configuration
)

func (k Kind) String() string {
	switch k {
	case Storage:
		return "storage"
	case NotFound:
		return "not_found"
	case ValidationFailed:
		return "validation_failed"
	case Configuration:
		return "configuration"
	}
	return "none"
}

// Error — типизированная ошибка операции движка
type Error struct {
	Kind   Kind
	Entity string
	Op     string
	Fields []model.FieldError
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Entity != "" {
		b.WriteString(e.Entity)
		b.WriteString(" ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Err != nil:
		b.WriteString(e.Err.Error())
	case len(e.Fields) > 0:
		msgs := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			msgs[i] = f.Message
		}
		b.WriteString(strings.Join(msgs, "; "))
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf классифицирует любую ошибку; для nil — 0
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var cfg *query.ConfigurationError
	if errors.As(err, &cfg) {
		return Configuration
	}
	var cerr *store.ConstraintError
	if errors.As(err, &cerr) {
		return ValidationFailed
	}
	return Storage
}

// FieldsOf — элементы ошибки валидации, если они есть
func FieldsOf(err error) []model.FieldError {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

func notFound(et *model.EntityType, op string, format string, args ...any) error {
	return &Error{Kind: NotFound, Entity: et.Name, Op: op, Err: fmt.Errorf(format, args...)}
}

func invalid(et *model.EntityType, op string, fields []model.FieldError) error {
	return &Error{Kind: ValidationFailed, Entity: et.Name, Op: op, Fields: fields}
}

// wrap приводит ошибку хранилища к таксономии движка.
// Нарушения ограничений становятся ValidationFailed с читаемыми элементами.
func wrap(et *model.EntityType, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	name := ""
	if et != nil {
		name = et.Name
	}
	var cerr *store.ConstraintError
	if errors.As(err, &cerr) {
		return &Error{Kind: ValidationFailed, Entity: name, Op: op, Fields: []model.FieldError{cerr.FieldError()}, Err: err}
	}
	var cfg *query.ConfigurationError
	if errors.As(err, &cfg) {
		return &Error{Kind: Configuration, Entity: name, Op: op, Err: err}
	}
	return &Error{Kind: Storage, Entity: name, Op: op, Err: err}
}
