package store

import (
	"errors"
	"fmt"

	"strata/internal/model"
)

var (
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrSchemaNotFound = errors.New("schema does not exist")
	ErrSchemaExists   = errors.New("schema already exists")
	ErrTableNotFound  = errors.New("table does not exist")
)

type ConstraintKind string

const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintNotNull    ConstraintKind = "not_null"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintCheck      ConstraintKind = "check"
	ConstraintData       ConstraintKind = "data"
)

// ConstraintError — нарушение ограничения хранилища в нейтральном виде
type ConstraintError struct {
	Kind       ConstraintKind
	Table      string
	Column     string
	Constraint string
	Message    string
	Err        error
}

func (e *ConstraintError) Error() string {
	msg := fmt.Sprintf("%s violation on %s", e.Kind, e.Table)
	if e.Column != "" {
		msg += "." + e.Column
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// Is: нарушение уникальности совпадает с ErrDuplicateKey
func (e *ConstraintError) Is(target error) bool {
	return target == ErrDuplicateKey && e.Kind == ConstraintUnique
}

// FieldError — человекочитаемое представление нарушения
func (e *ConstraintError) FieldError() model.FieldError {
	field := e.Column
	switch e.Kind {
	case ConstraintUnique:
		return model.Ferr(model.ErrUniqueViolation, field, "Field '"+field+"' must be unique", e.Constraint)
	case ConstraintNotNull:
		return model.Ferr(model.ErrRequired, field, "Field '"+field+"' is required", "")
	case ConstraintForeignKey:
		return model.Ferr(model.ErrRefNotFound, field, "Field '"+field+"' references a missing record", e.Constraint)
	case ConstraintData:
		return model.Ferr(model.ErrTypeMismatch, field, e.Message, "")
	}
	return model.Ferr(model.ErrInvalid, field, e.Message, e.Constraint)
}
