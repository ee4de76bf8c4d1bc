package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Args    string `json:"args,omitempty"`
}

// Коды ошибок, которыми будем пользоваться
const (
	ErrRequired        = "required"
	ErrTypeMismatch    = "type_mismatch"
	ErrEnumInvalid     = "enum_invalid"
	ErrUniqueViolation = "unique_violation"
	ErrRefNotFound     = "ref_not_found"
	ErrReadOnly        = "readonly_field"
	ErrTooLong         = "too_long"
	ErrPattern         = "pattern_mismatch"
	ErrUnknownScope    = "unknown_scope"
	ErrInvalid         = "invalid"
)

func Ferr(code, field, msg, args string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg, Args: args}
}

// Validate валидирует и НОРМАЛИЗУЕТ obj под тип сущности.
// partial — проверяются только переданные поля (required не проверяется).
// Ключи связей и неизвестные ключи пропускаются.
func Validate(et *EntityType, obj map[string]any, partial bool) []FieldError {
	var errs []FieldError

	// 1) required
	if !partial {
		for _, a := range et.Attributes {
			if !a.Required || a.HasDefault || (a.PrimaryKey && a.AutoIncrement) {
				continue
			}
			if v, ok := obj[a.Name]; !ok || v == nil {
				errs = append(errs, Ferr(ErrRequired, a.Name, "Field '"+a.Name+"' is required", ""))
			}
		}
	}

	// 2) типы, enum, длина, шаблон
	for _, a := range et.Attributes {
		v, ok := obj[a.Name]
		if !ok || v == nil {
			if ok && partial && a.Required {
				errs = append(errs, Ferr(ErrRequired, a.Name, "Field '"+a.Name+"' is required", ""))
			}
			continue
		}
		norm, err := coerceValue(a, v)
		if err != nil {
			code := ErrTypeMismatch
			args := ""
			if a.Type == "enum" {
				code, args = ErrEnumInvalid, strings.Join(a.Enum, ", ")
			}
			errs = append(errs, Ferr(code, a.Name, "Field '"+a.Name+"' "+err.Error(), args))
			continue
		}
		if s, isStr := norm.(string); isStr {
			if a.MaxLength > 0 && utf8.RuneCountInString(s) > a.MaxLength {
				errs = append(errs, Ferr(ErrTooLong, a.Name,
					fmt.Sprintf("Field '%s' must be at most %d characters", a.Name, a.MaxLength),
					strconv.Itoa(a.MaxLength)))
				continue
			}
			if a.Pattern != nil && !a.Pattern.MatchString(s) {
				errs = append(errs, Ferr(ErrPattern, a.Name,
					"Field '"+a.Name+"' does not match pattern", a.Pattern.String()))
				continue
			}
		}
		obj[a.Name] = norm
	}
	return errs
}

// CheckReadonly — клиент пытается менять защищённые поля
func CheckReadonly(et *EntityType, obj map[string]any) []FieldError {
	var errs []FieldError
	for _, a := range et.Attributes {
		if !a.Readonly {
			continue
		}
		if _, ok := obj[a.Name]; ok {
			errs = append(errs, Ferr(ErrReadOnly, a.Name, "Field '"+a.Name+"' is read-only", ""))
		}
	}
	return errs
}

// ApplyDefaults применяет default= для отсутствующих полей.
// default=uuid и строковые первичные ключи без значения получают UUIDv7, default=now — текущее время.
func ApplyDefaults(et *EntityType, obj map[string]any) {
	for _, a := range et.Attributes {
		if _, exists := obj[a.Name]; exists {
			continue
		}
		switch {
		case a.HasDefault && a.Default == "uuid":
			obj[a.Name] = uuid.Must(uuid.NewV7()).String()
		case a.HasDefault && a.Default == "now":
			obj[a.Name] = time.Now().UTC().Format(time.RFC3339)
		case a.HasDefault:
			// некорректный дефолт просто не подставляем
			if v, err := coerceValue(a, a.Default); err == nil {
				obj[a.Name] = v
			}
		case a.PrimaryKey && a.Type == "string":
			obj[a.Name] = uuid.Must(uuid.NewV7()).String()
		}
	}
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD

// Coerce приводит значение к типу атрибута (используется и фильтрами хранилища)
func Coerce(a *Attribute, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return coerceValue(a, v)
}

func coerceValue(a *Attribute, v any) (any, error) {
	switch a.Type {
	case "string":
		return toStringStrict(v)
	case "int":
		return toIntStrict(v)
	case "float", "money":
		return toFloatStrict(v)
	case "bool":
		return toBoolStrict(v)
	case "date":
		if t, ok := v.(time.Time); ok {
			return t.Format("2006-01-02"), nil
		}
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if !dateRe.MatchString(s) {
			return nil, errors.New("must match YYYY-MM-DD")
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, errors.New("invalid date")
		}
		return s, nil
	case "datetime":
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, errors.New("must be RFC3339 datetime")
		}
		return s, nil
	case "enum":
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		for _, ev := range a.Enum {
			if s == ev {
				return s, nil
			}
		}
		return nil, fmt.Errorf("value '%s' is not allowed", s)
	case "array":
		arr, ok := v.([]any)
		if !ok {
			if s, isStr := v.(string); isStr {
				// CSV для простоты: "a,b,c"
				for _, p := range strings.Split(s, ",") {
					arr = append(arr, strings.TrimSpace(p))
				}
			} else {
				return nil, errors.New("must be array")
			}
		}
		if a.ElemType == "" {
			return arr, nil
		}
		elem := &Attribute{Type: a.ElemType, Enum: a.Enum}
		out := make([]any, 0, len(arr))
		for i, ev := range arr {
			norm, err := coerceValue(elem, ev)
			if err != nil {
				return nil, fmt.Errorf("array element %d: %v", i, err)
			}
			out = append(out, norm)
		}
		return out, nil
	default:
		// json и неизвестные типы — как есть
		return v, nil
	}
}

func toStringStrict(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		// не будем автоматически форматировать числа как строки — лучше отдать ошибку
		return "", errors.New("must be string")
	}
}

func toIntStrict(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint32:
		return int64(t), nil
	case float64:
		// JSON числа приходят как float64 — проверяем целостность
		if t != float64(int64(t)) {
			return 0, errors.New("must be integer")
		}
		return int64(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	default:
		return 0, errors.New("must be integer")
	}
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, errors.New("must be float")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be float")
		}
		return f, nil
	default:
		return 0, errors.New("must be float")
	}
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		default:
			return false, errors.New("must be boolean")
		}
	default:
		return false, errors.New("must be boolean")
	}
}
