package store

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"strata/internal/model"
	"strata/internal/query"
)

// NormalizeWhere приводит литералы к типам атрибутов (как их хранит движок).
// Ключи, не являющиеся атрибутами, отбрасываются; значения, которые не приводятся, остаются как есть.
func NormalizeWhere(et *model.EntityType, w query.Where) query.Where {
	if len(w) == 0 {
		return query.Where{}
	}
	out := make(query.Where, len(w))
	for k, v := range w {
		a, ok := et.Attribute(k)
		if !ok {
			continue
		}
		out[k] = normalizeValue(a, v)
	}
	return out
}

func normalizeValue(a *model.Attribute, v any) any {
	switch t := v.(type) {
	case query.Cond:
		out := make(query.Cond, len(t))
		for op, val := range t {
			out[op] = normalizeOperand(a, op, val)
		}
		return out
	case query.All:
		out := make(query.All, len(t))
		for i, it := range t {
			out[i] = normalizeValue(a, it)
		}
		return out
	case []any:
		return coerceList(a, t)
	}
	return coerceOne(a, v)
}

func normalizeOperand(a *model.Attribute, op query.Op, v any) any {
	switch op {
	case query.OpLike, query.OpNotLike, query.OpILike, query.OpNotILike,
		query.OpStartsWith, query.OpEndsWith, query.OpSubstring,
		query.OpRegexp, query.OpNotRegexp, query.OpIRegexp, query.OpNotIRegexp, query.OpIs:
		return v
	case query.OpOr:
		if list, ok := v.([]any); ok {
			out := make([]any, len(list))
			for i, it := range list {
				out[i] = normalizeValue(a, it)
			}
			return out
		}
	}
	if list, ok := v.([]any); ok {
		return coerceList(a, list)
	}
	return coerceOne(a, v)
}

func coerceList(a *model.Attribute, list []any) []any {
	out := make([]any, len(list))
	for i, it := range list {
		out[i] = coerceOne(a, it)
	}
	return out
}

func coerceOne(a *model.Attribute, v any) any {
	if v == nil || a.Type == "array" || a.Type == "json" {
		return v
	}
	n, err := model.Coerce(a, v)
	if err != nil {
		return v
	}
	return n
}

// Match проверяет запись на соответствие условию.
// Семантика NULL как в SQL: сравнение с NULL ложно, кроме eq/is nil.
func Match(et *model.EntityType, row Row, w query.Where) bool {
	for field, v := range w {
		a, _ := et.Attribute(field)
		if !matchValue(a, row[field], v) {
			return false
		}
	}
	return true
}

func matchValue(a *model.Attribute, got, want any) bool {
	switch t := want.(type) {
	case query.Cond:
		for _, op := range t.Ops() {
			if !matchOp(a, got, op, t[op]) {
				return false
			}
		}
		return true
	case query.All:
		for _, it := range t {
			if !matchValue(a, got, it) {
				return false
			}
		}
		return true
	case []any:
		return matchOp(a, got, query.OpIn, t)
	}
	return matchOp(a, got, query.OpEq, want)
}

func matchOp(a *model.Attribute, got any, op query.Op, want any) bool {
	switch op {
	case query.OpEq:
		if want == nil {
			return got == nil
		}
		return got != nil && compare(a, got, want) == 0
	case query.OpNe:
		if want == nil {
			return got != nil
		}
		return got != nil && compare(a, got, want) != 0
	case query.OpIs:
		if want == nil {
			return got == nil
		}
		return got != nil && compare(a, got, want) == 0
	case query.OpNot:
		if want == nil {
			return got != nil
		}
		return got == nil || compare(a, got, want) != 0
	case query.OpOr:
		for _, it := range asList(want) {
			if matchValue(a, got, it) {
				return true
			}
		}
		return false
	case query.OpIn:
		if got == nil {
			return false
		}
		for _, it := range asList(want) {
			if it != nil && compare(a, got, it) == 0 {
				return true
			}
		}
		return false
	case query.OpNotIn:
		if got == nil {
			return false
		}
		for _, it := range asList(want) {
			if it != nil && compare(a, got, it) == 0 {
				return false
			}
		}
		return true
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		if got == nil || want == nil {
			return false
		}
		c, ok := order(a, got, want)
		if !ok {
			return false
		}
		switch op {
		case query.OpGt:
			return c > 0
		case query.OpGte:
			return c >= 0
		case query.OpLt:
			return c < 0
		}
		return c <= 0
	case query.OpBetween, query.OpNotBetween:
		bounds := asList(want)
		if got == nil || len(bounds) != 2 {
			return false
		}
		lo, ok1 := order(a, got, bounds[0])
		hi, ok2 := order(a, got, bounds[1])
		if !ok1 || !ok2 {
			return false
		}
		in := lo >= 0 && hi <= 0
		if op == query.OpNotBetween {
			return !in
		}
		return in
	case query.OpLike, query.OpNotLike, query.OpILike, query.OpNotILike:
		s, ok := got.(string)
		if !ok {
			return false
		}
		insensitive := op == query.OpILike || op == query.OpNotILike
		m := likeRegexp(fmt.Sprint(want), insensitive).MatchString(s)
		if op == query.OpNotLike || op == query.OpNotILike {
			return !m
		}
		return m
	case query.OpStartsWith:
		s, ok := got.(string)
		return ok && strings.HasPrefix(s, fmt.Sprint(want))
	case query.OpEndsWith:
		s, ok := got.(string)
		return ok && strings.HasSuffix(s, fmt.Sprint(want))
	case query.OpSubstring:
		s, ok := got.(string)
		return ok && strings.Contains(s, fmt.Sprint(want))
	case query.OpRegexp, query.OpNotRegexp, query.OpIRegexp, query.OpNotIRegexp:
		s, ok := got.(string)
		if !ok {
			return false
		}
		pattern := fmt.Sprint(want)
		if op == query.OpIRegexp || op == query.OpNotIRegexp {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		m := re.MatchString(s)
		if op == query.OpNotRegexp || op == query.OpNotIRegexp {
			return !m
		}
		return m
	}
	return false
}

func asList(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// likeRegexp переводит SQL LIKE (% и _) в регулярное выражение
func likeRegexp(pattern string, insensitive bool) *regexp.Regexp {
	var b strings.Builder
	if insensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// compare — 0 при равенстве; значения разных несравнимых типов не равны
func compare(a *model.Attribute, got, want any) int {
	if c, ok := order(a, got, want); ok {
		return c
	}
	if reflect.DeepEqual(got, want) {
		return 0
	}
	return 1
}

// order сравнивает числа, даты и строки; ok=false для несравнимых значений
func order(a *model.Attribute, x, y any) (int, bool) {
	if fx, ok := toFloat(x); ok {
		fy, ok := toFloat(y)
		if !ok {
			return 0, false
		}
		switch {
		case fx < fy:
			return -1, true
		case fx > fy:
			return 1, true
		}
		return 0, true
	}
	if bx, ok := x.(bool); ok {
		by, ok := y.(bool)
		if !ok {
			return 0, false
		}
		if bx == by {
			return 0, true
		}
		if !bx {
			return -1, true
		}
		return 1, true
	}
	sx, ok1 := x.(string)
	sy, ok2 := y.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	if a != nil && a.Type == "datetime" {
		tx, err1 := time.Parse(time.RFC3339, sx)
		ty, err2 := time.Parse(time.RFC3339, sy)
		if err1 == nil && err2 == nil {
			return tx.Compare(ty), true
		}
	}
	return strings.Compare(sx, sy), true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// Compare упорядочивает значения колонки для сортировки; NULL больше любого значения, как в PostgreSQL
func Compare(a *model.Attribute, x, y any) int {
	switch {
	case x == nil && y == nil:
		return 0
	case x == nil:
		return 1
	case y == nil:
		return -1
	}
	if c, ok := order(a, x, y); ok {
		return c
	}
	return strings.Compare(fmt.Sprint(x), fmt.Sprint(y))
}
