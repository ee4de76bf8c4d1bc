package query

import (
	"sort"

	"github.com/huandu/go-clone"
)

// Op — оператор сравнения в фильтре
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpIs         Op = "is"
	OpNot        Op = "not"
	OpOr         Op = "or"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpBetween    Op = "between"
	OpNotBetween Op = "notBetween"
	OpIn         Op = "in"
	OpNotIn      Op = "notIn"
	OpLike       Op = "like"
	OpNotLike    Op = "notLike"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
	OpSubstring  Op = "substring"
	OpILike      Op = "iLike"
	OpNotILike   Op = "notILike"
	OpRegexp     Op = "regexp"
	OpNotRegexp  Op = "notRegexp"
	OpIRegexp    Op = "iRegexp"
	OpNotIRegexp Op = "notIRegexp"
)

var operators = map[Op]struct{}{
	OpEq: {}, OpNe: {}, OpIs: {}, OpNot: {}, OpOr: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpBetween: {}, OpNotBetween: {}, OpIn: {}, OpNotIn: {}, OpLike: {}, OpNotLike: {},
	OpStartsWith: {}, OpEndsWith: {}, OpSubstring: {}, OpILike: {}, OpNotILike: {},
	OpRegexp: {}, OpNotRegexp: {}, OpIRegexp: {}, OpNotIRegexp: {},
}

// ParseOp — только известные операторы; всё остальное отбрасывается вызывающим
func ParseOp(s string) (Op, bool) {
	_, ok := operators[Op(s)]
	return Op(s), ok
}

// SetValued — операторы, принимающие список значений
func (o Op) SetValued() bool {
	switch o {
	case OpOr, OpBetween, OpNotBetween, OpIn, OpNotIn:
		return true
	}
	return false
}

// Cond — значение с операторами: {gt: 1, lt: 10}
type Cond map[Op]any

// Ops — операторы в стабильном порядке
func (c Cond) Ops() []Op {
	out := make([]Op, 0, len(c))
	for op := range c {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// All — конъюнкция нескольких условий на одно поле
type All []any

// Where — атрибут -> литерал | Cond | All.
// Литерал-срез означает IN.
type Where map[string]any

// Add добавляет условие на поле: два Cond сливаются в один,
// любые другие сочетания складываются в All.
func (w Where) Add(field string, v any) {
	prev, ok := w[field]
	if !ok {
		w[field] = v
		return
	}
	if pc, isCond := prev.(Cond); isCond {
		if nc, isCond := v.(Cond); isCond {
			merged := make(Cond, len(pc)+len(nc))
			for op, val := range pc {
				merged[op] = val
			}
			for op, val := range nc {
				merged[op] = val
			}
			w[field] = merged
			return
		}
	}
	var all All
	if pa, isAll := prev.(All); isAll {
		all = append(all, pa...)
	} else {
		all = append(all, prev)
	}
	if na, isAll := v.(All); isAll {
		all = append(all, na...)
	} else {
		all = append(all, v)
	}
	w[field] = all
}

// Merge добавляет все условия src в копию w
func (w Where) Merge(src Where) Where {
	out := w.Clone()
	if out == nil {
		out = Where{}
	}
	for _, k := range src.Keys() {
		out.Add(k, src[k])
	}
	return out
}

// Keys — имена полей в стабильном порядке
func (w Where) Keys() []string {
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (w Where) Clone() Where {
	if w == nil {
		return nil
	}
	return clone.Clone(w).(Where)
}

// In — условие "поле IN (values)"
func In(values []any) Cond {
	return Cond{OpIn: values}
}
