package api

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"strata/internal/engine"
	"strata/internal/query"
)

const (
	headerTenant      = "X-Tenant"
	headerTransaction = "X-Transaction-Id"
)

// ==== Параметры листинга ====

type ListParams struct {
	Order   string
	Limit   string
	Offset  string
	Include []query.IncludeSpec // nil — include по умолчанию для list
	Filter  map[string]any
}

// служебные ключи query-строки; всё остальное — фильтр
var reserved = map[string]bool{
	"limit": true, "offset": true, "sort": true, "order": true, "include": true, "scope": true,
	"_limit": true, "_offset": true, "_sort": true, "_order": true, "_include": true, "_scope": true,
	"_nested": true, "_keep_id": true, "_skip_associations": true, "_keep_tenant_id": true, "partial": true,
}

// first — значение "_key", иначе "key"
func first(q url.Values, key string) string {
	if v := strings.TrimSpace(q.Get("_" + key)); v != "" {
		return v
	}
	return strings.TrimSpace(q.Get(key))
}

func parseListParams(q url.Values) ListParams {
	lp := ListParams{
		Order:  first(q, "sort"),
		Limit:  first(q, "limit"),
		Offset: first(q, "offset"),
		Filter: parseFilter(q),
	}
	if lp.Order == "" {
		lp.Order = first(q, "order")
	}
	if inc := first(q, "include"); inc != "" {
		lp.Include = query.ParseIncludeString(inc)
	}
	return lp
}

// parseFilter: ?status=active&age$gte=18&id$in=1,2 -> фильтр движка.
// Повторённый ключ даёт список значений.
func parseFilter(q url.Values) map[string]any {
	filter := make(map[string]any)
	for key, vals := range q {
		if reserved[key] {
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		switch len(clean) {
		case 0:
		case 1:
			filter[key] = clean[0]
		default:
			list := make([]any, len(clean))
			for i, v := range clean {
				list[i] = v
			}
			filter[key] = list
		}
	}
	return filter
}

// options собирает параметры вызова из заголовков и query
func options(c *gin.Context) engine.Options {
	q := c.Request.URL.Query()
	return engine.Options{
		TransactionID:        strings.TrimSpace(c.GetHeader(headerTransaction)),
		Tenant:               strings.TrimSpace(c.GetHeader(headerTenant)),
		Scope:                first(q, "scope"),
		KeepAutoID:           flag(q, "_keep_id"),
		CreateNestedEntities: flag(q, "_nested"),
		SkipAssociations:     flag(q, "_skip_associations"),
		KeepTenantID:         flag(q, "_keep_tenant_id"),
	}
}

func flag(q url.Values, key string) bool {
	v := q.Get(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
