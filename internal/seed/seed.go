// Package seed применяет YAML-наборы начальных данных через BulkCreate.
//
//	entity: role
//	tenant: ac           # необязательно
//	items:
//	  - {id: 1, code: ADMIN}
//
// Ключи из файла сохраняются, дубликаты пропускаются, поэтому повторный прогон безопасен.
package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"strata/internal/engine"
)

type File struct {
	Entity string           `yaml:"entity"`
	Tenant string           `yaml:"tenant,omitempty"`
	Items  []map[string]any `yaml:"items"`

	path string
}

// Creator — часть движка, нужная загрузчику
type Creator interface {
	BulkCreate(ctx context.Context, entity string, dtos []engine.Entity, o engine.Options) ([]engine.Entity, error)
}

// Load читает *.yaml / *.yml каталога в лексикографическом порядке имён.
// Порядок задаёт зависимости: 01_tenants.yaml раньше 02_users.yaml.
func Load(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]File, 0, len(names))
	for _, n := range names {
		path := filepath.Join(dir, n)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var f File
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if f.Entity == "" {
			return nil, fmt.Errorf("%s: entity is required", path)
		}
		f.path = path
		out = append(out, f)
	}
	return out, nil
}

// Apply вставляет записи файлов по порядку и возвращает число записей в ответах движка
func Apply(ctx context.Context, c Creator, files []File, log zerolog.Logger) (int, error) {
	total := 0
	for _, f := range files {
		if len(f.Items) == 0 {
			continue
		}
		dtos := make([]engine.Entity, len(f.Items))
		for i, it := range f.Items {
			dtos[i] = normalize(it).(map[string]any)
		}
		out, err := c.BulkCreate(ctx, f.Entity, dtos, engine.Options{Tenant: f.Tenant, KeepAutoID: true, KeepTenantID: true})
		if err != nil {
			return total, fmt.Errorf("seed %s: %w", f.path, err)
		}
		total += len(out)
		log.Info().Str("file", f.path).Str("entity", f.Entity).Str("tenant", f.Tenant).Int("items", len(out)).Msg("seed applied")
	}
	return total, nil
}

// normalize: вложенные узлы yaml могут прийти как map[any]any
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = normalize(x)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[fmt.Sprint(k)] = normalize(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalize(x)
		}
		return out
	}
	return v
}
