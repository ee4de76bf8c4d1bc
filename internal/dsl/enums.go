package dsl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnumCatalog описывает один справочник значений enum
type EnumCatalog struct {
	Name  string     `yaml:"name"`
	Items []EnumItem `yaml:"items"`
}

type EnumItem struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Order int    `yaml:"order,omitempty"`
}

// Codes — коды справочника в порядке order, затем в порядке файла
func (c EnumCatalog) Codes() []string {
	items := append([]EnumItem(nil), c.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it.Code != "" {
			out = append(out, it.Code)
		}
	}
	return out
}

// LoadEnumCatalogs читает все *.yaml / *.yml из каталога.
// Имя справочника берётся из name, иначе из имени файла. Отсутствующий каталог — пустой набор.
func LoadEnumCatalogs(dir string) (map[string]EnumCatalog, error) {
	result := make(map[string]EnumCatalog)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var cat EnumCatalog
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if cat.Name == "" {
			cat.Name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		if _, dup := result[cat.Name]; dup {
			return nil, fmt.Errorf("duplicate enum catalog %q in %s", cat.Name, path)
		}
		result[cat.Name] = cat
	}
	return result, nil
}

// ApplyEnums подставляет значения справочников в поля вида
//
//	status: enum catalog=order_status
//
// Поля с перечислением в самом типе (enum[a,b]) не трогаются.
func ApplyEnums(decls []*Entity, catalogs map[string]EnumCatalog) error {
	for _, d := range decls {
		for i := range d.Fields {
			f := &d.Fields[i]
			name, ok := f.Options["catalog"]
			if !ok || len(f.Enum) > 0 {
				continue
			}
			if f.Type != "enum" && f.ElemType != "enum" {
				return fmt.Errorf("%s.%s: catalog option needs an enum field", d.Name, f.Name)
			}
			cat, ok := catalogs[name]
			if !ok {
				return fmt.Errorf("%s.%s: unknown enum catalog %q", d.Name, f.Name, name)
			}
			f.Enum = cat.Codes()
		}
	}
	return nil
}
