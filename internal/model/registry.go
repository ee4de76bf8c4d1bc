package model

import (
	"fmt"
	"strings"
	"sync"
)

// Registry — реестр типов сущностей с адресацией по индексу.
// Активная схема каждого типа — единственное общее изменяемое состояние;
// переключается ChangeTenant.
type Registry struct {
	mu            sync.RWMutex
	types         []*EntityType
	index         map[string]int
	defaultSchema string
	adminSchema   string
}

func NewRegistry(defaultSchema, adminSchema string) *Registry {
	if defaultSchema == "" {
		defaultSchema = "public"
	}
	if adminSchema == "" {
		adminSchema = "admin"
	}
	return &Registry{
		index:         make(map[string]int),
		defaultSchema: defaultSchema,
		adminSchema:   adminSchema,
	}
}

func (r *Registry) DefaultSchema() string { return r.defaultSchema }
func (r *Registry) AdminSchema() string   { return r.adminSchema }

// Lookup ищет тип по точному имени, затем регистронезависимо (только если совпадение единственно)
func (r *Registry) Lookup(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(name)
}

func (r *Registry) lookupLocked(name string) (*EntityType, bool) {
	if i, ok := r.index[name]; ok {
		return r.types[i], true
	}
	var found *EntityType
	for _, et := range r.types {
		if strings.EqualFold(et.Name, name) {
			if found != nil {
				return nil, false
			}
			found = et
		}
	}
	return found, found != nil
}

// At возвращает тип по индексу арены
func (r *Registry) At(i int) *EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.types) {
		return nil
	}
	return r.types[i]
}

func (r *Registry) All() []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*EntityType, len(r.types))
	copy(out, r.types)
	return out
}

// Target — тип на другом конце связи
func (r *Registry) Target(a *Association) *EntityType {
	et, _ := r.Lookup(a.Target)
	return et
}

// Through — join-сущность связи many-to-many
func (r *Registry) Through(a *Association) *EntityType {
	if a.Through == "" {
		return nil
	}
	et, _ := r.Lookup(a.Through)
	return et
}

func (r *Registry) register(types []*EntityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, et := range types {
		if _, dup := r.index[et.Name]; dup {
			return fmt.Errorf("entity %q already registered", et.Name)
		}
	}
	for _, et := range types {
		et.index = len(r.types)
		et.schema = r.defaultSchema
		if et.Pinned != "" {
			et.schema = et.Pinned
		}
		r.types = append(r.types, et)
		r.index[et.Name] = et.index
	}
	return nil
}

// ChangeTenant переключает активную схему всех незакреплённых типов.
// Схема admin не перезаписывается; запрос от admin возвращает типы в схему по умолчанию.
func (r *Registry) ChangeTenant(tenant string) {
	if tenant == "" {
		return
	}
	target := tenant
	if tenant == r.adminSchema {
		target = r.defaultSchema
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, et := range r.types {
		if et.Pinned != "" || et.schema == r.adminSchema {
			continue
		}
		et.schema = target
	}
}

// SchemaOf — текущая активная схема типа
func (r *Registry) SchemaOf(et *EntityType) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return et.schema
}

// TypesFor — типы, таблицы которых живут в указанной схеме
func (r *Registry) TypesFor(schema string) []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*EntityType
	for _, et := range r.types {
		switch {
		case et.Pinned == schema:
			out = append(out, et)
		case et.Pinned == "" && schema != r.adminSchema:
			out = append(out, et)
		}
	}
	return out
}
