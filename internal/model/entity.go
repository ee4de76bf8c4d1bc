package model

import (
	"regexp"
	"strings"
)

// Kind — вид связи между сущностями
type Kind int

const (
	OneToOne Kind = iota + 1
	OneToMany
	ManyToOne
	ManyToMany
)

func (k Kind) String() string {
	switch k {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	}
	return "unknown"
}

// ToMany — связь отдаёт коллекцию
func (k Kind) ToMany() bool { return k == OneToMany || k == ManyToMany }

type Attribute struct {
	Name          string
	Type          string // string, int, float, money, bool, date, datetime, enum, json, array
	ElemType      string
	Enum          []string
	PrimaryKey    bool
	AutoIncrement bool
	Required      bool
	Unique        bool
	Readonly      bool
	Default       string
	HasDefault    bool
	MaxLength     int
	Pattern       *regexp.Regexp
	OnDelete      string // для FK-колонок: restrict | set_null | cascade
	References    string // для FK-колонок: имя целевой сущности
}

// Association — ребро графа связей.
// ForeignKey: для many-to-one колонка источника, для one-to-* колонка цели,
// для many-to-many колонка join-сущности, указывающая на источник.
type Association struct {
	Name       string
	Alias      string
	Kind       Kind
	Source     string
	Target     string
	Through    string
	ForeignKey string
	OtherKey   string
	Required   bool
	OnDelete   string
}

type Scope struct {
	Name    string
	Exclude []string
}

// DefaultScope — имя пресета, применяемого без явного запроса
const DefaultScope = "default"

type EntityType struct {
	index        int
	Name         string
	Table        string
	Pinned       string // схема, за которой закреплена сущность (не переключается арендатором)
	Join         bool   // join-сущность many-to-many
	Attributes   []*Attribute
	Associations []*Association
	Scopes       map[string]Scope
	Includes     map[string]string // action -> сырой include
	Unique       [][]string

	schema string // активная схема; читается/пишется только под Registry.mu
}

func (et *EntityType) Index() int { return et.index }

// PrimaryKeys — колонки первичного ключа в порядке объявления
func (et *EntityType) PrimaryKeys() []*Attribute {
	var out []*Attribute
	for _, a := range et.Attributes {
		if a.PrimaryKey {
			out = append(out, a)
		}
	}
	return out
}

// PrimaryKey — первая колонка первичного ключа
func (et *EntityType) PrimaryKey() *Attribute {
	for _, a := range et.Attributes {
		if a.PrimaryKey {
			return a
		}
	}
	return nil
}

func (et *EntityType) Attribute(name string) (*Attribute, bool) {
	for _, a := range et.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

func (et *EntityType) HasAttribute(name string) bool {
	_, ok := et.Attribute(name)
	return ok
}

// Association ищет связь по имени, затем по алиасу
func (et *EntityType) Association(name string) (*Association, bool) {
	for _, a := range et.Associations {
		if a.Name == name {
			return a, true
		}
	}
	for _, a := range et.Associations {
		if a.Alias == name {
			return a, true
		}
	}
	return nil, false
}

// IsAssociationKey — ключ DTO/фильтра указывает на связь
func (et *EntityType) IsAssociationKey(key string) bool {
	_, ok := et.Association(key)
	return ok
}

// Scope возвращает пресет видимости; пустое имя — default.
// Неизвестный default не ошибка: сущность просто показывает все атрибуты.
func (et *EntityType) Scope(name string) (Scope, bool) {
	if name == "" {
		name = DefaultScope
	}
	if sc, ok := et.Scopes[name]; ok {
		return sc, true
	}
	if strings.EqualFold(name, DefaultScope) {
		return Scope{Name: DefaultScope}, true
	}
	return Scope{}, false
}

// Include возвращает объявленный include для действия с откатом на общий
func (et *EntityType) Include(action string) string {
	if s, ok := et.Includes[action]; ok {
		return s
	}
	if s, ok := et.Includes[""]; ok {
		return s
	}
	return "all"
}
