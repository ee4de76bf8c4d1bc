package dsl

// Entity описывает структуру сущности из DSL
type Entity struct {
	Name        string
	Schema      string // закреплённая схема (schema admin), пусто — схема арендатора
	Table       string // явное имя таблицы (table: ...), иначе выводится из имени
	Fields      []Field
	Scopes      []Scope
	Includes    map[string]string // action -> сырой include; "" — для всех действий
	Constraints Constraints
}

type Constraints struct {
	Unique [][]string
}

// Field описывает поле сущности
type Field struct {
	Name      string
	Type      string            // string, int, date, enum, ref, array, has_many, has_one и т.д.
	Enum      []string          // значения enum, если поле типа enum
	RefTarget string            // цель для ref/array[ref]/has_many/has_one
	ElemType  string            // тип элемента для array[...]
	Options   map[string]string // required, unique, default, fk, through, as и прочие опции
}

// Scope — пресет видимости атрибутов: scope safe: -password
type Scope struct {
	Name    string
	Exclude []string
}

// IsAssociation — поле описывает связь, а не колонку
func (f Field) IsAssociation() bool {
	switch f.Type {
	case "ref", "has_many", "has_one":
		return true
	case "array":
		return f.ElemType == "ref"
	}
	return false
}
