package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	entityRe           = regexp.MustCompile(`^entity\s+(\w+):`)
	fieldRe            = regexp.MustCompile(`^\s*([\w_]+):\s*([^\s#]+)(.*)$`)
	enumRe             = regexp.MustCompile(`^enum\[(.*)\]$`)
	refRe              = regexp.MustCompile(`^ref\[([A-Za-z0-9_]+)\]$`)
	hasRe              = regexp.MustCompile(`^(has_many|has_one)\[([A-Za-z0-9_]+)\]$`)
	arrayRe            = regexp.MustCompile(`^array\[(.+)\]$`)
	schemaRe           = regexp.MustCompile(`^\s*schema\s+([A-Za-z0-9_]+)\s*$`)
	tableRe            = regexp.MustCompile(`^\s*table\s*:\s*([A-Za-z0-9_]+)\s*$`)
	scopeRe            = regexp.MustCompile(`^\s*scope\s+(\w+)\s*:\s*(.*)$`)
	includeRe          = regexp.MustCompile(`^\s*include(?:\[(\w+)\])?\s*:\s*(.+)$`)
	reConstraintsStart = regexp.MustCompile(`^\s*constraints\s*:\s*$`)
	reUniqueLine       = regexp.MustCompile(`^\s*unique\s*\(\s*([^)]+)\s*\)\s*$`)
)

// options tokenizer — делит "k=v k2='v 2' pattern=^[A-Z0-9 _-]+$" на токены, не рвёт по пробелам внутри кавычек/скобок
func splitOptionTokens(s string) []string {
	var out []string
	var buf []rune
	inSingle, inDouble := false, false
	bracketDepth := 0 // внутри [ ... ] у регэкспа

	flush := func() {
		if len(buf) > 0 {
			out = append(out, string(buf))
			buf = buf[:0]
		}
	}

	for _, r := range s {
		switch r {
		case '\'':
			if !inDouble && bracketDepth == 0 {
				inSingle = !inSingle
			}
			buf = append(buf, r)
		case '"':
			if !inSingle && bracketDepth == 0 {
				inDouble = !inDouble
			}
			buf = append(buf, r)
		case '[':
			if !inSingle && !inDouble {
				bracketDepth++
			}
			buf = append(buf, r)
		case ']':
			if !inSingle && !inDouble && bracketDepth > 0 {
				bracketDepth--
			}
			buf = append(buf, r)
		default:
			if (r == ' ' || r == '\t') && !inSingle && !inDouble && bracketDepth == 0 {
				flush()
				continue
			}
			buf = append(buf, r)
		}
	}
	flush()
	return out
}

// LoadEntities читает один .dsl файл
func LoadEntities(path string) ([]*Entity, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// Parse разбирает DSL из потока и возвращает сущности в порядке объявления
func Parse(r io.Reader) ([]*Entity, error) {
	var entities []*Entity
	var current *Entity
	currentSchema := ""
	inConstraints := false
	lineNo := 0

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// schema ... — закрепляет следующие сущности за схемой
		if m := schemaRe.FindStringSubmatch(line); m != nil {
			currentSchema = strings.ToLower(m[1])
			continue
		}

		// entity <Name>:
		if m := entityRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				entities = append(entities, current)
			}
			current = &Entity{Name: m[1], Schema: currentSchema, Includes: map[string]string{}}
			inConstraints = false
			continue
		}
		if current == nil {
			continue
		}

		// ----- БЛОК CONSTRAINTS -----
		if reConstraintsStart.MatchString(line) {
			inConstraints = true
			continue
		}
		if inConstraints {
			if m := reUniqueLine.FindStringSubmatch(line); m != nil {
				set := splitList(m[1])
				if len(set) > 0 {
					current.Constraints.Unique = append(current.Constraints.Unique, set)
				}
				continue
			}
			// любая другая строка закрывает блок и обрабатывается ниже
			inConstraints = false
		}

		if m := tableRe.FindStringSubmatch(line); m != nil {
			current.Table = m[1]
			continue
		}

		// scope safe: -password, -token
		if m := scopeRe.FindStringSubmatch(line); m != nil {
			sc := Scope{Name: m[1]}
			for _, p := range splitList(m[2]) {
				sc.Exclude = append(sc.Exclude, strings.TrimPrefix(p, "-"))
			}
			current.Scopes = append(current.Scopes, sc)
			continue
		}

		// include: all | include[list]: roles, tenant.users
		if m := includeRe.FindStringSubmatch(line); m != nil {
			raw := strings.TrimSpace(m[2])
			if i := strings.IndexByte(raw, '#'); i >= 0 {
				raw = strings.TrimSpace(raw[:i])
			}
			current.Includes[strings.ToLower(m[1])] = raw
			continue
		}

		// Поля
		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: cannot parse %q", lineNo, line)
		}
		f, err := parseField(m[1], m[2], m[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %s.%s: %w", lineNo, current.Name, m[1], err)
		}
		current.Fields = append(current.Fields, f)
	}

	if current != nil {
		entities = append(entities, current)
	}
	return entities, scanner.Err()
}

func parseField(name, rawType, tail string) (Field, error) {
	// склейка оборванных типов со скобками
	if depth := strings.Count(rawType, "[") - strings.Count(rawType, "]"); depth > 0 {
		for i, r := range tail {
			switch r {
			case '[':
				depth++
			case ']':
				depth--
			}
			if depth == 0 {
				rawType = rawType + strings.ReplaceAll(tail[:i+1], " ", "")
				tail = tail[i+1:]
				break
			}
		}
	}

	optsRaw := strings.TrimSpace(tail)
	if i := strings.IndexByte(optsRaw, '#'); i >= 0 {
		optsRaw = strings.TrimSpace(optsRaw[:i])
	}
	if strings.HasPrefix(strings.ToLower(optsRaw), "options:") {
		optsRaw = strings.TrimSpace(optsRaw[len("options:"):])
	}
	optsRaw = strings.ReplaceAll(optsRaw, ",", " ")

	f := Field{
		Name:    name,
		Type:    rawType,
		Options: map[string]string{},
	}

	switch {
	case enumRe.MatchString(rawType):
		f.Type = "enum"
		f.Enum = enumValues(enumRe.FindStringSubmatch(rawType)[1])
	case refRe.MatchString(rawType):
		f.Type = "ref"
		f.RefTarget = refRe.FindStringSubmatch(rawType)[1]
	case hasRe.MatchString(rawType):
		mm := hasRe.FindStringSubmatch(rawType)
		f.Type = mm[1]
		f.RefTarget = mm[2]
	case arrayRe.MatchString(rawType):
		f.Type = "array"
		elem := strings.TrimSpace(arrayRe.FindStringSubmatch(rawType)[1])
		f.ElemType = elem
		if em := enumRe.FindStringSubmatch(elem); em != nil {
			f.ElemType = "enum"
			f.Enum = enumValues(em[1])
		}
		if rm := refRe.FindStringSubmatch(elem); rm != nil {
			f.ElemType = "ref"
			f.RefTarget = rm[1]
		}
	case strings.ContainsAny(rawType, "[]"):
		return f, fmt.Errorf("malformed type %q", rawType)
	}

	for _, tok := range splitOptionTokens(optsRaw) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		// флаг без значения → "true"
		if !strings.Contains(tok, "=") {
			f.Options[strings.ToLower(tok)] = "true"
			continue
		}
		kv := strings.SplitN(tok, "=", 2)
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := strings.TrimSpace(kv[1])
		if len(v) >= 2 {
			if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
				v = v[1 : len(v)-1]
			}
		}
		if k != "" {
			f.Options[k] = v
		}
	}
	return f, nil
}

func enumValues(inside string) []string {
	var out []string
	for _, p := range strings.Split(inside, ",") {
		s := strings.Trim(strings.TrimSpace(p), `"'`)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadAllEntities обходит каталог и собирает сущности из всех *.dsl
func LoadAllEntities(root string) ([]*Entity, error) {
	var result []*Entity
	seen := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}

		ents, err := LoadEntities(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, e := range ents {
			if e == nil || e.Name == "" {
				return fmt.Errorf("empty entity name in %s", path)
			}
			key := strings.ToLower(e.Name)
			if prev, exists := seen[key]; exists {
				return fmt.Errorf("duplicate entity %q (files: %s, %s)", e.Name, prev, path)
			}
			seen[key] = path
			result = append(result, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
