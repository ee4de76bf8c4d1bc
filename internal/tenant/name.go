package tenant

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SchemaKey выводит ключ схемы из имени арендатора:
// нижний регистр, без диакритики, первые буквы всех слов; одно слово остаётся целиком.
// "Acme Corp" -> "ac", "Café Société Générale" -> "csg", "Solo" -> "solo".
func SchemaKey(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	clean, _, err := transform.String(t, strings.ToLower(name))
	if err != nil {
		clean = strings.ToLower(name)
	}
	words := strings.Fields(clean)
	if len(words) == 0 {
		return ""
	}
	if len(words) == 1 {
		return words[0]
	}
	var b strings.Builder
	for _, w := range words {
		r := []rune(w)
		b.WriteRune(r[0])
	}
	return b.String()
}
