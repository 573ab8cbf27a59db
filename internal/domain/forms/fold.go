package forms

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics so "Béja" and "beja" compare
// equal. It is applied both to stored search text and to queries.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// searchText is the folded text a record is matched against.
func searchText(r *Record) string {
	return Fold(strings.Join([]string{r.Code, r.Governorat, r.Structure}, " "))
}
