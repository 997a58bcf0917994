package slug

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// transliterate folds the accented Latin letters seen in storefront copy
// to ASCII.
var transliterate = strings.NewReplacer(
	"ç", "c", "ğ", "g", "ı", "i", "ö", "o", "ş", "s", "ü", "u",
	"á", "a", "à", "a", "â", "a", "ä", "a", "ã", "a", "å", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "õ", "o", "ø", "o",
	"ú", "u", "ù", "u", "û", "u",
	"ñ", "n", "ß", "ss",
)

// Generate lower-cases name, folds accents and joins the remaining
// alphanumeric runs with single hyphens.
//
//	"Summer Sale 2026!" → "summer-sale-2026"
//	"Çocuk Ürünleri"    → "cocuk-urunleri"
func Generate(name string) string {
	s := transliterate.Replace(strings.ToLower(strings.TrimSpace(name)))
	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Truncate cuts s to at most max bytes without leaving a trailing hyphen.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimRight(s[:max], "-")
}
