package field

import (
	"fmt"
	"html"
	"strings"
	"unicode"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/hupe1980/tsearch/source"
)

var ligatures = strings.NewReplacer(
	"œ", "oe", "Œ", "OE",
	"æ", "ae", "Æ", "AE",
	"ß", "ss",
	"ĳ", "ij", "Ĳ", "IJ",
	"ﬁ", "fi", "ﬂ", "fl", "ﬀ", "ff", "ﬃ", "ffi", "ﬄ", "ffl",
)

// Normalizer turns arbitrary values into the text stored in, and queried
// against, full-text columns.
type Normalizer struct {
	// Charset raw []byte values are decoded from. Empty means UTF-8.
	Charset string
	// Cleanup runs after entity unescaping, before any other step.
	Cleanup func(string) string
}

// Normalize decodes, unescapes, cleans, strips ligatures, replaces every
// rune that is neither a letter nor a digit nor listed in extra by a space,
// removes combining marks and lowercases.
func (n Normalizer) Normalize(v any, extra string) (string, error) {
	var s string
	switch x := v.(type) {
	case []byte:
		decoded, err := n.decode(x)
		if err != nil {
			return "", err
		}
		s = decoded
	default:
		s = source.Collapse(v)
	}
	if s == "" {
		return "", nil
	}

	s = html.UnescapeString(s)
	if n.Cleanup != nil {
		s = n.Cleanup(s)
	}
	s = ligatures.Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || strings.ContainsRune(extra, r) {
			return r
		}
		return ' '
	}, s)

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, s)
	if err != nil {
		return "", fmt.Errorf("normalize: %w", err)
	}
	return strings.ToLower(out), nil
}

func (n Normalizer) decode(b []byte) (string, error) {
	if n.Charset == "" || strings.EqualFold(n.Charset, "utf-8") || strings.EqualFold(n.Charset, "utf8") {
		return string(b), nil
	}
	enc, err := htmlindex.Get(n.Charset)
	if err != nil {
		return "", fmt.Errorf("unknown charset %q: %w", n.Charset, err)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("cannot decode value as %s: %w", n.Charset, err)
	}
	return string(out), nil
}
