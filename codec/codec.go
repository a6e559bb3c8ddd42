// Package codec encodes persisted state such as reindex checkpoints.
//
// Stored blobs are produced by a named codec; changing the codec of an
// existing store makes older blobs unreadable unless the old codec is still
// selected by name.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
//
// Names of the form "<codec>+<compression>" select a compressed codec, e.g.
// "go-json+zstd".
func ByName(name string) (Codec, bool) {
	base, comp, compressed := cut(name)
	var c Codec
	switch base {
	case "json":
		c = JSON{}
	case "go-json":
		c = GoJSON{}
	default:
		return nil, false
	}
	if !compressed {
		return c, true
	}
	ct, ok := ParseCompression(comp)
	if !ok {
		return nil, false
	}
	return Compressed(c, ct), true
}

func cut(name string) (string, string, bool) {
	for i := 0; i < len(name); i++ {
		if name[i] == '+' {
			return name[:i], name[i+1:], true
		}
	}
	return name, "", false
}

// MustMarshal is a helper for tests.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
