package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type state struct {
	Since time.Time `json:"since"`
	Last  string    `json:"last"`
	Done  int64     `json:"done"`
	Notes []string  `json:"notes"`
}

func TestByName(t *testing.T) {
	for _, name := range []string{"json", "go-json", "json+lz4", "go-json+zstd", "go-json+none"} {
		c, ok := ByName(name)
		require.True(t, ok, name)
		if strings.HasSuffix(name, "+none") {
			assert.Equal(t, "go-json", c.Name())
			continue
		}
		assert.Equal(t, name, c.Name())
	}

	_, ok := ByName("gob")
	assert.False(t, ok)
	_, ok = ByName("json+brotli")
	assert.False(t, ok)
}

func TestCodecs_Interoperate(t *testing.T) {
	in := state{
		Since: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Last:  "Article:42",
		Done:  1200,
		Notes: []string{"a", "b"},
	}

	var out state
	require.NoError(t, GoJSON{}.Unmarshal(MustMarshal(JSON{}, in), &out))
	assert.Equal(t, in, out)

	out = state{}
	require.NoError(t, JSON{}.Unmarshal(MustMarshal(nil, in), &out))
	assert.Equal(t, in, out)
}

func TestCompressed(t *testing.T) {
	in := state{Last: "Article:1", Notes: make([]string, 200)}
	for i := range in.Notes {
		in.Notes[i] = "repeated note text"
	}

	for _, ct := range []Compression{CompressionLZ4, CompressionZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			c := Compressed(Default, ct)
			plain := MustMarshal(Default, in)
			packed := MustMarshal(c, in)
			assert.Less(t, len(packed), len(plain))
			assert.Equal(t, byte(ct), packed[0])

			var out state
			require.NoError(t, c.Unmarshal(packed, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestCompressBlock_IncompressibleStoredRaw(t *testing.T) {
	data := []byte("xyz")
	block, err := CompressBlock(data, CompressionZSTD)
	require.NoError(t, err)
	assert.Len(t, block, blockHeaderSize+len(data))

	out, err := DecompressBlock(block)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressBlock_Corrupt(t *testing.T) {
	_, err := DecompressBlock([]byte{1, 2})
	assert.ErrorIs(t, err, ErrCorrupt)

	block, err := CompressBlock(bytes.Repeat([]byte("a"), 1024), CompressionLZ4)
	require.NoError(t, err)
	_, err = DecompressBlock(block[:len(block)-4])
	assert.ErrorIs(t, err, ErrCorrupt)

	block[0] = 9
	_, err = DecompressBlock(block)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCompression(t *testing.T) {
	ct, ok := ParseCompression("zstd")
	assert.True(t, ok)
	assert.Equal(t, CompressionZSTD, ct)

	ct, ok = ParseCompression("")
	assert.True(t, ok)
	assert.Equal(t, CompressionNone, ct)

	_, ok = ParseCompression("snappy")
	assert.False(t, ok)
}
