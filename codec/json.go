package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec. Its output is byte-compatible with
// GoJSON, so either can read blobs written by the other.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns "json".
func (JSON) Name() string { return "json" }

// Default is the codec used for new checkpoint blobs.
var Default Codec = GoJSON{}
