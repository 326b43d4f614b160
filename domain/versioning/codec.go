package versioning

import (
	jsoniter "github.com/json-iterator/go"
)

// Codec turns whole records and collections into text and back. It is used
// for values that are created or deleted wholesale.
type Codec interface {
	Marshal(v any) (string, error)
	Unmarshal(text string, target any) error
}

// JSONCodec is the default Codec. Map keys are written in sorted order so the
// same value always yields the same text.
type JSONCodec struct {
	api jsoniter.API
}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}
}

// Marshal implements Codec
func (c *JSONCodec) Marshal(v any) (string, error) {
	return c.api.MarshalToString(v)
}

// Unmarshal implements Codec
func (c *JSONCodec) Unmarshal(text string, target any) error {
	return c.api.UnmarshalFromString(text, target)
}
