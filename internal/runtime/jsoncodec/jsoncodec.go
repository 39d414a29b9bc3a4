package jsoncodec

import (
	"encoding/json"
	"io"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/ast"
)

var defaultConfig = sonic.ConfigStd

// RawMessage defers decoding of a frame fragment.
type RawMessage = json.RawMessage

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := defaultConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Valid reports whether data is a well-formed JSON document.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// PeekString reads a top-level string field without decoding the whole frame.
func PeekString(data []byte, key string) (string, bool) {
	node, err := sonic.Get(data, key)
	if err != nil || !node.Exists() || node.Type() != ast.V_STRING {
		return "", false
	}
	s, err := node.String()
	if err != nil {
		return "", false
	}
	return s, true
}
