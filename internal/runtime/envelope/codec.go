package envelope

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes the map form of e as msgpack.
func Marshal(e *Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(e.ToMap())
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.id, err)
	}
	return data, nil
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (*Envelope, error) {
	m, err := DecodeMap(data)
	if err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return FromMap(m), nil
}

// DecodeMap decodes a msgpack map with int64, uint64 and float64 numbers.
func DecodeMap(data []byte) (map[string]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}
