package queue

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/drblury/eventmesh/internal/runtime/config"
	"github.com/drblury/eventmesh/internal/runtime/jsoncodec"
)

// Serializer converts queued items to and from the bytes stored in a segment.
type Serializer interface {
	Marshal(item map[string]any) ([]byte, error)
	Unmarshal(data []byte) (map[string]any, error)
}

// MsgpackSerializer keeps []byte values intact and decodes numbers as int64,
// uint64 or float64.
type MsgpackSerializer struct{}

// Marshal encodes item with msgpack.
func (MsgpackSerializer) Marshal(item map[string]any) ([]byte, error) {
	return msgpack.Marshal(item)
}

// Unmarshal decodes a msgpack block with loose interface decoding.
func (MsgpackSerializer) Unmarshal(data []byte) (map[string]any, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var item map[string]any
	if err := dec.Decode(&item); err != nil {
		return nil, err
	}
	return item, nil
}

// JSONSerializer stores human readable segments. []byte values come back as
// base64 strings and numbers as float64.
type JSONSerializer struct{}

// Marshal encodes item as JSON.
func (JSONSerializer) Marshal(item map[string]any) ([]byte, error) {
	return jsoncodec.Marshal(item)
}

// Unmarshal decodes a JSON object.
func (JSONSerializer) Unmarshal(data []byte) (map[string]any, error) {
	return jsoncodec.UnmarshalMap(data)
}

// SerializerFor returns the serializer named in the configuration.
func SerializerFor(name string) (Serializer, error) {
	switch name {
	case "", config.SerializerMsgpack:
		return MsgpackSerializer{}, nil
	case config.SerializerJSON:
		return JSONSerializer{}, nil
	default:
		return nil, fmt.Errorf("unknown queue serializer %q", name)
	}
}
