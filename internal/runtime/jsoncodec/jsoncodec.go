package jsoncodec

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := defaultConfig.NewEncoder(w)
	return enc.Encode(v)
}

// UnmarshalMap decodes a JSON object. Numbers decode as float64.
func UnmarshalMap(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := defaultConfig.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// String renders v for log output and falls back to %v when v cannot be
// encoded.
func String(v any) string {
	data, err := defaultConfig.MarshalToString(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return data
}
