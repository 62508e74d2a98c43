package vtov1

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// JSONCodec replaces connect's protobuf JSON codec so plain Go structs can
// travel over the Connect protocol.
type JSONCodec struct{}

var _ connect.Codec = JSONCodec{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
