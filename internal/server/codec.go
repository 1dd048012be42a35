package server

import "encoding/json"

// JSONCodec lets connect carry plain Go structs. It replaces connect's
// built-in "json" codec, which only accepts proto messages. Clients of
// WatchRun must use it too.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
