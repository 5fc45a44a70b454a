// Package rpc is the daemon's wire surface (component C7's RPC half): a
// hand-rolled grpc.ServiceDesc for the Negotiator service. There is no .proto
// file behind it — the request/response shapes are plain Go structs encoded
// with the same encoding/gob already used throughout the Parameter Store, so
// adding or changing a field never requires a codegen step.
package rpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated via the grpc "content-subtype" mechanism: a client
// that sets grpc.CallContentSubtype(codecName) gets this codec on both ends
// without either side forcing it globally.
const codecName = "gob"

type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
