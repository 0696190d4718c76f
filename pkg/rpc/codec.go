// Package rpc holds the wire contract between instances: message types, the
// JSON codec they travel in and the gRPC service descriptors for the two
// endpoints every listener registers.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// content-subtype the codec is registered under (application/grpc+json)
const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// call option selecting the JSON codec, added to every stub call
func callCodec() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
